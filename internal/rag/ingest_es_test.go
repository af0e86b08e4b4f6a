package rag

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragstore/internal/document"
	"ragstore/internal/embedding"
	"ragstore/internal/vectorstore"
)

// bulkRecorder is an Elasticsearch stand-in that reports the index as
// existing and records every bulk-indexed source.
type bulkRecorder struct {
	mu      sync.Mutex
	bulks   int
	sources []map[string]any
}

func (b *bulkRecorder) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/docs":
		w.WriteHeader(http.StatusOK)
	case r.URL.Path == "/docs/_bulk":
		b.mu.Lock()
		defer b.mu.Unlock()
		b.bulks++
		var items []any
		scanner := bufio.NewScanner(r.Body)
		for scanner.Scan() {
			var action map[string]map[string]any
			if err := json.Unmarshal(scanner.Bytes(), &action); err != nil || !scanner.Scan() {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			var src map[string]any
			if err := json.Unmarshal(scanner.Bytes(), &src); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			b.sources = append(b.sources, src)
			items = append(items, map[string]any{"index": map[string]any{"_id": action["index"]["_id"], "status": 201}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"errors": false, "items": items})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func newAllowListIngester(t *testing.T, fields ...string) (*Ingester, *bulkRecorder) {
	t.Helper()
	rec := &bulkRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.serve))
	t.Cleanup(srv.Close)

	store, err := vectorstore.NewElasticsearchStore(context.Background(), vectorstore.ElasticsearchConfig{
		URL:            srv.URL,
		IndexName:      "docs",
		EmbeddingDim:   dim,
		MetadataFields: fields,
	})
	require.NoError(t, err)

	embedder, err := embedding.NewHashEmbedder(dim)
	require.NoError(t, err)
	return NewIngester(nil, embedder, store, nil), rec
}

func TestIngester_AllowListedStoreDropsChunkMetadata(t *testing.T) {
	ingester, rec := newAllowListIngester(t, "category")

	results, err := ingester.Ingest(context.Background(), document.LoadFromString("alpha\n\nbeta", nil), map[string]any{"category": "a"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, 1, rec.bulks)
	require.Len(t, rec.sources, 2)
	for _, src := range rec.sources {
		assert.Equal(t, "a", src["category"])
		assert.NotContains(t, src, "chunk_index")
		assert.NotContains(t, src, "parent_id")
	}
}

func TestIngester_AllowListedStoreKeepsDeclaredChunkMetadata(t *testing.T) {
	ingester, rec := newAllowListIngester(t, "category", "chunk_index")

	_, err := ingester.Ingest(context.Background(), document.LoadFromString("alpha\n\nbeta", nil), map[string]any{"category": "a"})
	require.NoError(t, err)

	require.Len(t, rec.sources, 2)
	assert.EqualValues(t, 1, rec.sources[1]["chunk_index"])
	assert.NotContains(t, rec.sources[1], "parent_id")
}

func TestIngester_AllowListedStoreRejectsUndeclaredCallerMetadata(t *testing.T) {
	ingester, rec := newAllowListIngester(t, "category")

	_, err := ingester.Ingest(context.Background(), document.LoadFromString("alpha", nil), map[string]any{"color": "red"})
	assert.ErrorIs(t, err, vectorstore.ErrInvalidDocument)
	assert.Zero(t, rec.bulks)
}
