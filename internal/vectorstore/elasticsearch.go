package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"ragstore/internal/logging"
)

// DefaultEmbeddingDim is used when ElasticsearchConfig.EmbeddingDim is zero
const DefaultEmbeddingDim = 768

const scoreScript = "cosineSimilarity(params.query_vector, 'vector') + 1.0"

// ElasticsearchConfig configures an ElasticsearchStore
type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	APIKey   string

	IndexName    string
	EmbeddingDim int

	// ExtraMappings are merged into the index properties at creation time.
	// Their keys are accepted as metadata fields.
	ExtraMappings map[string]any
	// MetadataFields declares further accepted metadata keys. When both this
	// and ExtraMappings are empty any non-reserved key is accepted.
	MetadataFields []string

	// Refresh is passed to the bulk API: "", "true", "false" or "wait_for".
	Refresh string

	Logger    logrus.FieldLogger
	Transport http.RoundTripper
}

// ElasticsearchStore stores documents in an Elasticsearch index and ranks
// them by cosine similarity with a script_score query.
//
// Writes become searchable after the index refreshes, so a search issued
// right after AddDocuments may not see them unless Refresh is "true" or
// "wait_for".
type ElasticsearchStore struct {
	client   *elasticsearch.Client
	index    string
	dim      int
	refresh  string
	validate validator
	log      logrus.FieldLogger
}

// NewElasticsearchStore connects to the engine and creates the index if it
// does not exist yet. An existing index is reused without checking its
// mapping.
func NewElasticsearchStore(ctx context.Context, cfg ElasticsearchConfig) (*ElasticsearchStore, error) {
	if cfg.IndexName == "" {
		return nil, errors.New("elasticsearch: index name is required")
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = DefaultEmbeddingDim
	}
	if cfg.EmbeddingDim < 0 {
		return nil, fmt.Errorf("elasticsearch: invalid embedding dimension %d", cfg.EmbeddingDim)
	}
	switch cfg.Refresh {
	case "", "true", "false", "wait_for":
	default:
		return nil, fmt.Errorf("elasticsearch: invalid refresh policy %q", cfg.Refresh)
	}
	for key := range cfg.ExtraMappings {
		if isReserved(key) {
			return nil, fmt.Errorf("elasticsearch: extra mapping %q overrides a reserved field", key)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.URL == "" {
		cfg.URL = "http://localhost:9200"
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{cfg.URL},
		Username:     cfg.Username,
		Password:     cfg.Password,
		APIKey:       cfg.APIKey,
		Transport:    cfg.Transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, newStoreError("connect", cfg.IndexName, fmt.Errorf("%w: %v", ErrConnection, err))
	}

	s := &ElasticsearchStore{
		client:   client,
		index:    cfg.IndexName,
		dim:      cfg.EmbeddingDim,
		refresh:  cfg.Refresh,
		validate: newValidator(cfg.EmbeddingDim, cfg.MetadataFields, cfg.ExtraMappings).requireMagnitude(),
		log:      cfg.Logger.WithFields(logrus.Fields{"component": "elasticsearch", "index": cfg.IndexName}),
	}

	s.log.WithField("url", cfg.URL).Info("connecting to elasticsearch")
	if err := s.ensureIndex(ctx, cfg.ExtraMappings); err != nil {
		return nil, err
	}
	return s, nil
}

// IndexName returns the name of the backing index
func (s *ElasticsearchStore) IndexName() string {
	return s.index
}

// Dimension returns the configured embedding dimension
func (s *ElasticsearchStore) Dimension() int {
	return s.dim
}

// AcceptsMetadata reports whether AddDocuments will accept key as a
// metadata field
func (s *ElasticsearchStore) AcceptsMetadata(key string) bool {
	return s.validate.accepts(key)
}

func (s *ElasticsearchStore) ensureIndex(ctx context.Context, extra map[string]any) error {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return newStoreError("index_exists", s.index, fmt.Errorf("%w: %v", ErrConnection, err))
	}
	drain(res)

	switch res.StatusCode {
	case http.StatusOK:
		s.log.Info("index already exists")
		return nil
	case http.StatusNotFound:
		s.log.Info("index does not exist, creating it")
		return s.createIndex(ctx, extra)
	default:
		return newStoreError("index_exists", s.index, fmt.Errorf("%w: unexpected status %d", ErrConnection, res.StatusCode))
	}
}

func indexMapping(dim int, extra map[string]any) map[string]any {
	properties := map[string]any{}
	for k, v := range extra {
		properties[k] = v
	}
	properties[FieldText] = map[string]any{"type": "text"}
	properties[FieldVector] = map[string]any{
		"type":       "dense_vector",
		"dims":       dim,
		"index":      true,
		"similarity": "cosine",
	}
	properties[FieldDocID] = map[string]any{"type": "keyword"}
	return map[string]any{
		"mappings": map[string]any{"properties": properties},
	}
}

func (s *ElasticsearchStore) createIndex(ctx context.Context, extra map[string]any) error {
	body, err := json.Marshal(indexMapping(s.dim, extra))
	if err != nil {
		return newStoreError("create_index", s.index, fmt.Errorf("%w: %v", ErrConnection, err))
	}
	s.log.WithField("mapping", string(body)).Debug("creating index")

	res, err := s.client.Indices.Create(s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return newStoreError("create_index", s.index, fmt.Errorf("%w: %v", ErrConnection, err))
	}
	defer drain(res)

	if res.IsError() {
		msg := responseText(res)
		// Another process created it between the existence check and now.
		if strings.Contains(msg, "resource_already_exists_exception") {
			s.log.Info("index was created concurrently, reusing it")
			return nil
		}
		return newStoreError("create_index", s.index, fmt.Errorf("%w: %s", ErrConnection, msg))
	}

	s.log.Info("index created")
	return nil
}

type bulkResponse struct {
	Errors bool                  `json:"errors"`
	Items  []map[string]bulkItem `json:"items"`
}

type bulkItem struct {
	ID     string     `json:"_id"`
	Status int        `json:"status"`
	Error  *itemError `json:"error,omitempty"`
}

type itemError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// AddDocuments validates every document, then indexes the batch with a
// single bulk request. Documents the engine rejects are reported in their
// WriteResult and through a *BulkError.
func (s *ElasticsearchStore) AddDocuments(ctx context.Context, docs []Document) ([]WriteResult, error) {
	log := s.log.WithField("count", len(docs))
	if err := s.validate.documents(docs); err != nil {
		log.WithError(err).Error("rejecting batch")
		return nil, err
	}
	if len(docs) == 0 {
		return []WriteResult{}, nil
	}

	log.Info("adding documents")

	results := make([]WriteResult, len(docs))
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, doc := range docs {
		id := uuid.NewString()
		results[i].ID = id
		action := map[string]any{"index": map[string]any{"_index": s.index, "_id": id}}
		if err := enc.Encode(action); err != nil {
			return nil, newStoreError("add_documents", s.index, fmt.Errorf("%w: %v", ErrBackend, err))
		}
		if err := enc.Encode(doc.record(id)); err != nil {
			return nil, newStoreError("add_documents", s.index, fmt.Errorf("%w: %v", ErrBackend, err))
		}
	}

	opts := []func(*esapi.BulkRequest){
		s.client.Bulk.WithContext(ctx),
		s.client.Bulk.WithIndex(s.index),
	}
	if s.refresh != "" {
		opts = append(opts, s.client.Bulk.WithRefresh(s.refresh))
	}

	log.Debug("bulk indexing")
	res, err := s.client.Bulk(bytes.NewReader(buf.Bytes()), opts...)
	if err != nil {
		return nil, newStoreError("add_documents", s.index, fmt.Errorf("%w: %v", ErrBackend, err))
	}
	defer drain(res)

	if res.IsError() {
		return nil, newStoreError("add_documents", s.index, fmt.Errorf("%w: %s", ErrBackend, responseText(res)))
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, newStoreError("add_documents", s.index, fmt.Errorf("%w: decode bulk response: %v", ErrBackend, err))
	}
	if len(parsed.Items) != len(docs) {
		return nil, newStoreError("add_documents", s.index,
			fmt.Errorf("%w: bulk response has %d items for %d documents", ErrBackend, len(parsed.Items), len(docs)))
	}

	var itemErrs error
	failed := 0
	for i, entry := range parsed.Items {
		for _, item := range entry {
			if item.Error == nil && item.Status < 300 {
				continue
			}
			itemErr := fmt.Errorf("document %d (%s): status %d", i, results[i].ID, item.Status)
			if item.Error != nil {
				itemErr = fmt.Errorf("document %d (%s): %s: %s", i, results[i].ID, item.Error.Type, item.Error.Reason)
			}
			results[i].Err = itemErr
			itemErrs = multierr.Append(itemErrs, itemErr)
			failed++
		}
	}

	if failed > 0 {
		log.WithField("failed", failed).Error("bulk indexing partially failed")
		return results, &BulkError{Index: s.index, Failed: failed, Total: len(docs), Err: itemErrs}
	}

	log.Info("documents added")
	return results, nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string         `json:"_id"`
			Score  *float64       `json:"_score"`
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func searchBody(vector []float32, k int, filters Filters) map[string]any {
	base := map[string]any{"match_all": map[string]any{}}
	if len(filters) > 0 {
		clauses := make([]any, 0, len(filters))
		for _, key := range sortedKeys(filters) {
			value := filters[key]
			if values, _ := filterValues(value); values != nil {
				clauses = append(clauses, map[string]any{"terms": map[string]any{key: values}})
			} else {
				clauses = append(clauses, map[string]any{"term": map[string]any{key: value}})
			}
		}
		base = map[string]any{"bool": map[string]any{"filter": clauses}}
	}

	return map[string]any{
		"size":         k,
		"track_scores": true,
		"query": map[string]any{
			"script_score": map[string]any{
				"query": base,
				"script": map[string]any{
					"source": scoreScript,
					"params": map[string]any{"query_vector": vector},
				},
			},
		},
		"sort": []any{
			map[string]any{"_score": map[string]any{"order": "desc"}},
			map[string]any{FieldDocID: map[string]any{"order": "asc", "unmapped_type": "keyword"}},
		},
	}
}

// SimilaritySearch ranks the documents matching filters by cosine
// similarity to vector, shifted by +1 so scores are never negative.
// Equal scores are ordered by document ID.
func (s *ElasticsearchStore) SimilaritySearch(ctx context.Context, vector []float32, k int, filters Filters) ([]Document, error) {
	log := s.log.WithFields(logrus.Fields{"k": k, "filters": len(filters)})
	if err := s.validate.query(vector, k, filters); err != nil {
		log.WithError(err).Error("rejecting query")
		return nil, err
	}

	body, err := json.Marshal(searchBody(vector, k, filters))
	if err != nil {
		return nil, newStoreError("similarity_search", s.index, fmt.Errorf("%w: %v", ErrBackend, err))
	}
	log.WithField("query", string(body)).Debug("searching")

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, newStoreError("similarity_search", s.index, fmt.Errorf("%w: %v", ErrBackend, err))
	}
	defer drain(res)

	if res.IsError() {
		return nil, newStoreError("similarity_search", s.index, fmt.Errorf("%w: %s", ErrBackend, responseText(res)))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, newStoreError("similarity_search", s.index, fmt.Errorf("%w: decode search response: %v", ErrBackend, err))
	}

	docs := make([]Document, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		var score float64
		if hit.Score != nil {
			score = *hit.Score
		}
		docs = append(docs, fromRecord(hit.ID, score, hit.Source))
	}

	log.WithField("hits", len(docs)).Info("similarity search done")
	return docs, nil
}

// Count returns the number of documents visible to search
func (s *ElasticsearchStore) Count(ctx context.Context) (int, error) {
	res, err := s.client.Count(
		s.client.Count.WithContext(ctx),
		s.client.Count.WithIndex(s.index),
	)
	if err != nil {
		return 0, newStoreError("count", s.index, fmt.Errorf("%w: %v", ErrBackend, err))
	}
	defer drain(res)

	if res.IsError() {
		return 0, newStoreError("count", s.index, fmt.Errorf("%w: %s", ErrBackend, responseText(res)))
	}

	var parsed struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, newStoreError("count", s.index, fmt.Errorf("%w: decode count response: %v", ErrBackend, err))
	}
	return parsed.Count, nil
}

// Refresh makes all prior writes visible to search
func (s *ElasticsearchStore) Refresh(ctx context.Context) error {
	res, err := s.client.Indices.Refresh(
		s.client.Indices.Refresh.WithContext(ctx),
		s.client.Indices.Refresh.WithIndex(s.index),
	)
	if err != nil {
		return newStoreError("refresh", s.index, fmt.Errorf("%w: %v", ErrBackend, err))
	}
	defer drain(res)

	if res.IsError() {
		return newStoreError("refresh", s.index, fmt.Errorf("%w: %s", ErrBackend, responseText(res)))
	}
	return nil
}

func responseText(res *esapi.Response) string {
	if res.Body == nil {
		return res.Status()
	}
	data, err := io.ReadAll(res.Body)
	if err != nil || len(data) == 0 {
		return res.Status()
	}
	return fmt.Sprintf("%s: %s", res.Status(), bytes.TrimSpace(data))
}

func drain(res *esapi.Response) {
	if res != nil && res.Body != nil {
		_, _ = io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}
}
