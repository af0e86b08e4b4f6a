package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"ragstore/internal/document"
	"ragstore/internal/embedding"
	"ragstore/internal/logging"
	"ragstore/internal/vectorstore"
)

// ErrNoChunks is returned when a document produces no chunks
var ErrNoChunks = errors.New("document produced no chunks")

// Ingester chunks documents, embeds the chunks and writes them to a store
type Ingester struct {
	chunker  document.Chunker
	embedder embedding.Embedder
	store    vectorstore.VectorStore
	log      logrus.FieldLogger
}

// NewIngester creates an ingester. A nil chunker splits on paragraphs.
func NewIngester(chunker document.Chunker, embedder embedding.Embedder, store vectorstore.VectorStore, log logrus.FieldLogger) *Ingester {
	if chunker == nil {
		chunker = document.ChunkParagraphs
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Ingester{chunker: chunker, embedder: embedder, store: store, log: log}
}

// Ingest stores every chunk of doc. extra metadata is added to each chunk.
// When the store rejects some chunks the results are returned together
// with the error.
func (i *Ingester) Ingest(ctx context.Context, doc *document.Document, extra map[string]any) ([]vectorstore.WriteResult, error) {
	chunks := i.chunker(doc)
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	texts := make([]string, len(chunks))
	for j, chunk := range chunks {
		texts[j] = chunk.Content
	}

	vectors, err := i.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	dropped := i.droppedKeys()
	docs := make([]vectorstore.Document, len(chunks))
	for j, chunk := range chunks {
		meta := make(map[string]any, len(chunk.Metadata)+len(extra))
		for k, v := range chunk.Metadata {
			if _, skip := dropped[k]; skip {
				continue
			}
			meta[k] = v
		}
		for k, v := range extra {
			meta[k] = v
		}
		docs[j] = vectorstore.Document{Text: chunk.Content, Vector: vectors[j], Metadata: meta}
	}

	i.log.WithFields(logrus.Fields{"document": doc.ID, "chunks": len(docs)}).Info("ingesting document")
	results, err := i.store.AddDocuments(ctx, docs)
	if err != nil {
		return results, fmt.Errorf("failed to store chunks: %w", err)
	}
	return results, nil
}

// droppedKeys returns the chunk metadata keys added by the document
// package that the store does not accept. Keys supplied by the caller are
// never dropped.
func (i *Ingester) droppedKeys() map[string]struct{} {
	checker, ok := i.store.(vectorstore.MetadataChecker)
	if !ok {
		return nil
	}
	var dropped map[string]struct{}
	for _, key := range document.MetadataKeys {
		if checker.AcceptsMetadata(key) {
			continue
		}
		if dropped == nil {
			dropped = make(map[string]struct{})
		}
		dropped[key] = struct{}{}
	}
	if len(dropped) > 0 {
		i.log.WithField("keys", sortedSet(dropped)).Debug("store does not accept chunk metadata, dropping it")
	}
	return dropped
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
