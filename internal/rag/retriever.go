package rag

import (
	"context"
	"fmt"

	"ragstore/internal/embedding"
	"ragstore/internal/vectorstore"
)

const (
	// BasicTopK is the number of chunks the basic retriever returns
	BasicTopK = 3
	// HybridTopK is the number of chunks the hybrid retriever returns
	HybridTopK = 5
)

// Retriever finds the chunks most relevant to a query
type Retriever struct {
	embedder embedding.Embedder
	store    vectorstore.VectorStore
	topK     int
}

// NewRetriever creates a retriever returning topK chunks. A non-positive
// topK means BasicTopK.
func NewRetriever(embedder embedding.Embedder, store vectorstore.VectorStore, topK int) *Retriever {
	if topK <= 0 {
		topK = BasicTopK
	}
	return &Retriever{embedder: embedder, store: store, topK: topK}
}

// TopK returns the number of chunks requested per query
func (r *Retriever) TopK() int {
	return r.topK
}

// Search returns the matching documents with their scores
func (r *Retriever) Search(ctx context.Context, query string, filters vectorstore.Filters) ([]vectorstore.Document, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	docs, err := r.store.SimilaritySearch(ctx, vec, r.topK, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector store: %w", err)
	}
	return docs, nil
}

// Retrieve returns the text of the matching chunks, best first
func (r *Retriever) Retrieve(ctx context.Context, query string, filters vectorstore.Filters) ([]string, error) {
	docs, err := r.Search(ctx, query, filters)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}
	return texts, nil
}
