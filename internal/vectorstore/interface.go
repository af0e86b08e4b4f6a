package vectorstore

import "context"

// VectorStore defines the interface for vector storage and retrieval
type VectorStore interface {
	// AddDocuments validates the whole batch, then writes it. The returned
	// results are in input order, one per document.
	AddDocuments(ctx context.Context, docs []Document) ([]WriteResult, error)

	// SimilaritySearch returns the k best matches for vector, restricted
	// to documents matching every filter.
	SimilaritySearch(ctx context.Context, vector []float32, k int, filters Filters) ([]Document, error)
}

// WriteResult is the outcome of writing a single document
type WriteResult struct {
	ID  string
	Err error
}

// Filters maps a stored field to the value it must equal. A slice value
// matches when the field equals any of its elements.
type Filters map[string]any

// MetadataChecker is implemented by stores that restrict which metadata
// keys they accept
type MetadataChecker interface {
	AcceptsMetadata(key string) bool
}
