package embedding

import "context"

// Embedder turns text into fixed-length vectors
type Embedder interface {
	// Dimension returns the length of every vector the embedder produces.
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
