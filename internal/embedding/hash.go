package embedding

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic stand-in for an embedding model. Each
// lower-cased token is hashed into one of dim buckets with a signed weight
// and the result is L2-normalised, so texts sharing tokens point in similar
// directions.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hash embedder producing dim-length vectors
func NewHashEmbedder(dim int) (*HashEmbedder, error) {
	if dim <= 0 {
		return nil, errors.New("embedding dimension must be positive")
	}
	return &HashEmbedder{dim: dim}, nil
}

// Dimension returns the vector length
func (h *HashEmbedder) Dimension() int {
	return h.dim
}

// Embed generates an embedding for the given text
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, h.dim)
	for _, token := range tokenize(text) {
		hasher := fnv.New64a()
		hasher.Write([]byte(token))
		sum := hasher.Sum64()

		bucket := int(sum % uint64(h.dim))
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	if isZero(vec) {
		// cosine similarity is undefined for zero vectors
		hasher := fnv.New64a()
		hasher.Write([]byte(text))
		vec[int(hasher.Sum64()%uint64(h.dim))] = 1
	}
	return normalize(vec), nil
}

// EmbedBatch generates embeddings for multiple texts
func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := h.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
