// Package embeddings turns text into sentence-embedding vectors.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Embed generates an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one model call.
	// The result has one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelVersion returns the model identifier.
	ModelVersion() string

	// Dimensions returns the embedding vector dimension.
	Dimensions() int

	// Close releases resources held by the embedder.
	Close() error
}

var (
	// ErrModelLoad wraps every failure to bring the model into memory.
	ErrModelLoad = errors.New("model load failed")

	// ErrModelNotCached is returned in offline mode when the weights are
	// not already on disk.
	ErrModelNotCached = errors.New("model weights not in cache")

	// ErrShapeMismatch is returned when the runtime hands back the wrong
	// number of vectors or vectors of the wrong length.
	ErrShapeMismatch = errors.New("embedding shape mismatch")
)

// CheckShape verifies that vectors holds want vectors of dims values each.
func CheckShape(vectors [][]float32, want, dims int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: got %d vectors for %d texts", ErrShapeMismatch, len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrShapeMismatch, i, len(v), dims)
		}
	}
	return nil
}
