// Package embedding produces vector embeddings for RAG chunk text using
// an ONNX-based local embedder (no network call per chunk), with a
// deterministic fallback for deployments that configure no ONNX model.
package embedding

import "context"

// Embedder produces fixed-dimension vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
