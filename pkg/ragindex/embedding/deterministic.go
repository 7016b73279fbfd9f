package embedding

import (
	"context"
	"math"
)

// DeterministicEmbedder derives a fixed-dimension unit vector from a text
// hash rather than running a model. It is the default when no ONNX model
// path is configured, and gives the index something stable and
// self-consistent to rank by without depending on any external embedding
// service or a bundled model file.
type DeterministicEmbedder struct {
	dimensions int
}

// NewDeterministicEmbedder returns an embedder producing dimensions-wide
// unit vectors.
func NewDeterministicEmbedder(dimensions int) *DeterministicEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &DeterministicEmbedder{dimensions: dimensions}
}

func (e *DeterministicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := hashString(text)
	vec := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		vec[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	normalizeL2(vec)
	return vec, nil
}

func (e *DeterministicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *DeterministicEmbedder) Dimensions() int { return e.dimensions }

func (e *DeterministicEmbedder) Close() error { return nil }

func normalizeL2(x []float32) {
	var sum float32
	for _, v := range x {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range x {
		x[i] *= norm
	}
}
