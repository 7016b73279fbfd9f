package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicEmbedder_SameTextSameVector(t *testing.T) {
	e := NewDeterministicEmbedder(32)
	v1, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 32)
}

func TestDeterministicEmbedder_DifferentTextDifferentVector(t *testing.T) {
	e := NewDeterministicEmbedder(16)
	v1, _ := e.Embed(context.Background(), "alpha")
	v2, _ := e.Embed(context.Background(), "beta")
	assert.NotEqual(t, v1, v2)
}

func TestDeterministicEmbedder_UnitNorm(t *testing.T) {
	e := NewDeterministicEmbedder(8)
	v, _ := e.Embed(context.Background(), "norm check")
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	assert.InDelta(t, 1.0, sum, 0.01)
}

func TestEmbeddingCache_EvictsOldest(t *testing.T) {
	c := newCache(2)
	c.set("a", []float32{1})
	c.set("b", []float32{2})
	c.set("c", []float32{3})
	_, ok := c.get("a")
	assert.False(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
}
