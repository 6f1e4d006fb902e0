package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	*HashEmbedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.HashEmbedder.Embed(ctx, text)
}

func TestHashEmbedder_SimilarTextsScoreHigher(t *testing.T) {
	h := NewHashEmbedder(128)
	ctx := context.Background()

	q, _ := h.Embed(ctx, "the user prefers dark mode")
	near, _ := h.Embed(ctx, "User prefers DARK mode in editors")
	far, _ := h.Embed(ctx, "deploy pipeline uses kubernetes")

	assert.Len(t, q, 128)
	assert.Greater(t, Cosine(q, near), Cosine(q, far))
	assert.InDelta(t, 1.0, Cosine(q, q), 1e-6)
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	h := NewHashEmbedder(0)
	a, _ := h.Embed(context.Background(), "same text")
	b, _ := h.Embed(context.Background(), "same text")
	assert.Equal(t, a, b)
	assert.Equal(t, 256, h.Dimension())
}

func TestCosine_Degenerate(t *testing.T) {
	assert.Zero(t, Cosine(nil, nil))
	assert.Zero(t, Cosine([]float32{1, 0}, []float32{1}))
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 0}))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"go", "1", "23", "is", "fun"}, Tokenize("Go 1.23 is fun!"))
}

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(32)}
	c, err := NewCachedEmbedder(inner, CacheConfig{MaxEntries: 100})
	require.NoError(t, err)
	defer c.Close()

	first, err := c.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	c.Wait()

	second, err := c.Embed(context.Background(), "hello world")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, "hash", c.Model())
	assert.Equal(t, uint64(1), c.Stats().Hits)
}
