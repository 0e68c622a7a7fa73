package mock

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestEmbed_Deterministic(t *testing.T) {
	e := New(0)
	assert.Equal(t, DefaultDimensions, e.Dimensions())

	a, err := e.Embed(context.Background(), "Solana is fast")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "solana, IS fast!")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, DefaultDimensions)
}

func TestEmbed_Normalized(t *testing.T) {
	e := New(64)
	for _, text := range []string{"", "one", "many many words here"} {
		v, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.InDelta(t, 1, math.Sqrt(cosine(v, v)), 1e-5, "text %q", text)
	}
}

func TestEmbed_SharedTokensAreCloser(t *testing.T) {
	e := New(0)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "tell me about solana")
	near, _ := e.Embed(ctx, "thinking about investing in solana")
	far, _ := e.Embed(ctx, "weather tomorrow")

	assert.Greater(t, cosine(q, near), cosine(q, far))
	assert.Greater(t, cosine(q, near), 0.0)
}

func TestEmbed_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(0).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"i", "m", "on", "solana", "2"}, Tokenize("I'm on #Solana-2"))
	assert.Empty(t, Tokenize("  ?! "))
}
