package hash_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/embedder/hash"
)

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestEmbedIsDeterministicAndNormalized(t *testing.T) {
	e := hash.New(64)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "User prefers dark mode")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "user prefers DARK mode!")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 64)
	assert.InDelta(t, 1.0, cosine(v1, v1), 1e-9)
}

func TestEmbedSharedWordsAreCloser(t *testing.T) {
	e := hash.New(256)
	ctx := context.Background()

	base, _ := e.Embed(ctx, "deploy the payment service to production")
	near, _ := e.Embed(ctx, "deploy the payment service to staging")
	far, _ := e.Embed(ctx, "grandma bakes apple pie")

	assert.Greater(t, cosine(base, near), cosine(base, far))
}

func TestEmbedEmptyText(t *testing.T) {
	v, err := hash.New(16).Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Len(t, v, 16)
}
