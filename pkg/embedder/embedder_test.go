package embedder_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/embedder"
	"github.com/oceanbase/recall-go/pkg/embedder/hash"
)

type countingProvider struct {
	*hash.Embedder
	calls atomic.Int32
	fail  bool
}

func (p *countingProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	p.calls.Add(1)
	if p.fail {
		return nil, errors.New("upstream down")
	}
	return p.Embedder.Embed(ctx, text)
}

func (p *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	p.calls.Add(1)
	return p.Embedder.EmbedBatch(ctx, texts)
}

func TestCachedProviderHitsCache(t *testing.T) {
	upstream := &countingProvider{Embedder: hash.New(32)}
	cached, err := embedder.NewCachedProvider(upstream, nil)
	require.NoError(t, err)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	first, err := cached.Embed(ctx, "dark mode")
	require.NoError(t, err)
	cached.Wait()

	second, err := cached.Embed(ctx, "dark mode")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), upstream.calls.Load())

	// Returned vectors are copies.
	second[0] = 42
	third, err := cached.Embed(ctx, "dark mode")
	require.NoError(t, err)
	assert.NotEqual(t, 42.0, third[0])
}

func TestCachedProviderBatchOnlyEmbedsMisses(t *testing.T) {
	upstream := &countingProvider{Embedder: hash.New(32)}
	cached, err := embedder.NewCachedProvider(upstream, &embedder.CacheConfig{MaxEntries: 100})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cached.Embed(ctx, "a")
	require.NoError(t, err)
	cached.Wait()

	vectors, err := cached.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, 32, len(vectors[1]))
	assert.Equal(t, int32(2), upstream.calls.Load())
}

func TestCachedProviderPropagatesErrors(t *testing.T) {
	upstream := &countingProvider{Embedder: hash.New(8), fail: true}
	cached, err := embedder.NewCachedProvider(upstream, nil)
	require.NoError(t, err)

	_, err = cached.Embed(context.Background(), "x")
	assert.Error(t, err)
}
