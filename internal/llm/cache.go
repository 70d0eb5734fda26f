package llm

import (
	"context"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder memoises embeddings by exact text. The same user message is
// embedded for retrieval and, when it is stored verbatim, again for the write.
type CachedEmbedder struct {
	next  EmbeddingProvider
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps next with a cache bounded to maxCost bytes of vectors.
func NewCachedEmbedder(next EmbeddingProvider, maxCost int64) (*CachedEmbedder, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * (maxCost/1024 + 1),
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, int64(len(vec)*4))
	return vec, nil
}

// Wait blocks until pending cache writes are applied.
func (c *CachedEmbedder) Wait() { c.cache.Wait() }

func (c *CachedEmbedder) Close() { c.cache.Close() }
