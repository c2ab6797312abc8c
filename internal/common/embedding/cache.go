package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"nlquery/internal/common/logger"
	"nlquery/internal/common/metrics"
)

const cacheKeyPrefix = "nlq:embedding:"

// CachedEmbedder memoizes query embeddings in Redis. Document embeddings are only produced
// by the indexer and bypass the cache. Cache failures never fail the embedding call.
type CachedEmbedder struct {
	inner  Embedder
	rdb    *redis.Client
	model  string
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedEmbedder(inner Embedder, rdb *redis.Client, model string, ttl time.Duration, log logger.Logger) *CachedEmbedder {
	return &CachedEmbedder{
		inner:  inner,
		rdb:    rdb,
		model:  model,
		ttl:    ttl,
		logger: logger.Component(log, "embedding-cache"),
	}
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	cached, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vec []float32
		if jsonErr := json.Unmarshal(cached, &vec); jsonErr == nil && len(vec) > 0 {
			metrics.EmbeddingCacheLookups.WithLabelValues("hit").Inc()
			return vec, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("embedding cache read failed", map[string]interface{}{"error": err.Error()})
	}
	metrics.EmbeddingCacheLookups.WithLabelValues("miss").Inc()

	vec, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(vec); err == nil {
		if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("embedding cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return vec, nil
}

func (c *CachedEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return c.inner.EmbedDocument(ctx, text)
}

func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cacheKeyPrefix + c.model + ":" + hex.EncodeToString(sum[:])
}
