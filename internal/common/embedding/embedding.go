// Package embedding turns text into vectors for the schema catalog.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"nlquery/internal/common/config"
	"nlquery/internal/common/logger"
)

// Embedder produces vectors for catalog documents and for search queries.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// New builds the configured provider, wrapped in a Redis cache when rdb is set and
// cfg.CacheTTL is positive.
func New(ctx context.Context, cfg config.EmbeddingConfig, rdb *redis.Client, log logger.Logger) (Embedder, error) {
	var (
		embedder Embedder
		err      error
	)

	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		embedder = NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimensions, config.GetDuration(cfg.Timeout))
	case config.ProviderGemini:
		embedder, err = NewGeminiEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.Dimensions)
	default:
		err = fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if rdb != nil && cfg.CacheTTL > 0 {
		embedder = NewCachedEmbedder(embedder, rdb, cfg.Provider+":"+cfg.Model, time.Duration(cfg.CacheTTL)*time.Second, log)
	}
	return embedder, nil
}
