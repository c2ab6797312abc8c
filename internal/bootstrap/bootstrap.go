// Package bootstrap builds the shared clients and both pipelines from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"nlquery/internal/api"
	"nlquery/internal/common/config"
	"nlquery/internal/common/database"
	"nlquery/internal/common/embedding"
	"nlquery/internal/common/llm"
	"nlquery/internal/common/logger"
	"nlquery/internal/common/observability"
	"nlquery/internal/history"
	"nlquery/internal/indexer"
	"nlquery/internal/nlq/executor"
	"nlquery/internal/nlq/pipeline"
	"nlquery/internal/nlq/retrieval"
	"nlquery/internal/nlq/summarizer"
	"nlquery/internal/nlq/synthesis"
	"nlquery/internal/vectorindex"
)

// App holds everything a binary needs. Optional parts are nil when their backing store is not
// configured: SQLPipeline and Indexer need Elasticsearch, History needs Redis.
type App struct {
	Config *config.Config
	Logger logger.Logger
	Obs    *observability.Observability

	Redis   *database.RedisClient
	Elastic *database.ElasticsearchClient
	Mongo   *database.MongoPool

	History       *history.Store
	MongoPipeline *pipeline.MongoPipeline
	SQLPipeline   *pipeline.SQLPipeline
	Indexer       *indexer.Indexer
}

// New wires the application. It does not contact any store; use Checks to probe them.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: log}

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		log.Warn("otel metrics disabled", map[string]interface{}{"error": err.Error()})
	}
	app.Obs = obs

	if cfg.Database.Redis.Address != "" {
		app.Redis = database.NewRedis(cfg.Database.Redis)
	}

	completer, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	profiles, err := llm.NewProfiles(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm stages: %w", err)
	}
	runner := llm.NewClient(completer, profiles, log)
	synth := synthesis.New(runner, log)
	summ := summarizer.New(runner, log)

	var recorder pipeline.Recorder
	if cfg.History.Enabled && app.Redis != nil {
		app.History = history.NewStore(app.Redis.Client, cfg.History.MaxEntries, time.Duration(cfg.History.TTL)*time.Second, log)
		recorder = app.History
	}

	app.Mongo = database.NewMongoPool(cfg.Database.Mongo, log)
	app.MongoPipeline = pipeline.NewMongoPipeline(pipeline.PoolConnector(app.Mongo), synth, summ, recorder, obs, log)

	if !cfg.Database.Elasticsearch.Enabled() {
		log.Warn("elasticsearch not configured, relational pipeline disabled", nil)
		return app, nil
	}

	app.Elastic, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.New(ctx, cfg.Embedding, redisOrNil(app.Redis), log)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}

	index := vectorindex.NewElasticIndex(app.Elastic.Client, cfg.VectorIndex.Index, cfg.Embedding.Dimensions, log)
	catalog := retrieval.NewCatalogRetriever(embedder, index, cfg.VectorIndex.TopK, log)
	runnerSQL := executor.NewDatabaseRunner(config.GetDuration(cfg.Relational.QueryTimeout))
	exec := executor.NewRelationalExecutor(runnerSQL, cfg.Relational.MaxParallel, log)

	app.SQLPipeline = pipeline.NewSQLPipeline(catalog, synth, exec, summ, recorder, obs, log)
	app.Indexer = indexer.New(indexer.OpenSQL, embedder, index, log)
	return app, nil
}

// APIOptions exposes the configured services to the HTTP layer.
func (a *App) APIOptions() api.Options {
	opts := api.Options{
		Mongo:          a.MongoPipeline,
		Checks:         a.Checks(),
		RequestTimeout: config.GetDuration(a.Config.Server.RequestTimeout),
		Logger:         a.Logger,
	}
	if a.SQLPipeline != nil {
		opts.SQL = a.SQLPipeline
	}
	if a.History != nil {
		opts.History = a.History
	}
	return opts
}

// Checks returns a readiness probe per configured store.
func (a *App) Checks() map[string]api.Check {
	checks := map[string]api.Check{}
	if a.Redis != nil {
		checks["redis"] = a.Redis.Ping
	}
	if a.Elastic != nil {
		checks["elasticsearch"] = a.Elastic.Ping
	}
	return checks
}

func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Mongo != nil {
		errs = append(errs, a.Mongo.Close(ctx))
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	a.Obs.Shutdown()
	return errors.Join(errs...)
}

func redisOrNil(c *database.RedisClient) *redis.Client {
	if c == nil {
		return nil
	}
	return c.Client
}
