package executor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"nlquery/internal/common/database"
	"nlquery/internal/common/logger"
	"nlquery/internal/common/metrics"
	"nlquery/internal/models"
)

// SQLRunner executes one statement against the database at dbURL and renders the rows.
type SQLRunner interface {
	Run(ctx context.Context, dbURL, query string) (string, error)
}

// DatabaseRunner opens a fresh connection per statement and closes it afterwards.
type DatabaseRunner struct {
	timeout time.Duration
}

func NewDatabaseRunner(timeout time.Duration) *DatabaseRunner {
	return &DatabaseRunner{timeout: timeout}
}

func (r *DatabaseRunner) Run(ctx context.Context, dbURL, query string) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	client, err := database.OpenSQL(ctx, dbURL)
	if err != nil {
		return "", err
	}
	defer client.Close()

	return client.QueryJSON(ctx, query)
}

// RelationalExecutor runs every plan entry in isolation. A failing entry records an inline
// error result and never stops the others.
type RelationalExecutor struct {
	runner      SQLRunner
	maxParallel int
	logger      logger.Logger
}

func NewRelationalExecutor(runner SQLRunner, maxParallel int, log logger.Logger) *RelationalExecutor {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &RelationalExecutor{
		runner:      runner,
		maxParallel: maxParallel,
		logger:      logger.Component(log, "relational-executor"),
	}
}

// Execute returns one result per entry, in plan order.
func (e *RelationalExecutor) Execute(ctx context.Context, entries []models.SQLPlanEntry) []models.ExecutionResult {
	results := make([]models.ExecutionResult, len(entries))

	g := new(errgroup.Group)
	g.SetLimit(e.maxParallel)
	for i, entry := range entries {
		g.Go(func() error {
			results[i] = e.run(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *RelationalExecutor) run(ctx context.Context, entry models.SQLPlanEntry) models.ExecutionResult {
	result := models.ExecutionResult{DBURL: entry.DBURL, Query: entry.Query}

	start := time.Now()
	out, err := e.runner.Run(ctx, entry.DBURL, entry.Query)
	if err != nil {
		metrics.RelationalEntries.WithLabelValues(metrics.StatusError).Inc()
		e.logger.Warn("plan entry failed", map[string]interface{}{
			"dbUrl": database.RedactURL(entry.DBURL),
			"error": err.Error(),
		})
		result.Result = models.ErrorResultPrefix + err.Error()
		return result
	}

	metrics.RelationalEntries.WithLabelValues(metrics.StatusSuccess).Inc()
	e.logger.Debug("plan entry finished", map[string]interface{}{
		"dbUrl":      database.RedactURL(entry.DBURL),
		"durationMs": time.Since(start).Milliseconds(),
	})
	result.Result = out
	return result
}
