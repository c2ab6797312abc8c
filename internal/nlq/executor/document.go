// Package executor runs compiled plans against the live stores.
package executor

import (
	"context"
	"fmt"
	"time"

	apperrors "nlquery/internal/common/errors"
	"nlquery/internal/common/logger"
	"nlquery/internal/common/metrics"
	"nlquery/internal/models"
)

// DocumentTarget is the database a document plan runs against.
type DocumentTarget interface {
	HasUnit(ctx context.Context, name string) (bool, error)
	Aggregate(ctx context.Context, collection string, pipeline models.Pipeline) ([]map[string]interface{}, error)
}

// DocumentExecutor runs one aggregation per request. Any failure aborts the request.
type DocumentExecutor struct {
	logger logger.Logger
}

func NewDocumentExecutor(log logger.Logger) *DocumentExecutor {
	return &DocumentExecutor{logger: logger.Component(log, "document-executor")}
}

// Execute checks that the plan's collection is one of relevant (when relevant is non-empty)
// and exists in target, then materializes every result document.
func (e *DocumentExecutor) Execute(ctx context.Context, target DocumentTarget, relevant []string, plan models.QueryPlan, pipeline models.Pipeline) ([]map[string]interface{}, error) {
	if len(relevant) > 0 && !contains(relevant, plan.Collection) {
		return nil, fmt.Errorf("%w: collection %q is not among the relevant collections %v", apperrors.ErrTargetNotFound, plan.Collection, relevant)
	}

	exists, err := target.HasUnit(ctx, plan.Collection)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve collection %q: %v", apperrors.ErrExecution, plan.Collection, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: collection %q does not exist", apperrors.ErrTargetNotFound, plan.Collection)
	}

	start := time.Now()
	docs, err := target.Aggregate(ctx, plan.Collection, pipeline)
	metrics.StageDuration.WithLabelValues("document_execution").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: aggregate on %q: %v", apperrors.ErrExecution, plan.Collection, err)
	}
	if docs == nil {
		docs = []map[string]interface{}{}
	}

	e.logger.Info("aggregation finished", map[string]interface{}{
		"collection": plan.Collection,
		"stages":     len(pipeline),
		"documents":  len(docs),
		"durationMs": time.Since(start).Milliseconds(),
	})
	return docs, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
