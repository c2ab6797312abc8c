// Package pipeline wires retrieval, synthesis, compilation, execution and summarization into
// the two question-answering flows.
package pipeline

import (
	"context"
	"time"

	"nlquery/internal/common/logger"
	"nlquery/internal/common/metrics"
	"nlquery/internal/common/observability"
	"nlquery/internal/models"
)

// Recorder stores answered questions. A nil Recorder disables history.
type Recorder interface {
	Record(ctx context.Context, entry models.HistoryEntry) (models.HistoryEntry, error)
}

// tracker records the outcome of one run on both metric backends.
type tracker struct {
	pipeline string
	obs      *observability.Observability
	start    time.Time
}

func track(pipeline string, obs *observability.Observability) *tracker {
	return &tracker{pipeline: pipeline, obs: obs, start: time.Now()}
}

func (t *tracker) done(ctx context.Context, status string) {
	metrics.PipelineRequests.WithLabelValues(t.pipeline, status).Inc()
	t.obs.RecordRun(ctx, t.pipeline, status, time.Since(t.start))
}

func statusOf(err error) string {
	if err != nil {
		return metrics.StatusError
	}
	return metrics.StatusSuccess
}

func record(ctx context.Context, rec Recorder, log logger.Logger, entry models.HistoryEntry) {
	if rec == nil || entry.Nickname == "" {
		return
	}
	if _, err := rec.Record(ctx, entry); err != nil {
		log.Warn("failed to record history", map[string]interface{}{
			"nickname": entry.Nickname,
			"error":    err.Error(),
		})
	}
}
