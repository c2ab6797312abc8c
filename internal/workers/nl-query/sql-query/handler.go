package sqlquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"nlquery/internal/common/config"
	apperrors "nlquery/internal/common/errors"
	"nlquery/internal/common/logger"
	"nlquery/internal/common/metrics"
	"nlquery/internal/nlq/pipeline"
)

const TaskType = "nl-sql-query"

type Service interface {
	Ask(ctx context.Context, question, nickname string) (*pipeline.SQLAnswer, error)
}

type Handler struct {
	config       *Config
	service      Service
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	Service      Service
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Service == nil {
		return nil, fmt.Errorf("%s: service is required", TaskType)
	}

	log := logger.Component(opts.Logger, TaskType)
	return &Handler{
		config:       cfg,
		service:      opts.Service,
		errorHandler: apperrors.NewErrorHandler(log),
		logger:       log,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.parseInput(job)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	cmd, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	h.logger.Info("job completed", map[string]interface{}{
		"jobKey":  job.GetKey(),
		"queries": len(output.GeneratedQueries),
		"failed":  output.FailedQueries,
	})
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	bpmnErr := h.errorHandler.HandleJobError(ctx, client, job, err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, bpmnErr.Code).Inc()
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, fmt.Errorf("%w: job variables: %v", apperrors.ErrInvalidInput, err)
	}
	if result := GetInputSchema().Validate(variables); !result.Valid {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, result.GetErrorMessages())
	}

	var input Input
	if err := json.Unmarshal([]byte(job.GetVariables()), &input); err != nil {
		return nil, fmt.Errorf("%w: job variables: %v", apperrors.ErrInvalidInput, err)
	}
	return &input, nil
}

// Execute answers the question across the indexed databases. Per-database failures stay in
// the results and are counted, they never fail the job.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	answer, err := h.service.Ask(ctx, input.Question, input.ConnectionNickname)
	if err != nil {
		return nil, err
	}

	tables := make([]string, 0, len(answer.RelevantTables))
	for _, t := range answer.RelevantTables {
		tables = append(tables, t.UnitName)
	}

	failed := 0
	for _, r := range answer.Results {
		if r.Failed() {
			failed++
		}
	}

	return &Output{
		Response:         answer.Response,
		RelevantTables:   tables,
		GeneratedQueries: answer.Queries,
		Results:          answer.Results,
		FailedQueries:    failed,
	}, nil
}

func (h *Handler) GetTaskType() string { return TaskType }

func (h *Handler) IsEnabled() bool { return h.config.Enabled }
