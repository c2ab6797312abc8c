package pipeline

import (
	"context"

	"nlquery/internal/common/logger"
	"nlquery/internal/common/metrics"
	"nlquery/internal/common/observability"
	"nlquery/internal/models"
	"nlquery/internal/nlq/executor"
	"nlquery/internal/nlq/summarizer"
	"nlquery/internal/nlq/synthesis"
)

// NoRelevantTables is the answer when the catalog has nothing close to the question.
const NoRelevantTables = "No relevant tables were found for this question. Try rephrasing it or re-indexing the catalog."

// CatalogSearcher returns the catalog entries relevant to a question.
type CatalogSearcher interface {
	Retrieve(ctx context.Context, question string) ([]models.SchemaDescriptor, error)
}

// SQLAnswer is the outcome of a relational question. Every stage output is kept so callers
// can print or return the intermediate artifacts.
type SQLAnswer struct {
	Response       string
	RelevantTables []models.SchemaDescriptor
	Queries        []models.SQLPlanEntry
	Results        []models.ExecutionResult
}

// SQLPipeline answers questions across the indexed relational databases.
type SQLPipeline struct {
	retriever   CatalogSearcher
	synthesizer *synthesis.Synthesizer
	executor    *executor.RelationalExecutor
	summarizer  *summarizer.Summarizer
	history     Recorder
	obs         *observability.Observability
	logger      logger.Logger
}

func NewSQLPipeline(
	retriever CatalogSearcher,
	synth *synthesis.Synthesizer,
	exec *executor.RelationalExecutor,
	summ *summarizer.Summarizer,
	history Recorder,
	obs *observability.Observability,
	log logger.Logger,
) *SQLPipeline {
	return &SQLPipeline{
		retriever:   retriever,
		synthesizer: synth,
		executor:    exec,
		summarizer:  summ,
		history:     history,
		obs:         obs,
		logger:      logger.Component(log, "sql-pipeline"),
	}
}

// Ask runs retrieval, planning, execution and summarization. With no relevant tables it
// returns early without calling the model. nickname keys the history entry and may be empty.
func (p *SQLPipeline) Ask(ctx context.Context, question, nickname string) (answer *SQLAnswer, err error) {
	t := track(models.PipelineSQL, p.obs)
	status := ""
	defer func() {
		if status == "" {
			status = statusOf(err)
		}
		t.done(ctx, status)
	}()

	tables, err := p.retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		status = metrics.StatusEmpty
		p.logger.Info("no relevant tables", map[string]interface{}{"question": question})
		return &SQLAnswer{
			Response:       NoRelevantTables,
			RelevantTables: []models.SchemaDescriptor{},
			Queries:        []models.SQLPlanEntry{},
			Results:        []models.ExecutionResult{},
		}, nil
	}

	queries, err := p.synthesizer.SQLPlan(ctx, question, tables)
	if err != nil {
		return nil, err
	}

	results := p.executor.Execute(ctx, queries)

	response, err := p.summarizer.Relational(ctx, question, results)
	if err != nil {
		return nil, err
	}

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	p.logger.Info("relational question answered", map[string]interface{}{
		"tables":  len(tables),
		"queries": len(queries),
		"failed":  failed,
	})

	record(ctx, p.history, p.logger, models.HistoryEntry{
		Nickname: nickname,
		Pipeline: models.PipelineSQL,
		Question: question,
		Answer:   response,
		Query:    queries,
	})

	return &SQLAnswer{
		Response:       response,
		RelevantTables: tables,
		Queries:        queries,
		Results:        results,
	}, nil
}
