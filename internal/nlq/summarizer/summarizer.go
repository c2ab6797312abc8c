// Package summarizer turns query results into a natural-language answer.
package summarizer

import (
	"context"
	"encoding/json"
	"strings"

	"nlquery/internal/common/config"
	"nlquery/internal/common/llm"
	"nlquery/internal/common/logger"
	"nlquery/internal/models"
)

// NoAnswer is returned when the completion service replies with nothing.
const NoAnswer = "No answer could be produced from the query results."

type Summarizer struct {
	llm    llm.StageRunner
	logger logger.Logger
}

func New(runner llm.StageRunner, log logger.Logger) *Summarizer {
	return &Summarizer{
		llm:    runner,
		logger: logger.Component(log, "summarizer"),
	}
}

// Documents summarizes the rendered aggregation output.
func (s *Summarizer) Documents(ctx context.Context, question, results string) (string, error) {
	return s.summarize(ctx, config.StageMongoSummary, question, results)
}

// Relational summarizes every entry of a relational plan, failed ones included.
func (s *Summarizer) Relational(ctx context.Context, question string, results []models.ExecutionResult) (string, error) {
	if results == nil {
		results = []models.ExecutionResult{}
	}
	encoded, err := json.Marshal(results)
	if err != nil {
		return "", err
	}
	return s.summarize(ctx, config.StageSummary, question, string(encoded))
}

func (s *Summarizer) summarize(ctx context.Context, stage, question, results string) (string, error) {
	answer, err := s.llm.Run(ctx, stage, llm.PromptData{
		Question: question,
		Results:  results,
	})
	if err != nil {
		return "", err
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		s.logger.Warn("empty summary from completion service", map[string]interface{}{"stage": stage})
		return NoAnswer, nil
	}
	return answer, nil
}
