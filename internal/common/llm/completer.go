// Package llm wraps the chat-completion providers behind a single Completer and renders the
// per-stage prompts.
package llm

import (
	"context"
	"fmt"
	"time"

	"nlquery/internal/common/config"
	apperrors "nlquery/internal/common/errors"
	"nlquery/internal/common/logger"
	"nlquery/internal/common/metrics"
)

// Request is one completion call.
type Request struct {
	Stage       string
	Model       string
	Temperature float64
	Prompt      string
}

// Completer returns the text of a single completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// StageRunner renders a stage prompt and completes it.
type StageRunner interface {
	Run(ctx context.Context, stage string, data PromptData) (string, error)
}

// Client is the StageRunner used by the pipelines.
type Client struct {
	completer Completer
	profiles  *Profiles
	logger    logger.Logger
}

func NewClient(completer Completer, profiles *Profiles, log logger.Logger) *Client {
	return &Client{
		completer: completer,
		profiles:  profiles,
		logger:    logger.Component(log, "llm"),
	}
}

// Run renders the prompt for stage and sends it once. Failures wrap ErrCompletion.
func (c *Client) Run(ctx context.Context, stage string, data PromptData) (string, error) {
	req, err := c.profiles.Render(stage, data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrCompletion, err)
	}

	start := time.Now()
	text, err := c.completer.Complete(ctx, req)
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Error("completion failed", map[string]interface{}{
			"stage": stage,
			"model": req.Model,
			"error": err.Error(),
		})
		return "", fmt.Errorf("%w: stage %s: %v", apperrors.ErrCompletion, stage, err)
	}

	c.logger.Debug("completion finished", map[string]interface{}{
		"stage":      stage,
		"model":      req.Model,
		"durationMs": time.Since(start).Milliseconds(),
		"chars":      len(text),
	})
	return text, nil
}

// New builds the Completer for the configured provider.
func New(ctx context.Context, cfg config.LLMConfig) (Completer, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		return NewOpenAIClient(cfg.BaseURL, cfg.APIKey, config.GetDuration(cfg.Timeout)), nil
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg.APIKey)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
