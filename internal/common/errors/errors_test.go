package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   ErrorCode
		wantStatus int
	}{
		{"connection", fmt.Errorf("%w: no reachable servers", ErrConnection), ErrCodeConnectionFailed, http.StatusBadRequest},
		{"plan parse", fmt.Errorf("%w: unexpected token", ErrPlanParse), ErrCodePlanParseFailed, http.StatusInternalServerError},
		{"target", fmt.Errorf("%w: collection %q", ErrTargetNotFound, "orders"), ErrCodeTargetNotFound, http.StatusInternalServerError},
		{"execution", fmt.Errorf("%w: bad $group", ErrExecution), ErrCodeExecutionFailed, http.StatusInternalServerError},
		{"completion", fmt.Errorf("%w: status 429", ErrCompletion), ErrCodeCompletionFailed, http.StatusInternalServerError},
		{"invalid input", fmt.Errorf("%w: question is required", ErrInvalidInput), ErrCodeInvalidInput, http.StatusUnprocessableEntity},
		{"deadline", fmt.Errorf("summarize: %w", context.DeadlineExceeded), ErrCodeTimeout, http.StatusGatewayTimeout},
		{"unknown", stderrors.New("boom"), ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdErr := Classify(tt.err)
			require.NotNil(t, stdErr)
			assert.Equal(t, tt.wantCode, stdErr.Code)
			assert.Equal(t, tt.wantStatus, HTTPStatus(stdErr))
			assert.Equal(t, tt.err.Error(), stdErr.Details)
			assert.False(t, stdErr.Retryable)
			assert.ErrorIs(t, stdErr, tt.err)
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.Equal(t, http.StatusOK, HTTPStatus(nil))
}

func TestClassify_PassesThroughStandardError(t *testing.T) {
	original := NewConnectionError(stderrors.New("refused"))
	wrapped := fmt.Errorf("connect: %w", original)

	assert.Same(t, original, Classify(wrapped))
}

func TestStandardError_UnwrapsToSentinel(t *testing.T) {
	stdErr := NewExecutionError(stderrors.New("pipeline rejected"))

	assert.ErrorIs(t, stdErr, ErrExecution)
	assert.NotErrorIs(t, stdErr, ErrConnection)
}

func TestConvertToBPMNError(t *testing.T) {
	stdErr := NewPlanParseError(stderrors.New("not json"))

	bpmnErr := ConvertToBPMNError(stdErr)

	assert.Equal(t, "NLQ_PLAN_PARSE_FAILED", bpmnErr.Code)
	assert.Equal(t, 0, bpmnErr.Retries)
	vars := bpmnErr.ToErrorVariables()
	assert.Equal(t, "PLAN_PARSE_FAILED", vars["originalErrorCode"])
	assert.Equal(t, "AI", vars["errorCategory"])
	assert.Equal(t, "not json", vars["errorDetails"])
}

func TestGetErrorCategory(t *testing.T) {
	tests := map[ErrorCode]string{
		ErrCodeConnectionFailed: "DATABASE",
		ErrCodeTargetNotFound:   "QUERY",
		ErrCodeExecutionFailed:  "QUERY",
		ErrCodePlanParseFailed:  "AI",
		ErrCodeCompletionFailed: "AI",
		ErrCodeRetrievalFailed:  "SEARCH",
		ErrCodeInvalidInput:     "VALIDATION",
		ErrCodeInternal:         "OTHER",
	}
	for code, want := range tests {
		assert.Equal(t, want, GetErrorCategory(code), string(code))
	}
}
