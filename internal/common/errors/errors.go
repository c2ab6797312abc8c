// Package errors provides the error taxonomy shared by the query pipelines, the HTTP layer
// and the BPMN workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Sentinel Errors
// ==========================

// Pipeline stages wrap these with %w; callers classify with errors.Is.
var (
	ErrConnection     = stderrors.New("CONNECTION_FAILED")
	ErrPlanParse      = stderrors.New("PLAN_PARSE_FAILED")
	ErrTargetNotFound = stderrors.New("TARGET_NOT_FOUND")
	ErrExecution      = stderrors.New("EXECUTION_FAILED")
	ErrCompletion     = stderrors.New("LLM_COMPLETION_FAILED")
	ErrRetrieval      = stderrors.New("RETRIEVAL_FAILED")
	ErrInvalidInput   = stderrors.New("INVALID_INPUT")
)

// ==========================
// 2. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	ErrCodePlanParseFailed  ErrorCode = "PLAN_PARSE_FAILED"
	ErrCodeTargetNotFound   ErrorCode = "TARGET_NOT_FOUND"
	ErrCodeExecutionFailed  ErrorCode = "EXECUTION_FAILED"
	ErrCodeCompletionFailed ErrorCode = "LLM_COMPLETION_FAILED"
	ErrCodeRetrievalFailed  ErrorCode = "RETRIEVAL_FAILED"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeTimeout          ErrorCode = "TIMEOUT"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the sentinel for the code and the original cause to errors.Is.
func (e *StandardError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if sentinel, ok := codeSentinels[e.Code]; ok {
		errs = append(errs, sentinel)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

var codeSentinels = map[ErrorCode]error{
	ErrCodeConnectionFailed: ErrConnection,
	ErrCodePlanParseFailed:  ErrPlanParse,
	ErrCodeTargetNotFound:   ErrTargetNotFound,
	ErrCodeExecutionFailed:  ErrExecution,
	ErrCodeCompletionFailed: ErrCompletion,
	ErrCodeRetrievalFailed:  ErrRetrieval,
	ErrCodeInvalidInput:     ErrInvalidInput,
}

// ==========================
// 3. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 4. Error Constructors
// ==========================

func newStandardError(code ErrorCode, message string, cause error) *StandardError {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewConnectionError reports an unreachable store or an unknown database name.
func NewConnectionError(err error) *StandardError {
	return newStandardError(ErrCodeConnectionFailed, "Database connection failed", err)
}

// NewPlanParseError reports a model response that could not be coerced into a query plan.
func NewPlanParseError(err error) *StandardError {
	return newStandardError(ErrCodePlanParseFailed, "Model output is not a valid query plan", err)
}

// NewTargetNotFoundError reports a plan naming a collection the store does not have.
func NewTargetNotFoundError(err error) *StandardError {
	return newStandardError(ErrCodeTargetNotFound, "Query target not found", err)
}

// NewExecutionError reports a store-side rejection of a compiled query.
func NewExecutionError(err error) *StandardError {
	return newStandardError(ErrCodeExecutionFailed, "Query execution failed", err)
}

// NewCompletionError reports a failed call to the completion service.
func NewCompletionError(err error) *StandardError {
	return newStandardError(ErrCodeCompletionFailed, "Completion service call failed", err)
}

// NewRetrievalError reports a failed schema-context lookup.
func NewRetrievalError(err error) *StandardError {
	return newStandardError(ErrCodeRetrievalFailed, "Schema context retrieval failed", err)
}

// NewInvalidInputError reports a malformed request.
func NewInvalidInputError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidInput,
		Message:   "Invalid input",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTimeoutError reports an expired request deadline.
func NewTimeoutError(err error) *StandardError {
	return newStandardError(ErrCodeTimeout, "Request deadline exceeded", err)
}

// NewInternalError wraps anything unclassified.
func NewInternalError(err error) *StandardError {
	return newStandardError(ErrCodeInternal, "Unexpected error", err)
}

// ==========================
// 5. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeConnectionFailed: "NLQ_CONNECTION_FAILED",
	ErrCodePlanParseFailed:  "NLQ_PLAN_PARSE_FAILED",
	ErrCodeTargetNotFound:   "NLQ_TARGET_NOT_FOUND",
	ErrCodeExecutionFailed:  "NLQ_EXECUTION_FAILED",
	ErrCodeCompletionFailed: "NLQ_COMPLETION_FAILED",
	ErrCodeRetrievalFailed:  "NLQ_RETRIEVAL_FAILED",
	ErrCodeInvalidInput:     "NLQ_INVALID_INPUT",
	ErrCodeTimeout:          "NLQ_TIMEOUT",
}

// GetRetryCount returns the retry budget for a code. Pipelines attempt every external
// call once, so every code maps to zero.
func GetRetryCount(code ErrorCode) int {
	return 0
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"errorCategory":     GetErrorCategory(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 6. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "CONNECTION"):
		return "DATABASE"
	case strings.Contains(codeStr, "TARGET") || strings.Contains(codeStr, "EXECUTION"):
		return "QUERY"
	case strings.Contains(codeStr, "PLAN") || strings.Contains(codeStr, "LLM"):
		return "AI"
	case strings.Contains(codeStr, "RETRIEVAL"):
		return "SEARCH"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
