package model

import (
	"errors"
	"fmt"
)

// ErrorCode is one of the stable identifiers enumerated in the AIRES
// error handling design. Callers switch on Code rather than parsing
// messages.
type ErrorCode string

const (
	CodeNoErrorsFound            ErrorCode = "NO_ERRORS_FOUND"
	CodeMistralAnalysisError     ErrorCode = "MISTRAL_ANALYSIS_ERROR"
	CodeDeepSeekContextError     ErrorCode = "DEEPSEEK_CONTEXT_ERROR"
	CodeCodeGemmaValidationError ErrorCode = "CODEGEMMA_VALIDATION_ERROR"
	CodeGemma2GenerationError    ErrorCode = "GEMMA2_GENERATION_ERROR"
	CodeBookletSaveUnauthorized  ErrorCode = "BOOKLET_SAVE_UNAUTHORIZED"
	CodeBookletSaveDirNotFound   ErrorCode = "BOOKLET_SAVE_DIR_NOT_FOUND"
	CodeBookletSaveError         ErrorCode = "BOOKLET_SAVE_ERROR"
	CodeConfigLoadError          ErrorCode = "CONFIG_LOAD_ERROR"
	CodeConfigValidationError    ErrorCode = "CONFIG_VALIDATION_ERROR"
	CodePipelineStatusError      ErrorCode = "PIPELINE_STATUS_ERROR"
	CodeNoEndpointAvailable      ErrorCode = "NO_ENDPOINT_AVAILABLE"
	CodeOrchestratorUnexpected   ErrorCode = "ORCHESTRATOR_UNEXPECTED"

	// Gateway-level transport codes (§4.4); these are wrapped as Cause
	// inside the stage-specific codes above, not surfaced on their own
	// to the orchestrator.
	CodeNetworkError    ErrorCode = "NETWORK_ERROR"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeModelNotLoaded  ErrorCode = "MODEL_NOT_LOADED"
	CodeBadRequest      ErrorCode = "BAD_REQUEST"
	CodeServerError     ErrorCode = "SERVER_ERROR"
)

// Error is the typed result-or-failure value every AIRES public
// operation fails with: a stable Code, a human message, and an
// optional wrapped Cause.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs an *Error with the given code, message and
// optional cause.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Retryable reports whether the Watchdog should re-queue a Job that
// failed with this code, per spec §4.9/§7: only the transient Gateway
// classifications are retried at the Job level. Every Stage Executor
// re-codes a Gateway/Balancer failure into its own stage-specific code
// (e.g. CodeMistralAnalysisError) and keeps the original transient
// code as Cause, so Retryable walks the Cause chain rather than only
// checking e's own Code.
func (e *Error) Retryable() bool {
	for cur := e; cur != nil; {
		switch cur.Code {
		case CodeTimeout, CodeNetworkError, CodeNoEndpointAvailable:
			return true
		}
		var next *Error
		if !errors.As(cur.Cause, &next) {
			return false
		}
		cur = next
	}
	return false
}
