package model

import "testing"

func TestRetryableTrueForTransientCause(t *testing.T) {
	gatewayErr := NewError(CodeNetworkError, "dial failed", nil)
	stageErr := NewError(CodeMistralAnalysisError, "documentation analysis failed", gatewayErr)

	if !stageErr.Retryable() {
		t.Fatal("expected stage error wrapping a transient gateway error to be retryable")
	}
}

func TestRetryableFalseWithoutTransientCause(t *testing.T) {
	stageErr := NewError(CodeMistralAnalysisError, "documentation analysis failed", NewError(CodeBadRequest, "malformed prompt", nil))

	if stageErr.Retryable() {
		t.Fatal("expected stage error wrapping a non-transient cause to be non-retryable")
	}
}

func TestRetryableFalseForPlainError(t *testing.T) {
	stageErr := NewError(CodeMistralAnalysisError, "documentation analysis failed", nil)

	if stageErr.Retryable() {
		t.Fatal("expected stage error with no cause to be non-retryable")
	}
}
