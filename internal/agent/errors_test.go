package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/nexuscore/nexuscore/pkg/models"
)

func TestTurnErrorKind_Retryable(t *testing.T) {
	tests := []struct {
		kind TurnErrorKind
		want bool
	}{
		{TurnErrorParse, true},
		{TurnErrorValidation, true},
		{TurnErrorToolExecution, true},
		{TurnErrorVerification, true},
		{TurnErrorTimeout, false},
		{TurnErrorProvider, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTurnError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := newTurnError(TurnErrorProvider, "", cause)
	err.Attempt = 2

	msg := err.Error()
	if !strings.Contains(msg, "[turn:provider]") {
		t.Errorf("missing kind tag in %q", msg)
	}
	if !strings.Contains(msg, "connection refused") {
		t.Errorf("missing cause in %q", msg)
	}
	if !strings.Contains(msg, "attempt 2") {
		t.Errorf("missing attempt in %q", msg)
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if _, ok := AsTurnError(wrapped); !ok {
		t.Error("expected AsTurnError to find the wrapped TurnError")
	}
}

func TestClassifyProviderFailure(t *testing.T) {
	tests := []struct {
		err  error
		want TurnErrorKind
	}{
		{context.DeadlineExceeded, TurnErrorTimeout},
		{context.Canceled, TurnErrorTimeout},
		{errors.New("request timeout after 30s"), TurnErrorTimeout},
		{errors.New("status 500 from upstream"), TurnErrorProvider},
		{errors.New("connection refused"), TurnErrorProvider},
	}
	for _, tt := range tests {
		if got := classifyProviderFailure(tt.err); got != tt.want {
			t.Errorf("classifyProviderFailure(%q) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestClassifyToolFailure(t *testing.T) {
	validation := models.ToolResult{
		Content: `{"error":"path is required","kind":"invalid_argument"}`,
		IsError: true,
	}
	if got := classifyToolFailure(validation); got != TurnErrorValidation {
		t.Errorf("invalid_argument payload = %s, want %s", got, TurnErrorValidation)
	}

	execution := models.ToolResult{
		Content: `{"error":"command exited 1","kind":"execution_error"}`,
		IsError: true,
	}
	if got := classifyToolFailure(execution); got != TurnErrorToolExecution {
		t.Errorf("execution_error payload = %s, want %s", got, TurnErrorToolExecution)
	}

	opaque := models.ToolResult{Content: "not json at all", IsError: true}
	if got := classifyToolFailure(opaque); got != TurnErrorToolExecution {
		t.Errorf("opaque payload = %s, want %s", got, TurnErrorToolExecution)
	}
}
