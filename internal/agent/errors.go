package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nexuscore/nexuscore/pkg/models"
)

// TurnErrorKind is the closed set of failure kinds a turn can hit.
// Parse, validation, tool-execution, and verification failures are
// retryable within the turn's correction budget; provider failures and
// turn-level timeouts terminate the turn immediately.
type TurnErrorKind string

const (
	TurnErrorParse         TurnErrorKind = "parse"
	TurnErrorValidation    TurnErrorKind = "validation"
	TurnErrorToolExecution TurnErrorKind = "tool_execution"
	TurnErrorVerification  TurnErrorKind = "verification"
	TurnErrorTimeout       TurnErrorKind = "timeout"
	TurnErrorProvider      TurnErrorKind = "provider"
)

// Retryable reports whether a failure of this kind may be fed back to
// the model for another attempt instead of terminating the turn.
func (k TurnErrorKind) Retryable() bool {
	switch k {
	case TurnErrorParse, TurnErrorValidation, TurnErrorToolExecution, TurnErrorVerification:
		return true
	default:
		return false
	}
}

// TurnError is a tagged turn failure: what kind of failure it was,
// which attempt hit it, and the underlying cause.
type TurnError struct {
	Kind    TurnErrorKind
	Message string
	Cause   error
	Attempt int
}

func (e *TurnError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[turn:%s]", e.Kind)
	if e.Message != "" {
		b.WriteString(" " + e.Message)
	} else if e.Cause != nil {
		b.WriteString(" " + e.Cause.Error())
	}
	if e.Attempt > 1 {
		fmt.Fprintf(&b, " (attempt %d)", e.Attempt)
	}
	return b.String()
}

func (e *TurnError) Unwrap() error { return e.Cause }

// newTurnError builds a TurnError of the given kind.
func newTurnError(kind TurnErrorKind, message string, cause error) *TurnError {
	return &TurnError{Kind: kind, Message: message, Cause: cause}
}

// AsTurnError extracts a TurnError from an error chain.
func AsTurnError(err error) (*TurnError, bool) {
	var turnErr *TurnError
	if errors.As(err, &turnErr) {
		return turnErr, true
	}
	return nil, false
}

// classifyProviderFailure maps an error returned by a provider call to
// the turn-level kind it terminates the turn with: context expiry (the
// turn's own timeout or a shutdown cancel) is a timeout, everything
// else is a provider failure.
func classifyProviderFailure(err error) TurnErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return TurnErrorTimeout
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return TurnErrorTimeout
	}
	return TurnErrorProvider
}

// classifyToolFailure maps a failed tool result to the retry path it
// feeds: invalid_argument results count as validation failures (the
// correction prompt names the field that failed), everything else as a
// tool-execution failure. Tools encode their error kind in the result
// payload (see tools.errorResult); a payload that doesn't parse is
// treated as an execution failure.
func classifyToolFailure(result models.ToolResult) TurnErrorKind {
	var payload struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal([]byte(result.Content), &payload); err == nil {
		if payload.Kind == string(models.ToolErrorInvalidArgument) {
			return TurnErrorValidation
		}
	}
	return TurnErrorToolExecution
}
