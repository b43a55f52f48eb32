// Package sessions implements per-session append-only transcript storage,
// token-budgeted tail selection, and rolling summary compaction.
package sessions

import (
	"context"

	"github.com/nexuscore/nexuscore/pkg/models"
)

// Store persists a session's turn transcript and rolling summary.
type Store interface {
	// AppendTurn appends one turn to the session's transcript.
	AppendTurn(ctx context.Context, sessionID string, turn models.SessionTurn) error

	// LoadTurns returns every turn recorded for the session, oldest first.
	LoadTurns(ctx context.Context, sessionID string) ([]models.SessionTurn, error)

	// LoadSummary returns the session's current rolling summary, if any.
	LoadSummary(ctx context.Context, sessionID string) (*models.SummaryRecord, error)

	// SaveSummary replaces the session's rolling summary, including its
	// compaction cursor. The transcript itself is never rewritten.
	SaveSummary(ctx context.Context, sessionID string, summary models.SummaryRecord) error
}

// ErrSessionLocked reports that a session is locked by another caller.
// No Store implementation in this package returns it.
type ErrSessionLocked struct {
	SessionID string
}

func (e *ErrSessionLocked) Error() string {
	return "sessions: session " + e.SessionID + " is locked"
}
