package models

import "time"

// TurnType is the closed set of entry kinds appended to a session transcript.
type TurnType string

const (
	TurnUserInput     TurnType = "user_input"
	TurnAgentResponse TurnType = "agent_response"
	TurnToolCall      TurnType = "tool_call"
	TurnToolResult    TurnType = "tool_result"
)

// SessionTurn is one append-only entry in a session's JSONL transcript.
type SessionTurn struct {
	Timestamp time.Time      `json:"timestamp"`
	Role      Role           `json:"role"`
	Type      TurnType       `json:"type"`
	Content   string         `json:"content"`
	Meta      map[string]any `json:"meta,omitempty"`

	// BranchID identifies which conversation branch this turn belongs to.
	// Sessions with no explicit branching use a single implicit branch id.
	BranchID string `json:"branchId,omitempty"`
}

// SummaryRecord is the stored rolling summary for a session, rewritten
// whenever older turns are folded out of the conversation tail. The
// transcript itself is append-only; CompactedTurns is the cursor into
// it (a count of leading turns, oldest first) that have already been
// folded into Summary and must not re-enter the live tail.
type SummaryRecord struct {
	Version        int       `json:"version"`
	UpdatedAt      time.Time `json:"updatedAt"`
	Summary        string    `json:"summary"`
	CompactedTurns int       `json:"compactedTurns,omitempty"`
}

// CurrentSummaryVersion is the SummaryRecord.Version written by this build.
const CurrentSummaryVersion = 2
