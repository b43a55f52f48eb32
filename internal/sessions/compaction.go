package sessions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nexuscore/nexuscore/pkg/models"
)

// Summarizer produces an updated rolling summary from the prior summary
// text (empty on the first compaction) and the turns being dropped from
// the conversation tail.
type Summarizer interface {
	Summarize(ctx context.Context, priorSummary string, dropped []models.SessionTurn) (string, error)
}

// CompactionResult reports the outcome of one Compact call.
type CompactionResult struct {
	Compacted    bool
	DroppedTurns int
	KeptTurns    int
}

// Compactor keeps a session's live transcript within a token budget by
// summarizing its oldest turns into a rolling SummaryRecord.
type Compactor struct {
	store         Store
	summarizer    Summarizer
	tokenLimit    int
	charsPerToken float64
	summaryMax    int
}

// NewCompactor builds a Compactor. charsPerToken and summaryMaxChars must
// be positive; tokenLimit bounds the conversation tail kept in full.
func NewCompactor(store Store, summarizer Summarizer, tokenLimit int, charsPerToken float64, summaryMaxChars int) *Compactor {
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	if summaryMaxChars <= 0 {
		summaryMaxChars = 300
	}
	return &Compactor{
		store:         store,
		summarizer:    summarizer,
		tokenLimit:    tokenLimit,
		charsPerToken: charsPerToken,
		summaryMax:    summaryMaxChars,
	}
}

func (c *Compactor) estimateTokens(turns []models.SessionTurn) int {
	chars := 0
	for _, t := range turns {
		chars += len(t.Content)
	}
	return int(float64(chars) / c.charsPerToken)
}

// LiveWindow returns the turns past the summary's compaction cursor:
// the slice of the transcript not yet folded into the rolling summary.
// The transcript itself is append-only, so the cursor is a stable
// count of leading (oldest-first) turns.
func LiveWindow(turns []models.SessionTurn, summary *models.SummaryRecord) []models.SessionTurn {
	if summary == nil || summary.CompactedTurns <= 0 {
		return turns
	}
	if summary.CompactedTurns >= len(turns) {
		return nil
	}
	return turns[summary.CompactedTurns:]
}

// Tail loads the session's transcript and summary, and returns the
// live (unsummarized) window plus whether it currently exceeds the
// token budget.
func (c *Compactor) Tail(ctx context.Context, sessionID string) ([]models.SessionTurn, *models.SummaryRecord, bool, error) {
	turns, err := c.store.LoadTurns(ctx, sessionID)
	if err != nil {
		return nil, nil, false, err
	}
	summary, err := c.store.LoadSummary(ctx, sessionID)
	if err != nil {
		return nil, nil, false, err
	}
	live := LiveWindow(turns, summary)
	overBudget := c.tokenLimit > 0 && c.estimateTokens(live) > c.tokenLimit
	return live, summary, overBudget, nil
}

// Compact folds the oldest half of the session's live turns into its
// rolling summary and advances the summary's compaction cursor past
// them. The transcript file is never rewritten; only the summary
// sidecar changes. It is a no-op if the live window is within budget.
func (c *Compactor) Compact(ctx context.Context, sessionID string) (*CompactionResult, error) {
	live, summary, overBudget, err := c.Tail(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !overBudget || len(live) < 2 {
		return &CompactionResult{Compacted: false}, nil
	}

	splitAt := len(live) / 2
	dropped, kept := live[:splitAt], live[splitAt:]

	prior := ""
	version := models.CurrentSummaryVersion
	cursor := 0
	if summary != nil {
		prior = summary.Summary
		version = summary.Version
		cursor = summary.CompactedTurns
	}

	var text string
	if c.summarizer != nil {
		text, err = c.summarizer.Summarize(ctx, prior, dropped)
		if err != nil {
			return nil, fmt.Errorf("sessions: summarize %s: %w", sessionID, err)
		}
	} else {
		text = fallbackSummary(prior, dropped, c.summaryMax)
	}
	text = truncateRunes(strings.TrimSpace(text), c.summaryMax)

	rec := models.SummaryRecord{
		Version:        version,
		UpdatedAt:      time.Now(),
		Summary:        text,
		CompactedTurns: cursor + len(dropped),
	}
	if err := c.store.SaveSummary(ctx, sessionID, rec); err != nil {
		return nil, err
	}

	return &CompactionResult{
		Compacted:    true,
		DroppedTurns: len(dropped),
		KeptTurns:    len(kept),
	}, nil
}

// fallbackSummary is the deterministic stand-in used when no LLM
// summarizer is configured: short snippets of the most recent dropped
// turns, newest last, packed into the summary budget.
func fallbackSummary(prior string, dropped []models.SessionTurn, max int) string {
	const snippetLen = 60
	var parts []string
	for i := len(dropped) - 1; i >= 0 && len(parts) < 5; i-- {
		snippet := strings.TrimSpace(dropped[i].Content)
		if snippet == "" {
			continue
		}
		if len([]rune(snippet)) > snippetLen {
			snippet = string([]rune(snippet)[:snippetLen])
		}
		parts = append([]string{snippet}, parts...)
	}
	joined := strings.Join(parts, " | ")
	if prior != "" && joined == "" {
		return prior
	}
	return truncateRunes(joined, max)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
