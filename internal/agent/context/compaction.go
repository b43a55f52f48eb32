package context

import (
	"fmt"
	"strings"

	"github.com/nexuscore/nexuscore/pkg/models"
)

// ContinuationInstruction is appended as the final user turn of a
// compacted re-pack, telling the model to pick up exactly where its
// truncated response left off.
const ContinuationInstruction = "Continue exactly where you left off. Do not repeat text you already produced, and do not restart the response from the beginning."

// CompactionResult is one re-packed continuation turn, returned when a
// completion was cut short by a length/max_tokens finish reason.
type CompactionResult struct {
	System          string
	Messages        []models.Message
	MaxOutputTokens int
	Compacted       bool
}

// Compact re-packs a turn that the model did not finish: a pinned
// system-rules message survives untouched, everything said so far is
// folded into a single compacted summary sized to whatever budget the
// pinned material and the model's own last text leave behind, and a
// continuation instruction closes the message list.
func (b *Builder) Compact(pinnedSystem, priorSummary, lastAssistantText string) CompactionResult {
	inputBudget := b.budgets.ContextLimit - b.budgets.OutputReserve
	if inputBudget < 0 {
		inputBudget = 0
	}

	pinnedTokens := b.estimate.Estimate(pinnedSystem)
	lastTokens := b.estimate.Estimate(lastAssistantText)
	instructionTokens := b.estimate.Estimate(ContinuationInstruction)

	remaining := inputBudget - pinnedTokens - lastTokens - instructionTokens
	if remaining < 0 {
		remaining = 0
	}
	summary := truncateToBudget(strings.TrimSpace(priorSummary), remaining, b.estimate)

	var messages []models.Message
	if summary != "" {
		messages = append(messages, models.Message{
			Role:    models.RoleSystem,
			Content: fmt.Sprintf("Summary of earlier context:\n%s", summary),
		})
	}
	if text := strings.TrimSpace(lastAssistantText); text != "" {
		messages = append(messages, models.Message{Role: models.RoleAssistant, Content: lastAssistantText})
	}
	messages = append(messages, models.Message{Role: models.RoleUser, Content: ContinuationInstruction})

	used := pinnedTokens + b.estimate.Estimate(summary) + lastTokens + instructionTokens
	maxOutput := b.budgets.ContextLimit - used - b.budgets.CompletionSafetyBuffer
	if maxOutput < 1 {
		maxOutput = 1
	}

	return CompactionResult{
		System:          pinnedSystem,
		Messages:        messages,
		MaxOutputTokens: maxOutput,
		Compacted:       true,
	}
}
