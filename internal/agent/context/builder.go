// Package context assembles the bounded message list sent to a provider
// for one model call: a fixed set of prompt layers rendered and
// allocated token budget in priority order, then as much of the
// conversation tail as remains, then the new user turn.
package context

import (
	"fmt"
	"strings"

	"github.com/nexuscore/nexuscore/pkg/models"
)

// FixedLayerOrder is the allocation order applied before the
// conversation layer claims whatever budget is left over.
var FixedLayerOrder = []string{
	"system", "step", "skills", "identity", "soul",
	"user", "boot", "memory", "bootstrap", "prior",
}

const ellipsisMarker = "..."

// PriorStep is one compressed entry folded into the "prior" layer
// alongside any running conversation summary.
type PriorStep struct {
	ID     string
	Output string
}

// Inputs is everything the builder needs to render and pack one call's
// layers. PromptLayers fields carry raw, already-loaded file content
// (typically read through a workspace.Manager); rendering them into
// prose is this package's job, not the caller's.
type Inputs struct {
	Step                       *models.Step
	Tools                      []models.ToolSchema
	IncludeToolSchemasInPrompt bool
	ExtraSystemRules           string

	SkillContent      string
	IdentityContent   string
	SoulContent       string
	UserContent       string
	BootContent       string
	BootstrapContent  string
	SystemMemory      string
	DailyMemory       string

	PriorSteps          []PriorStep
	ConversationSummary string

	Conversation []models.Message
	UserInput    string
}

// Budgets configures one builder: the provider's context window, how
// much of it is reserved for the model's own output, and the per-layer
// token caps (including a "conversation" entry for the tail).
type Budgets struct {
	ContextLimit           int
	OutputReserve          int
	CompletionSafetyBuffer int
	LayerBudgets           map[string]int
}

// Result is the packed call: a provider-level system string (the
// allocated layers, concatenated) plus the message list and output cap.
type Result struct {
	System          string
	Messages        []models.Message
	MaxOutputTokens int
	UsedInputTokens int
}

// Builder packs Inputs against a fixed Budgets using an Estimator for
// every token-cost decision.
type Builder struct {
	budgets  Budgets
	estimate *Estimator
}

// NewBuilder constructs a Builder. A nil estimate falls back to the
// default 4-chars-per-token, 1.1x-safety-margin estimator.
func NewBuilder(budgets Budgets, estimate *Estimator) *Builder {
	if estimate == nil {
		estimate = NewEstimator(4, 1.1, nil)
	}
	return &Builder{budgets: budgets, estimate: estimate}
}

// Build renders and allocates every layer, selects as much of the
// conversation tail as the remaining budget allows, appends the new
// user turn, and computes the output token cap.
func (b *Builder) Build(in Inputs) Result {
	inputBudget := b.budgets.ContextLimit - b.budgets.OutputReserve
	if inputBudget < 0 {
		inputBudget = 0
	}

	scale := b.fixedLayerScale(inputBudget)

	remaining := inputBudget
	usedInput := 0
	sections := make([]string, 0, len(FixedLayerOrder))

	for _, name := range FixedLayerOrder {
		budget := int(float64(b.budgets.LayerBudgets[name]) * scale)
		cap := budget
		if remaining < cap {
			cap = remaining
		}
		text := strings.TrimSpace(layerText(name, in))
		if text == "" || cap <= 0 {
			continue
		}
		truncated := truncateToBudget(text, cap, b.estimate)
		tokens := b.estimate.Estimate(truncated)
		remaining -= tokens
		usedInput += tokens
		sections = append(sections, fmt.Sprintf("# %s\n%s", name, truncated))
	}

	conversationBudget := b.budgets.LayerBudgets["conversation"]
	if conversationBudget <= 0 || conversationBudget > remaining {
		conversationBudget = remaining
	}
	selected, convTokens := selectConversationTail(in.Conversation, conversationBudget, b.estimate)
	usedInput += convTokens

	messages := make([]models.Message, 0, len(selected)+1)
	messages = append(messages, selected...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: in.UserInput})
	usedInput += b.estimate.Estimate(in.UserInput)

	maxOutput := b.budgets.ContextLimit - usedInput - b.budgets.CompletionSafetyBuffer
	if maxOutput < 1 {
		maxOutput = 1
	}

	return Result{
		System:          strings.Join(sections, "\n\n"),
		Messages:        messages,
		MaxOutputTokens: maxOutput,
		UsedInputTokens: usedInput,
	}
}

// fixedLayerScale returns the proportional shrink factor applied to
// every fixed layer's configured budget when their sum exceeds what
// inputBudget can hold.
func (b *Builder) fixedLayerScale(inputBudget int) float64 {
	sum := 0
	for _, name := range FixedLayerOrder {
		sum += b.budgets.LayerBudgets[name]
	}
	if sum > inputBudget && sum > 0 {
		return float64(inputBudget) / float64(sum)
	}
	return 1.0
}

const coreIdentityPreamble = "You are nexuscore, an autonomous coding agent operating inside a sandboxed workspace. Work from files you have actually read; never invent their contents. Think before acting, and act through tools rather than narrating what a tool would do."

const toolCallFormatRules = `To call a tool, respond with exactly one JSON object and nothing else: {"name": "<tool>", "arguments": {...}}. Never wrap it in prose, code fences, or more than one call per response.`

func renderSystemLayer(in Inputs) string {
	parts := []string{coreIdentityPreamble, toolCallFormatRules}
	if in.Step != nil && in.Step.ID != "" {
		parts = append(parts, fmt.Sprintf("You are executing step %q of the current workflow run.", in.Step.ID))
	}
	if extra := strings.TrimSpace(in.ExtraSystemRules); extra != "" {
		parts = append(parts, extra)
	}
	return strings.Join(parts, "\n\n")
}

func renderStepLayer(in Inputs) string {
	if in.Step == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(in.Step.Instruction)
	if in.IncludeToolSchemasInPrompt && len(in.Tools) > 0 {
		b.WriteString("\n\nAvailable tools:\n")
		for _, tool := range in.Tools {
			fmt.Fprintf(&b, "- %s: %s\n  parameters: %s\n", tool.Name, tool.Description, string(tool.Parameters))
		}
	}
	return b.String()
}

func renderMemoryLayer(in Inputs) string {
	var parts []string
	if s := strings.TrimSpace(in.SystemMemory); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(in.DailyMemory); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}

func renderPriorLayer(in Inputs) string {
	var b strings.Builder
	for _, step := range in.PriorSteps {
		fmt.Fprintf(&b, "- %s: %s\n", step.ID, step.Output)
	}
	if s := strings.TrimSpace(in.ConversationSummary); s != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Summary of earlier conversation: ")
		b.WriteString(s)
	}
	return b.String()
}

func layerText(name string, in Inputs) string {
	switch name {
	case "system":
		return renderSystemLayer(in)
	case "step":
		return renderStepLayer(in)
	case "skills":
		return in.SkillContent
	case "identity":
		return in.IdentityContent
	case "soul":
		return in.SoulContent
	case "user":
		return in.UserContent
	case "boot":
		return in.BootContent
	case "memory":
		return renderMemoryLayer(in)
	case "bootstrap":
		return in.BootstrapContent
	case "prior":
		return renderPriorLayer(in)
	default:
		return ""
	}
}

// truncateToBudget shortens text to fit within budget tokens, appending
// a three-character ellipsis marker when it cuts anything off.
func truncateToBudget(text string, budget int, est *Estimator) string {
	if budget <= 0 {
		return ""
	}
	if est.Estimate(text) <= budget {
		return text
	}
	maxChars := est.MaxChars(budget)
	if maxChars <= len(ellipsisMarker) {
		return ellipsisMarker
	}
	runes := []rune(text)
	cut := maxChars - len(ellipsisMarker)
	if cut > len(runes) {
		cut = len(runes)
	}
	truncated := string(runes[:cut]) + ellipsisMarker
	for est.Estimate(truncated) > budget && cut > 0 {
		cut--
		truncated = string(runes[:cut]) + ellipsisMarker
	}
	return truncated
}

// selectConversationTail walks history from the most recent message
// backward, keeping only user/assistant turns whose cumulative estimate
// fits within budget, then restores chronological order.
func selectConversationTail(history []models.Message, budget int, est *Estimator) ([]models.Message, int) {
	if budget <= 0 || len(history) == 0 {
		return nil, 0
	}
	var selected []models.Message
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
			continue
		}
		cost := est.Estimate(msg.Content)
		if used+cost > budget {
			break
		}
		selected = append(selected, msg)
		used += cost
	}
	for i, j := 0, len(selected)-1; i < j; i, j = i+1, j-1 {
		selected[i], selected[j] = selected[j], selected[i]
	}
	return selected, used
}
