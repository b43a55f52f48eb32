package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nexuscore/nexuscore/pkg/models"
)

// AnthropicConfig configures an Anthropic provider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// Anthropic implements Provider against Claude's Messages API.
type Anthropic struct {
	base         baseProvider
	client       anthropic.Client
	defaultModel string
}

// NewAnthropic builds an Anthropic provider from config.
func NewAnthropic(config AnthropicConfig) (*Anthropic, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &Anthropic{
		base:         newBaseProvider("anthropic", config.MaxRetries, config.RetryDelay),
		client:       anthropic.NewClient(opts...),
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *Anthropic) Name() string { return "anthropic" }

// Complete sends req to Claude and blocks for the full response.
func (p *Anthropic) Complete(ctx context.Context, req CompletionRequest) (models.Completion, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return models.Completion{}, fmt.Errorf("anthropic: %w", err)
	}

	var message *anthropic.Message
	err = p.base.retry(ctx, func() error {
		msg, callErr := p.client.Messages.New(ctx, params)
		if callErr != nil {
			return p.wrapError(callErr, string(params.Model))
		}
		message = msg
		return nil
	})
	if err != nil {
		return models.Completion{}, err
	}

	return p.convertResponse(message), nil
}

func (p *Anthropic) buildParams(req CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := convertMessagesToAnthropic(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		Messages:  messages,
		MaxTokens: int64(p.getMaxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertToolsToAnthropic(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("failed to convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

// convertMessagesToAnthropic groups the flat models.Message history into
// Anthropic's alternating user/assistant message blocks. Tool results map
// to a user-role block, matching the Anthropic convention that only user
// and assistant roles exist on the wire.
func convertMessagesToAnthropic(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	var pending []anthropic.ContentBlockParamUnion
	pendingAssistant := false
	haveGroup := false

	flush := func() {
		if !haveGroup || len(pending) == 0 {
			pending = nil
			haveGroup = false
			return
		}
		if pendingAssistant {
			result = append(result, anthropic.NewAssistantMessage(pending...))
		} else {
			result = append(result, anthropic.NewUserMessage(pending...))
		}
		pending = nil
		haveGroup = false
	}

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		isAssistant := msg.Role == models.RoleAssistant
		if haveGroup && isAssistant != pendingAssistant {
			flush()
		}
		pendingAssistant = isAssistant
		haveGroup = true

		switch msg.Role {
		case models.RoleTool:
			pending = append(pending, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case models.RoleAssistant:
			if msg.ToolCallID != "" {
				var input map[string]any
				if msg.Content != "" {
					if err := json.Unmarshal([]byte(msg.Content), &input); err != nil {
						return nil, fmt.Errorf("invalid tool call arguments for %s: %w", msg.Name, err)
					}
				}
				pending = append(pending, anthropic.NewToolUseBlock(msg.ToolCallID, input, msg.Name))
			} else if msg.Content != "" {
				pending = append(pending, anthropic.NewTextBlock(msg.Content))
			}
		default:
			if msg.Content != "" {
				pending = append(pending, anthropic.NewTextBlock(msg.Content))
			}
		}
	}
	flush()

	return result, nil
}

func convertToolsToAnthropic(tools []models.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

func (p *Anthropic) convertResponse(message *anthropic.Message) models.Completion {
	completion := models.Completion{
		Usage: models.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			args, _ := json.Marshal(variant.Input)
			completion.ToolCalls = append(completion.ToolCalls, models.ToolCallRequest{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: args,
			})
		}
	}
	completion.Text = text.String()

	switch message.StopReason {
	case anthropic.StopReasonToolUse:
		completion.FinishReason = models.FinishToolCalls
	case anthropic.StopReasonMaxTokens:
		completion.FinishReason = models.FinishMaxTokens
	default:
		completion.FinishReason = models.FinishStop
	}
	return completion
}

func (p *Anthropic) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *Anthropic) getMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *Anthropic) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := (&Error{Provider: "anthropic", Model: model, Cause: err, Reason: FailoverUnknown}).
			WithStatus(apiErr.StatusCode)

		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					providerErr = providerErr.WithMessage(payload.Error.Message)
				}
				if payload.Error.Type != "" {
					providerErr = providerErr.WithCode(payload.Error.Type)
				}
				if payload.RequestID != "" {
					providerErr = providerErr.WithRequestID(payload.RequestID)
				}
			}
		}
		if providerErr.Message == "" {
			providerErr.Message = "anthropic request failed"
		}
		return providerErr
	}

	return NewError("anthropic", model, err)
}
