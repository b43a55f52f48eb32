package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexuscore/nexuscore/pkg/models"
)

// OpenAIConfig configures an OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// OpenAI implements Provider against OpenAI's chat-completions API. Its
// request/response shape also grounds any local OpenAI-compatible server
// (e.g. an LM Studio-style endpoint) reached by overriding BaseURL.
type OpenAI struct {
	base         baseProvider
	client       *openai.Client
	defaultModel string
}

// NewOpenAI builds an OpenAI provider from config.
func NewOpenAI(config OpenAIConfig) (*OpenAI, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gpt-4o"
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAI{
		base:         newBaseProvider("openai", config.MaxRetries, config.RetryDelay),
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *OpenAI) Name() string { return "openai" }

// Complete sends req to the chat-completions endpoint and blocks for the
// full response.
func (p *OpenAI) Complete(ctx context.Context, req CompletionRequest) (models.Completion, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return models.Completion{}, fmt.Errorf("openai: %w", err)
	}

	var resp openai.ChatCompletionResponse
	err = p.base.retry(ctx, func() error {
		r, callErr := p.client.CreateChatCompletion(ctx, chatReq)
		if callErr != nil {
			return p.wrapError(callErr, chatReq.Model)
		}
		resp = r
		return nil
	})
	if err != nil {
		return models.Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return models.Completion{}, fmt.Errorf("openai: empty response for model %s", chatReq.Model)
	}

	return convertOpenAIResponse(resp), nil
}

func (p *OpenAI) buildRequest(req CompletionRequest) (openai.ChatCompletionRequest, error) {
	messages := convertMessagesToOpenAI(req.Messages, req.System)

	chatReq := openai.ChatCompletionRequest{
		Model:    p.getModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToolsToOpenAI(req.Tools)
	}
	return chatReq, nil
}

func convertMessagesToOpenAI(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case models.RoleAssistant:
			out := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			if msg.ToolCallID != "" {
				out.Content = ""
				out.ToolCalls = []openai.ToolCall{{
					ID:   msg.ToolCallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      msg.Name,
						Arguments: msg.Content,
					},
				}}
			}
			result = append(result, out)
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Content})
		default:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		}
	}
	return result
}

func convertToolsToOpenAI(tools []models.ToolSchema) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func convertOpenAIResponse(resp openai.ChatCompletionResponse) models.Completion {
	choice := resp.Choices[0]
	completion := models.Completion{
		Text: choice.Message.Content,
		Usage: models.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, models.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	switch choice.FinishReason {
	case openai.FinishReasonToolCalls:
		completion.FinishReason = models.FinishToolCalls
	case openai.FinishReasonLength:
		completion.FinishReason = models.FinishMaxTokens
	default:
		completion.FinishReason = models.FinishStop
	}
	return completion
}

func (p *OpenAI) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *OpenAI) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := (&Error{Provider: "openai", Model: model, Cause: err, Reason: FailoverUnknown}).
			WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		if apiErr.Code != nil {
			if code, ok := apiErr.Code.(string); ok {
				providerErr = providerErr.WithCode(code)
			}
		}
		return providerErr
	}

	return NewError("openai", model, err)
}
