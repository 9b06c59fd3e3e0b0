// Package openai implements llm.Client against the OpenAI Chat Completions
// API, translating this module's Config/Completion types into
// ChatCompletionRequest/Response using github.com/sashabaranov/go-openai.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentexrun/orchestrator/llm"
	"github.com/agentexrun/orchestrator/message"
)

// ChatClient captures the subset of the go-openai client this adapter uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options configures the adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
}

// Client implements llm.Client via the OpenAI Chat Completions API.
type Client struct {
	chat  ChatClient
	model string
}

// New builds a Client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai: chat client is required")
	}
	model := strings.TrimSpace(opts.DefaultModel)
	if model == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: opts.Client, model: model}, nil
}

// NewFromAPIKey constructs a Client using go-openai's default HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey), DefaultModel: defaultModel})
}

// Complete renders a chat completion for cfg.
func (c *Client) Complete(ctx context.Context, cfg llm.Config) (*llm.Completion, error) {
	if len(cfg.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = c.model
	}

	messages, err := encodeMessages(cfg.Messages)
	if err != nil {
		return nil, err
	}
	tools, err := encodeTools(cfg.Tools)
	if err != nil {
		return nil, err
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Tools:    tools,
		Stream:   false,
	}
	if cfg.Temperature != nil {
		req.Temperature = float32(*cfg.Temperature)
	}
	if cfg.TopP != nil {
		req.TopP = float32(*cfg.TopP)
	}
	if cfg.MaxTokens != nil {
		req.MaxTokens = *cfg.MaxTokens
	}
	if len(cfg.Stop) > 0 {
		req.Stop = cfg.Stop
	}
	if cfg.Seed != nil {
		req.Seed = cfg.Seed
	}
	if cfg.ParallelToolCalls != nil {
		req.ParallelToolCalls = *cfg.ParallelToolCalls
	}
	if cfg.N != nil {
		req.N = *cfg.N
	}
	if cfg.ResponseFormat != nil {
		schema, err := json.Marshal(cfg.ResponseFormat.Schema)
		if err != nil {
			return nil, fmt.Errorf("openai: encode response format schema: %w", err)
		}
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   cfg.ResponseFormat.Name,
				Schema: json.RawMessage(schema),
				Strict: true,
			},
		}
	}

	resp, err := c.chat.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	completion := translateResponse(resp)
	if cfg.ResponseFormat != nil && len(completion.Choices) > 0 {
		var parsed any
		if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &parsed); err != nil {
			return nil, fmt.Errorf("openai: parse response_format content: %w", err)
		}
		completion.Choices[0].Message.Parsed = parsed
	}
	return completion, nil
}

func encodeMessages(messages []message.Message) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		cm := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolType(tc.Type),
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out[i] = cm
	}
	return out, nil
}

func encodeTools(schemas []map[string]any) ([]openai.Tool, error) {
	if len(schemas) == 0 {
		return nil, nil
	}
	tools := make([]openai.Tool, 0, len(schemas))
	for _, schema := range schemas {
		fn, _ := schema["function"].(map[string]any)
		name, _ := fn["name"].(string)
		description, _ := fn["description"].(string)
		params, err := json.Marshal(fn["parameters"])
		if err != nil {
			return nil, fmt.Errorf("openai: marshal tool %s schema: %w", name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        name,
				Description: description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return tools, nil
}

func translateResponse(resp openai.ChatCompletionResponse) *llm.Completion {
	choices := make([]llm.Choice, len(resp.Choices))
	for i, choice := range resp.Choices {
		toolCalls := make([]message.ToolCallRequest, len(choice.Message.ToolCalls))
		for j, tc := range choice.Message.ToolCalls {
			toolCalls[j] = message.ToolCallRequest{
				ID:   tc.ID,
				Type: string(tc.Type),
				Function: message.ToolCallFunc{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			}
		}
		choices[i] = llm.Choice{
			Index:        choice.Index,
			FinishReason: llm.FinishReason(choice.FinishReason),
			Message:      message.Assistant(choice.Message.Content, toolCalls...),
		}
	}
	return &llm.Completion{
		Choices: choices,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
}
