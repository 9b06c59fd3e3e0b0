// Package llm defines the model-completion gateway port: an asynchronous
// completion call over a thread's messages and a registry's function-call
// schemas, returning tagged finish reasons and usage accounting. llm/openai
// implements it against the OpenAI API; llmtest provides a test double.
package llm

import (
	"context"

	"github.com/agentexrun/orchestrator/message"
)

// FinishReason classifies why a model stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolCalls     FinishReason = "tool_calls"
)

// Config is the full set of parameters a completion call accepts. Most
// fields are optional; zero values are omitted by implementations that
// serialize this over the wire.
type Config struct {
	Model             string
	Messages          []message.Message
	Tools             []map[string]any
	Temperature       *float64
	TopP              *float64
	MaxTokens         *int
	Stop              []string
	ResponseFormat    *ResponseFormat
	Seed              *int
	ToolChoice        string
	ParallelToolCalls *bool
	LogProbs          bool
	TopLogProbs       *int
	N                 *int
	Stream            bool
}

// ResponseFormat asks the model to emit a structured response. When
// non-nil, a successful completion's first choice content is decoded as JSON
// and stored in that choice's message Parsed field; the decoded value is not
// validated against Schema.
type ResponseFormat struct {
	Name   string
	Schema map[string]any
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt"`
	CompletionTokens int `json:"completion"`
	TotalTokens      int `json:"total"`
}

// Choice is one candidate completion returned by the model.
type Choice struct {
	Index        int             `json:"index"`
	FinishReason FinishReason    `json:"finish_reason"`
	Message      message.Message `json:"message"`
}

// Completion is the full result of a model call.
type Completion struct {
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Client performs model completions. Backend errors are returned, never
// swallowed into an empty Completion.
type Client interface {
	Complete(ctx context.Context, cfg Config) (*Completion, error)
}
