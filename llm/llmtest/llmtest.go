// Package llmtest provides a scripted llm.Client test double: callers queue
// up Completions (or errors) to return in order, and can inspect every
// Config the system under test sent.
package llmtest

import (
	"context"
	"sync"

	"github.com/agentexrun/orchestrator/llm"
)

// step is one scripted response.
type step struct {
	completion *llm.Completion
	err        error
}

// Client is an llm.Client that returns scripted responses in order. Once
// the script is exhausted, the last step repeats.
type Client struct {
	mu      sync.Mutex
	steps   []step
	nextIdx int
	calls   []llm.Config
}

// New returns a Client with an empty script; callers should queue at least
// one response with AddCompletion/AddError before use.
func New() *Client {
	return &Client{}
}

// AddCompletion queues comp to be returned by the next Complete call.
func (c *Client) AddCompletion(comp *llm.Completion) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, step{completion: comp})
	return c
}

// AddError queues err to be returned by the next Complete call.
func (c *Client) AddError(err error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, step{err: err})
	return c
}

// Complete returns the next scripted response, recording cfg for later
// inspection via Calls.
func (c *Client) Complete(_ context.Context, cfg llm.Config) (*llm.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, cfg)

	if len(c.steps) == 0 {
		return &llm.Completion{Choices: []llm.Choice{{FinishReason: llm.FinishStop}}}, nil
	}
	idx := c.nextIdx
	if idx >= len(c.steps) {
		idx = len(c.steps) - 1
	} else {
		c.nextIdx++
	}
	s := c.steps[idx]
	if s.err != nil {
		return nil, s.err
	}
	return s.completion, nil
}

// Calls returns every Config passed to Complete, in order.
func (c *Client) Calls() []llm.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Config(nil), c.calls...)
}
