package llmtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentexrun/orchestrator/llm"
)

func TestClient_ReturnsQueuedCompletionsInOrder(t *testing.T) {
	t.Parallel()

	c := New().
		AddCompletion(&llm.Completion{Choices: []llm.Choice{{FinishReason: llm.FinishToolCalls}}}).
		AddCompletion(&llm.Completion{Choices: []llm.Choice{{FinishReason: llm.FinishStop}}})

	first, err := c.Complete(context.Background(), llm.Config{Model: "m"})
	require.NoError(t, err)
	require.Equal(t, llm.FinishToolCalls, first.Choices[0].FinishReason)

	second, err := c.Complete(context.Background(), llm.Config{Model: "m"})
	require.NoError(t, err)
	require.Equal(t, llm.FinishStop, second.Choices[0].FinishReason)

	require.Len(t, c.Calls(), 2)
}

func TestClient_ReturnsQueuedError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("backend down")
	c := New().AddError(wantErr)

	_, err := c.Complete(context.Background(), llm.Config{})
	require.ErrorIs(t, err, wantErr)
}

func TestClient_RepeatsLastStepOnceExhausted(t *testing.T) {
	t.Parallel()

	c := New().AddCompletion(&llm.Completion{Choices: []llm.Choice{{FinishReason: llm.FinishStop}}})

	_, err := c.Complete(context.Background(), llm.Config{})
	require.NoError(t, err)
	last, err := c.Complete(context.Background(), llm.Config{})
	require.NoError(t, err)
	require.Equal(t, llm.FinishStop, last.Choices[0].FinishReason)
}
