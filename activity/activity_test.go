package activity

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentexrun/orchestrator/action"
	"github.com/agentexrun/orchestrator/apperr"
	"github.com/agentexrun/orchestrator/kv/inmem"
	"github.com/agentexrun/orchestrator/llm"
	"github.com/agentexrun/orchestrator/llm/llmtest"
	"github.com/agentexrun/orchestrator/message"
	"github.com/agentexrun/orchestrator/notify"
	"github.com/agentexrun/orchestrator/state"
	"github.com/agentexrun/orchestrator/task"
)

func newActivities(t *testing.T, reg *action.Registry, client *llmtest.Client) *Activities {
	t.Helper()
	repo := state.NewRepository(inmem.New())
	return &Activities{
		Threads:    state.NewThreadsService(repo),
		Context:    state.NewContextService(repo),
		LLM:        client,
		Registries: map[string]*action.Registry{"default": reg},
		Notifier:   &recordingSender{},
		Tasks:      task.NewInMemoryStore(),
	}
}

type recordingSender struct {
	sent []notify.Request
}

func (r *recordingSender) Send(_ context.Context, req notify.Request) error {
	r.sent = append(r.sent, req)
	return nil
}

func TestDecideAction_AppendsAssistantMessageAsIs(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	reg := action.NewRegistry()
	client := llmtest.New().AddCompletion(&llm.Completion{
		Choices: []llm.Choice{{FinishReason: llm.FinishStop, Message: message.Assistant("all done")}},
	})
	a := newActivities(t, reg, client)

	require.NoError(t, a.Threads.AppendMessage(ctx, "task-1", "main", message.User("do the thing")))

	completion, err := a.DecideAction(ctx, DecideActionInput{
		TaskID:            "task-1",
		ThreadName:        "main",
		ActionRegistryKey: "default",
		Model:             "gpt-test",
	})
	require.NoError(t, err)
	require.Equal(t, "all done", completion.Choices[0].Message.Content)

	messages, err := a.Threads.GetMessages(ctx, "task-1", "main")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "all done", messages[1].Content)
	require.Equal(t, 1, len(client.Calls()))
}

func TestDecideAction_BackfillsExplanationWhenContentEmpty(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	reg := action.NewRegistry()
	toolCall := message.ToolCallRequest{ID: "call-1", Type: "function", Function: message.ToolCallFunc{Name: "send_email", Arguments: "{}"}}
	client := llmtest.New().
		AddCompletion(&llm.Completion{Choices: []llm.Choice{{
			FinishReason: llm.FinishToolCalls,
			Message:      message.Assistant("", toolCall),
		}}}).
		AddCompletion(&llm.Completion{Choices: []llm.Choice{{
			FinishReason: llm.FinishStop,
			Message:      message.Assistant("Sending the email now, give me a moment."),
		}}})
	a := newActivities(t, reg, client)

	require.NoError(t, a.Threads.AppendMessage(ctx, "task-1", "main", message.User("send the email")))

	completion, err := a.DecideAction(ctx, DecideActionInput{
		TaskID:            "task-1",
		ThreadName:        "main",
		ActionRegistryKey: "default",
		Model:             "gpt-test",
	})
	require.NoError(t, err)
	require.Equal(t, "Sending the email now, give me a moment.", completion.Choices[0].Message.Content)
	require.Len(t, completion.Choices[0].Message.ToolCalls, 1)

	messages, err := a.Threads.GetMessages(ctx, "task-1", "main")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "Sending the email now, give me a moment.", messages[1].Content)
	require.Len(t, messages[1].ToolCalls, 1)

	calls := client.Calls()
	require.Len(t, calls, 2)
	require.Len(t, calls[1].Messages, len(calls[0].Messages)+3)
}

func TestDecideAction_UnknownRegistry(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	a := newActivities(t, action.NewRegistry(), llmtest.New())
	_, err := a.DecideAction(ctx, DecideActionInput{TaskID: "task-1", ThreadName: "main", ActionRegistryKey: "missing"})
	require.Error(t, err)
	require.True(t, apperr.IsClientError(err))
}

func TestTakeAction_SuccessAppendsToolMessage(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	reg := action.NewRegistry()
	require.NoError(t, reg.Register(action.RegisterOptions{
		Name:        "echo",
		Description: "echoes its input",
		Handler: func(_ context.Context, _ action.Reserved, args json.RawMessage) (action.Response, error) {
			return action.Response{Message: string(args)}, nil
		},
	}))
	a := newActivities(t, reg, llmtest.New())

	resp, err := a.TakeAction(ctx, TakeActionInput{
		TaskID:            "task-1",
		ThreadName:        "main",
		ActionRegistryKey: "default",
		ToolCallID:        "call-1",
		ToolName:          "echo",
		ToolArgs:          json.RawMessage(`{"x":1}`),
	})
	require.NoError(t, err)
	require.True(t, resp.Success)

	messages, err := a.Threads.GetMessages(ctx, "task-1", "main")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, message.RoleTool, messages[0].Role)
	require.Equal(t, "call-1", messages[0].ToolCallID)
	require.Equal(t, "echo", messages[0].Name)
}

func TestTakeAction_FailureStillAppendsToolMessageThenReraises(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	handlerErr := errors.New("downstream unavailable")
	reg := action.NewRegistry()
	require.NoError(t, reg.Register(action.RegisterOptions{
		Name:        "flaky",
		Description: "always fails",
		Handler: func(_ context.Context, _ action.Reserved, _ json.RawMessage) (action.Response, error) {
			return action.Response{}, handlerErr
		},
	}))
	a := newActivities(t, reg, llmtest.New())

	_, err := a.TakeAction(ctx, TakeActionInput{
		TaskID:            "task-1",
		ThreadName:        "main",
		ActionRegistryKey: "default",
		ToolCallID:        "call-2",
		ToolName:          "flaky",
		ToolArgs:          json.RawMessage(`{}`),
	})
	require.Error(t, err)
	require.ErrorIs(t, err, handlerErr)

	messages, getErr := a.Threads.GetMessages(ctx, "task-1", "main")
	require.NoError(t, getErr)
	require.Len(t, messages, 1)
	require.Equal(t, message.RoleTool, messages[0].Role)
	require.Equal(t, "call-2", messages[0].ToolCallID)
	require.Contains(t, messages[0].Content, "downstream unavailable")
}

func TestTakeAction_ReplayOverwritesPriorToolMessageByCallID(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	calls := 0
	reg := action.NewRegistry()
	require.NoError(t, reg.Register(action.RegisterOptions{
		Name:        "counter",
		Description: "counts invocations",
		Handler: func(_ context.Context, _ action.Reserved, _ json.RawMessage) (action.Response, error) {
			calls++
			return action.Response{Message: calls}, nil
		},
	}))
	a := newActivities(t, reg, llmtest.New())

	input := TakeActionInput{
		TaskID:            "task-1",
		ThreadName:        "main",
		ActionRegistryKey: "default",
		ToolCallID:        "call-1",
		ToolName:          "counter",
		ToolArgs:          json.RawMessage(`{}`),
	}

	_, err := a.TakeAction(ctx, input)
	require.NoError(t, err)
	_, err = a.TakeAction(ctx, input)
	require.NoError(t, err)

	messages, err := a.Threads.GetMessages(ctx, "task-1", "main")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "2", messages[0].Content)
}

func TestAddArtifactToContext_Overwrites(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	a := newActivities(t, action.NewRegistry(), llmtest.New())
	art := state.Artifact{Name: "report", Content: "v1"}
	require.NoError(t, a.AddArtifactToContext(ctx, AddArtifactToContextInput{TaskID: "task-1", Artifact: art}))

	art.Content = "v2"
	require.NoError(t, a.AddArtifactToContext(ctx, AddArtifactToContextInput{TaskID: "task-1", Artifact: art}))

	got, found, err := a.Context.GetArtifact(ctx, "task-1", "report")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v2", got.Content)
}

func TestSendNotification_DelegatesToSender(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	a := newActivities(t, action.NewRegistry(), llmtest.New())
	err := a.SendNotification(ctx, notify.Request{Topic: "agent-updates", Message: "done"})
	require.NoError(t, err)
	require.Equal(t, []notify.Request{{Topic: "agent-updates", Message: "done"}}, a.Notifier.(*recordingSender).sent)
}

func TestAskLLM_PassesThroughCompletion(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	client := llmtest.New().AddCompletion(&llm.Completion{Choices: []llm.Choice{{FinishReason: llm.FinishStop}}})
	a := newActivities(t, action.NewRegistry(), client)

	completion, err := a.AskLLM(ctx, AskLLMInput{Config: llm.Config{Model: "gpt-test"}})
	require.NoError(t, err)
	require.Equal(t, llm.FinishStop, completion.Choices[0].FinishReason)
}

func TestRecordTaskMeta_UpsertsIntoStore(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	a := newActivities(t, action.NewRegistry(), llmtest.New())
	require.NoError(t, a.RecordTaskMeta(ctx, RecordTaskMetaInput{
		TaskID:  "task-1",
		AgentID: "agent-1",
		RunID:   "run-1",
		Status:  task.StatusRunning,
	}))

	got, err := a.Tasks.Load(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, "agent-1", got.AgentID)
	require.Equal(t, "run-1", got.RunID)
	require.Equal(t, task.StatusRunning, got.Status)

	require.NoError(t, a.RecordTaskMeta(ctx, RecordTaskMetaInput{
		TaskID: "task-1",
		RunID:  "run-1",
		Status: task.StatusCompleted,
	}))
	got, err = a.Tasks.Load(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, got.Status)
}
