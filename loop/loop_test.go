package loop

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentexrun/orchestrator/action"
	"github.com/agentexrun/orchestrator/activity"
	"github.com/agentexrun/orchestrator/engine"
	"github.com/agentexrun/orchestrator/kv/inmem"
	"github.com/agentexrun/orchestrator/llm"
	"github.com/agentexrun/orchestrator/llm/llmtest"
	"github.com/agentexrun/orchestrator/message"
	"github.com/agentexrun/orchestrator/state"
	"github.com/agentexrun/orchestrator/telemetry"
)

// fakeWorkflowContext runs activities synchronously in-process against a
// handler map, enough to exercise loop.Run's control flow without a real
// engine.
type fakeWorkflowContext struct {
	ctx      context.Context
	handlers map[string]func(context.Context, any) (any, error)
}

func newFakeWorkflowContext(handlers map[string]func(context.Context, any) (any, error)) *fakeWorkflowContext {
	return &fakeWorkflowContext{ctx: context.Background(), handlers: handlers}
}

func (f *fakeWorkflowContext) Context() context.Context { return f.ctx }
func (f *fakeWorkflowContext) WorkflowID() string        { return "task-1" }
func (f *fakeWorkflowContext) RunID() string              { return "run-1" }

func (f *fakeWorkflowContext) ExecuteActivity(ctx context.Context, req engine.ActivityRequest, result any) error {
	fut, err := f.ExecuteActivityAsync(ctx, req)
	if err != nil {
		return err
	}
	return fut.Get(ctx, result)
}

func (f *fakeWorkflowContext) ExecuteActivityAsync(ctx context.Context, req engine.ActivityRequest) (engine.Future, error) {
	handler, ok := f.handlers[req.Name]
	if !ok {
		return nil, &unknownActivityError{name: req.Name}
	}
	out, err := handler(ctx, req.Input)
	return &fakeFuture{out: out, err: err}, nil
}

func (f *fakeWorkflowContext) SignalChannel(string) engine.SignalChannel { return nil }

func (f *fakeWorkflowContext) SetQueryHandler(string, func(args any) (any, error)) error { return nil }

func (f *fakeWorkflowContext) Await(condition func() bool) error {
	if !condition() {
		return nil
	}
	return nil
}
func (f *fakeWorkflowContext) Go(fn func(ctx engine.WorkflowContext)) { fn(f) }
func (f *fakeWorkflowContext) Logger() telemetry.Logger                  { return telemetry.NewNoopLogger() }
func (f *fakeWorkflowContext) Metrics() telemetry.Metrics                { return telemetry.NewNoopMetrics() }
func (f *fakeWorkflowContext) Tracer() telemetry.Tracer                  { return telemetry.NewNoopTracer() }
func (f *fakeWorkflowContext) Now() time.Time                            { return time.Unix(0, 0) }

type unknownActivityError struct{ name string }

func (e *unknownActivityError) Error() string { return "unknown activity: " + e.name }

type fakeFuture struct {
	out any
	err error
}

func (f *fakeFuture) Get(_ context.Context, result any) error {
	if f.err != nil {
		return f.err
	}
	b, err := json.Marshal(f.out)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, result)
}

func (f *fakeFuture) IsReady() bool { return true }

func newTestActivities(t *testing.T, reg *action.Registry, client *llmtest.Client) *activity.Activities {
	t.Helper()
	repo := state.NewRepository(inmem.New())
	return &activity.Activities{
		Threads:    state.NewThreadsService(repo),
		Context:    state.NewContextService(repo),
		LLM:        client,
		Registries: map[string]*action.Registry{"default": reg},
	}
}

func handlersFor(acts *activity.Activities) map[string]func(context.Context, any) (any, error) {
	return map[string]func(context.Context, any) (any, error){
		string(activity.NameDecideAction): func(ctx context.Context, in any) (any, error) {
			var input activity.DecideActionInput
			remarshal(in, &input)
			return acts.DecideAction(ctx, input)
		},
		string(activity.NameTakeAction): func(ctx context.Context, in any) (any, error) {
			var input activity.TakeActionInput
			remarshal(in, &input)
			return acts.TakeAction(ctx, input)
		},
	}
}

func remarshal(in any, dest any) {
	b, _ := json.Marshal(in)
	_ = json.Unmarshal(b, dest)
}

func TestRun_StopsOnFirstStopFinish(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	reg := action.NewRegistry()
	client := llmtest.New().AddCompletion(&llm.Completion{
		Choices: []llm.Choice{{FinishReason: llm.FinishStop, Message: message.Assistant("all set")}},
	})
	acts := newTestActivities(t, reg, client)
	require.NoError(t, acts.Threads.AppendMessage(ctx, "task-1", "main", message.User("go")))

	wfCtx := newFakeWorkflowContext(handlersFor(acts))
	content, err := Run(wfCtx, Params{TaskID: "task-1", ThreadName: "main", ActionRegistryKey: "default", Model: "gpt-test"}, nil)
	require.NoError(t, err)
	require.Equal(t, "all set", content)
}

func TestRun_FansOutToolCallsThenContinues(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	reg := action.NewRegistry()
	require.NoError(t, reg.Register(action.RegisterOptions{
		Name:        "lookup",
		Description: "looks something up",
		Handler: func(_ context.Context, _ action.Reserved, _ json.RawMessage) (action.Response, error) {
			return action.Response{Message: "found it"}, nil
		},
	}))

	toolCall := message.ToolCallRequest{ID: "call-1", Type: "function", Function: message.ToolCallFunc{Name: "lookup", Arguments: "{}"}}
	client := llmtest.New().
		AddCompletion(&llm.Completion{Choices: []llm.Choice{{
			FinishReason: llm.FinishToolCalls,
			Message:      message.Assistant("checking now", toolCall),
		}}}).
		AddCompletion(&llm.Completion{Choices: []llm.Choice{{
			FinishReason: llm.FinishStop,
			Message:      message.Assistant("done"),
		}}})
	acts := newTestActivities(t, reg, client)
	require.NoError(t, acts.Threads.AppendMessage(ctx, "task-1", "main", message.User("look it up")))

	var events []string
	emit := func(name string, _ map[string]any) { events = append(events, name) }

	wfCtx := newFakeWorkflowContext(handlersFor(acts))
	content, err := Run(wfCtx, Params{TaskID: "task-1", ThreadName: "main", ActionRegistryKey: "default", Model: "gpt-test"}, emit)
	require.NoError(t, err)
	require.Equal(t, "done", content)
	require.Contains(t, events, "decision_made")
	require.Contains(t, events, "executing_tool_calls")
	require.Contains(t, events, "executing_tool_call")

	messages, err := acts.Threads.GetMessages(ctx, "task-1", "main")
	require.NoError(t, err)

	var toolMsgFound bool
	for _, m := range messages {
		if m.Role == message.RoleTool && m.ToolCallID == "call-1" {
			toolMsgFound = true
			require.Equal(t, "found it", m.Content)
		}
	}
	require.True(t, toolMsgFound)
}

func TestRun_PropagatesActivityError(t *testing.T) {
	t.Parallel()

	wfCtx := newFakeWorkflowContext(map[string]func(context.Context, any) (any, error){})
	_, err := Run(wfCtx, Params{TaskID: "task-1", ThreadName: "main", ActionRegistryKey: "default"}, nil)
	require.Error(t, err)
}
