package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentexrun/orchestrator/action"
	"github.com/agentexrun/orchestrator/activity"
	"github.com/agentexrun/orchestrator/engine"
	"github.com/agentexrun/orchestrator/kv/inmem"
	"github.com/agentexrun/orchestrator/llm/llmtest"
	"github.com/agentexrun/orchestrator/notify"
	"github.com/agentexrun/orchestrator/state"
	"github.com/agentexrun/orchestrator/task"
)

type recordingSender struct{ sent []notify.Request }

func (s *recordingSender) Send(_ context.Context, req notify.Request) error {
	s.sent = append(s.sent, req)
	return nil
}

type fakeEngine struct {
	workflows  map[string]engine.WorkflowDefinition
	activities map[string]engine.ActivityDefinition
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{workflows: map[string]engine.WorkflowDefinition{}, activities: map[string]engine.ActivityDefinition{}}
}

func (f *fakeEngine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	f.workflows[def.Name] = def
	return nil
}

func (f *fakeEngine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	f.activities[def.Name] = def
	return nil
}

func (f *fakeEngine) StartWorkflow(context.Context, engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	return nil, nil
}

type fakeTemporalWorker struct {
	started bool
	stopped bool
}

func (w *fakeTemporalWorker) Start() error { w.started = true; return nil }
func (w *fakeTemporalWorker) Stop()        { w.stopped = true }

func newTestHost(t *testing.T, addr string) (*Host, *fakeEngine) {
	t.Helper()
	repo := state.NewRepository(inmem.New())
	tasks := task.NewInMemoryStore()
	acts := &activity.Activities{
		Threads:    state.NewThreadsService(repo),
		Context:    state.NewContextService(repo),
		LLM:        llmtest.New(),
		Registries: map[string]*action.Registry{"default": action.NewRegistry()},
		Notifier:   &recordingSender{},
		Tasks:      tasks,
	}
	eng := newFakeEngine()
	return &Host{Engine: eng, Acts: acts, TaskQueue: "queue-1", Tasks: tasks, ReadyzAddr: addr}, eng
}

func TestRegister_RegistersWorkflowAndEveryActivity(t *testing.T) {
	t.Parallel()

	host, eng := newTestHost(t, "")
	require.NoError(t, host.Register(t.Context()))

	require.Contains(t, eng.workflows, "AgentTaskWorkflow")
	require.Contains(t, eng.activities, string(activity.NameAppendMessagesToThread))
	require.Contains(t, eng.activities, string(activity.NameGetMessagesFromThread))
	require.Contains(t, eng.activities, string(activity.NameAddArtifactToContext))
	require.Contains(t, eng.activities, string(activity.NameDecideAction))
	require.Contains(t, eng.activities, string(activity.NameTakeAction))
	require.Contains(t, eng.activities, string(activity.NameSendNotification))
	require.Contains(t, eng.activities, string(activity.NameAskLLM))
	require.Contains(t, eng.activities, string(activity.NameRecordTaskMeta))
}

func TestStart_ServesReadyzOnlyAfterWorkerStarted(t *testing.T) {
	t.Parallel()

	host, _ := newTestHost(t, "127.0.0.1:18765")
	tw := &fakeTemporalWorker{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- host.Start(ctx, tw) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18765/readyz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var ready bool
		_ = json.NewDecoder(resp.Body).Decode(&ready)
		return resp.StatusCode == http.StatusOK && ready
	}, 2*time.Second, 10*time.Millisecond)

	require.True(t, tw.started)

	cancel()
	require.NoError(t, <-done)
}

func TestTaskAdmin_ListAndDeleteTask(t *testing.T) {
	t.Parallel()

	host, _ := newTestHost(t, "127.0.0.1:18766")
	tw := &fakeTemporalWorker{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- host.Start(ctx, tw) }()

	require.NoError(t, host.Tasks.Upsert(context.Background(), task.Meta{TaskID: "task-1", Status: task.StatusRunning}))

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18766/tasks")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var metas []task.Meta
		_ = json.NewDecoder(resp.Body).Decode(&metas)
		return len(metas) == 1 && metas[0].TaskID == "task-1"
	}, 2*time.Second, 10*time.Millisecond)

	req, err := http.NewRequest(http.MethodDelete, "http://127.0.0.1:18766/tasks/task-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = host.Tasks.Load(context.Background(), "task-1")
	require.ErrorIs(t, err, task.ErrNotFound)

	cancel()
	require.NoError(t, <-done)
	require.True(t, tw.stopped)
}
