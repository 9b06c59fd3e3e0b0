package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentexrun/orchestrator/kv/inmem"
	"github.com/agentexrun/orchestrator/message"
)

func newThreadsService() *ThreadsService {
	return NewThreadsService(NewRepository(inmem.New()))
}

func TestThreadsService_AppendAndGet(t *testing.T) {
	t.Parallel()

	svc := newThreadsService()
	ctx := t.Context()

	require.NoError(t, svc.AppendMessage(ctx, "task-1", "root", message.User("hi")))
	require.NoError(t, svc.AppendMessage(ctx, "task-1", "root", message.Assistant("hello")))

	msgs, err := svc.GetMessages(ctx, "task-1", "root")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "hi", msgs[0].Content)
}

func TestThreadsService_GetMessageByIndex_OutOfRangeReturnsNotFound(t *testing.T) {
	t.Parallel()

	svc := newThreadsService()
	ctx := t.Context()
	require.NoError(t, svc.AppendMessage(ctx, "task-1", "root", message.User("hi")))

	_, found, err := svc.GetMessageByIndex(ctx, "task-1", "root", 5)
	require.NoError(t, err)
	require.False(t, found)
}

func TestThreadsService_OverrideMessage_OutOfRangeIsNoOp(t *testing.T) {
	t.Parallel()

	svc := newThreadsService()
	ctx := t.Context()
	require.NoError(t, svc.AppendMessage(ctx, "task-1", "root", message.User("hi")))

	require.NoError(t, svc.OverrideMessage(ctx, "task-1", "root", 99, message.User("replaced")))

	msgs, err := svc.GetMessages(ctx, "task-1", "root")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hi", msgs[0].Content)
}

func TestThreadsService_DeleteMessage_OutOfRangeIsNoOp(t *testing.T) {
	t.Parallel()

	svc := newThreadsService()
	ctx := t.Context()
	require.NoError(t, svc.AppendMessage(ctx, "task-1", "root", message.User("hi")))

	require.NoError(t, svc.DeleteMessage(ctx, "task-1", "root", 99))

	msgs, err := svc.GetMessages(ctx, "task-1", "root")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestThreadsService_InsertMessage(t *testing.T) {
	t.Parallel()

	svc := newThreadsService()
	ctx := t.Context()
	require.NoError(t, svc.AppendMessage(ctx, "task-1", "root", message.User("first")))
	require.NoError(t, svc.AppendMessage(ctx, "task-1", "root", message.User("third")))

	require.NoError(t, svc.InsertMessage(ctx, "task-1", "root", 1, message.User("second")))

	msgs, err := svc.GetMessages(ctx, "task-1", "root")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "second", msgs[1].Content)
}

func TestThreadsService_DeleteThread(t *testing.T) {
	t.Parallel()

	svc := newThreadsService()
	ctx := t.Context()
	require.NoError(t, svc.AppendMessage(ctx, "task-1", "root", message.User("hi")))
	require.NoError(t, svc.DeleteThread(ctx, "task-1", "root"))

	msgs, err := svc.GetMessages(ctx, "task-1", "root")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestThreadsService_BatchGetMessagesByIndices(t *testing.T) {
	t.Parallel()

	svc := newThreadsService()
	ctx := t.Context()
	require.NoError(t, svc.BatchAppendMessages(ctx, "task-1", "root", []message.Message{
		message.User("a"), message.User("b"), message.User("c"),
	}))

	msgs, found, err := svc.BatchGetMessagesByIndices(ctx, "task-1", "root", []int{0, 99, 2})
	require.NoError(t, err)
	require.Equal(t, []bool{true, false, true}, found)
	require.Equal(t, "a", msgs[0].Content)
	require.Equal(t, "c", msgs[2].Content)
}
