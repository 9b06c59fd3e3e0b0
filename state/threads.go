package state

import (
	"context"
	"sort"

	"github.com/agentexrun/orchestrator/message"
)

// ThreadsService provides per-thread message operations over a task's
// AgentState. Every operation is a load-mutate-save cycle against the
// Repository; mutations for the same task id are serialized by a per-task
// lock so concurrent activities never interleave a read and a write.
type ThreadsService struct {
	repo  *Repository
	locks *taskLocks
}

// NewThreadsService returns a ThreadsService backed by repo.
func NewThreadsService(repo *Repository) *ThreadsService {
	return &ThreadsService{repo: repo, locks: newTaskLocks()}
}

func (s *ThreadsService) withState(ctx context.Context, taskID string, fn func(*AgentState) (bool, error)) error {
	lock := s.locks.forTask(taskID)
	lock.Lock()
	defer lock.Unlock()

	st, err := s.repo.Load(ctx, taskID)
	if err != nil {
		return err
	}
	dirty, err := fn(st)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	return s.repo.Save(ctx, taskID, st)
}

func thread(st *AgentState, name string) *Thread {
	t, ok := st.Threads[name]
	if !ok {
		t = &Thread{}
		st.Threads[name] = t
	}
	return t
}

// GetMessages returns a copy of every message in thread.
func (s *ThreadsService) GetMessages(ctx context.Context, taskID, threadName string) ([]message.Message, error) {
	var out []message.Message
	err := s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		t := thread(st, threadName)
		out = append([]message.Message(nil), t.Messages...)
		return false, nil
	})
	return out, err
}

// GetMessageByIndex returns the message at index i, or (zero, false) if out
// of range.
func (s *ThreadsService) GetMessageByIndex(ctx context.Context, taskID, threadName string, i int) (message.Message, bool, error) {
	var (
		out   message.Message
		found bool
	)
	err := s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		t := thread(st, threadName)
		if i < 0 || i >= len(t.Messages) {
			return false, nil
		}
		out, found = t.Messages[i], true
		return false, nil
	})
	return out, found, err
}

// BatchGetMessagesByIndices returns the message for each requested index, in
// the same order; out-of-range indices yield (zero, false) at that position.
func (s *ThreadsService) BatchGetMessagesByIndices(ctx context.Context, taskID, threadName string, indices []int) ([]message.Message, []bool, error) {
	out := make([]message.Message, len(indices))
	found := make([]bool, len(indices))
	err := s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		t := thread(st, threadName)
		for i, idx := range indices {
			if idx < 0 || idx >= len(t.Messages) {
				continue
			}
			out[i], found[i] = t.Messages[idx], true
		}
		return false, nil
	})
	return out, found, err
}

// AppendMessage appends m to the end of thread.
func (s *ThreadsService) AppendMessage(ctx context.Context, taskID, threadName string, m message.Message) error {
	return s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		t := thread(st, threadName)
		t.Messages = append(t.Messages, m)
		return true, nil
	})
}

// BatchAppendMessages appends every message in ms, in order, to thread.
func (s *ThreadsService) BatchAppendMessages(ctx context.Context, taskID, threadName string, ms []message.Message) error {
	if len(ms) == 0 {
		return nil
	}
	return s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		t := thread(st, threadName)
		t.Messages = append(t.Messages, ms...)
		return true, nil
	})
}

// OverrideMessage replaces the message at index i with m. Out-of-range i is
// a silent no-op.
func (s *ThreadsService) OverrideMessage(ctx context.Context, taskID, threadName string, i int, m message.Message) error {
	return s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		t := thread(st, threadName)
		if i < 0 || i >= len(t.Messages) {
			return false, nil
		}
		t.Messages[i] = m
		return true, nil
	})
}

// BatchOverrideMessages applies OverrideMessage for every index in ms, in
// ascending index order.
func (s *ThreadsService) BatchOverrideMessages(ctx context.Context, taskID, threadName string, ms map[int]message.Message) error {
	if len(ms) == 0 {
		return nil
	}
	indices := sortedIntKeys(ms)
	return s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		t := thread(st, threadName)
		for _, i := range indices {
			if i < 0 || i >= len(t.Messages) {
				continue
			}
			t.Messages[i] = ms[i]
		}
		return true, nil
	})
}

// InsertMessage inserts m at index i, shifting later messages back. Indices
// are resolved against the list as it evolves. BatchInsertMessages inserts
// several messages in one load-mutate-save cycle, but it too resolves each
// index against the list as earlier inserts have left it.
func (s *ThreadsService) InsertMessage(ctx context.Context, taskID, threadName string, i int, m message.Message) error {
	return s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		t := thread(st, threadName)
		t.Messages = insertAt(t.Messages, i, m)
		return true, nil
	})
}

// BatchInsertMessages inserts every message in ms, resolving indices in map
// iteration order against the evolving list (Go map iteration order is
// randomized, matching the source's documented "map iteration order"
// semantics rather than imposing an artificial total order).
func (s *ThreadsService) BatchInsertMessages(ctx context.Context, taskID, threadName string, ms map[int]message.Message) error {
	if len(ms) == 0 {
		return nil
	}
	return s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		t := thread(st, threadName)
		for i, m := range ms {
			t.Messages = insertAt(t.Messages, i, m)
		}
		return true, nil
	})
}

func insertAt(messages []message.Message, i int, m message.Message) []message.Message {
	if i < 0 {
		i = 0
	}
	if i >= len(messages) {
		return append(messages, m)
	}
	out := make([]message.Message, 0, len(messages)+1)
	out = append(out, messages[:i]...)
	out = append(out, m)
	out = append(out, messages[i:]...)
	return out
}

// DeleteMessage removes the message at index i. Out-of-range i is a silent
// no-op.
func (s *ThreadsService) DeleteMessage(ctx context.Context, taskID, threadName string, i int) error {
	return s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		t := thread(st, threadName)
		if i < 0 || i >= len(t.Messages) {
			return false, nil
		}
		t.Messages = append(t.Messages[:i], t.Messages[i+1:]...)
		return true, nil
	})
}

// DeleteAllMessages empties thread without removing it from the state.
func (s *ThreadsService) DeleteAllMessages(ctx context.Context, taskID, threadName string) error {
	return s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		t := thread(st, threadName)
		t.Messages = nil
		return true, nil
	})
}

// DeleteThread removes the named thread entirely.
func (s *ThreadsService) DeleteThread(ctx context.Context, taskID, threadName string) error {
	return s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		if _, ok := st.Threads[threadName]; !ok {
			return false, nil
		}
		delete(st.Threads, threadName)
		return true, nil
	})
}

func sortedIntKeys(m map[int]message.Message) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
