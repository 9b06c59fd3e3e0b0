package state

import (
	"context"

	"github.com/agentexrun/orchestrator/apperr"
)

// ContextService provides operations over a task's keyed context map and
// its dedicated artifacts sub-map. Like ThreadsService, every operation is
// a serialized load-mutate-save cycle.
type ContextService struct {
	repo  *Repository
	locks *taskLocks
}

// NewContextService returns a ContextService backed by repo.
func NewContextService(repo *Repository) *ContextService {
	return &ContextService{repo: repo, locks: newTaskLocks()}
}

func (s *ContextService) withState(ctx context.Context, taskID string, fn func(*AgentState) (bool, error)) error {
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

// GetAll returns a copy of the entire context map, including "artifacts".
func (s *ContextService) GetAll(ctx context.Context, taskID string) (map[string]any, error) {
	var out map[string]any
	err := s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		out = make(map[string]any, len(st.Context))
		for k, v := range st.Context {
			out[k] = v
		}
		return false, nil
	})
	return out, err
}

// GetValue returns the value at key, or (nil, false) if absent.
func (s *ContextService) GetValue(ctx context.Context, taskID, key string) (any, bool, error) {
	var (
		out   any
		found bool
	)
	err := s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		out, found = st.Context[key]
		return false, nil
	})
	return out, found, err
}

// BatchGetValues returns the value for each key, in order; absent keys
// yield (nil, false) at that position.
func (s *ContextService) BatchGetValues(ctx context.Context, taskID string, keys []string) ([]any, []bool, error) {
	out := make([]any, len(keys))
	found := make([]bool, len(keys))
	err := s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		for i, k := range keys {
			out[i], found[i] = st.Context[k]
		}
		return false, nil
	})
	return out, found, err
}

// SetValue sets key to value, overwriting any prior value.
func (s *ContextService) SetValue(ctx context.Context, taskID, key string, value any) error {
	return s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		st.Context[key] = value
		return true, nil
	})
}

// BatchSetValue sets every key/value pair in values.
func (s *ContextService) BatchSetValue(ctx context.Context, taskID string, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	return s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		for k, v := range values {
			st.Context[k] = v
		}
		return true, nil
	})
}

// DeleteValue removes key. Deleting an absent key is a no-op.
func (s *ContextService) DeleteValue(ctx context.Context, taskID, key string) error {
	return s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		if _, ok := st.Context[key]; !ok {
			return false, nil
		}
		delete(st.Context, key)
		return true, nil
	})
}

// BatchDeleteValue removes every key in keys.
func (s *ContextService) BatchDeleteValue(ctx context.Context, taskID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		for _, k := range keys {
			delete(st.Context, k)
		}
		return true, nil
	})
}

// DeleteAll clears every key in the context map, including "artifacts".
func (s *ContextService) DeleteAll(ctx context.Context, taskID string) error {
	return s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		st.Context = map[string]any{artifactsKey: map[string]Artifact{}}
		return true, nil
	})
}

// GetArtifact returns the named artifact, or (zero, false) if absent.
func (s *ContextService) GetArtifact(ctx context.Context, taskID, name string) (Artifact, bool, error) {
	var (
		out   Artifact
		found bool
	)
	err := s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		out, found = st.artifacts()[name]
		return false, nil
	})
	return out, found, err
}

// GetArtifacts returns every artifact currently stored for the task.
func (s *ContextService) GetArtifacts(ctx context.Context, taskID string) ([]Artifact, error) {
	var out []Artifact
	err := s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		for _, a := range st.artifacts() {
			out = append(out, a)
		}
		return false, nil
	})
	return out, err
}

// SetArtifact stores artifact under its Name. A duplicate name without
// overwrite fails with a ClientError and leaves the state unchanged.
func (s *ContextService) SetArtifact(ctx context.Context, taskID string, artifact Artifact, overwrite bool) error {
	return s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		arts := st.artifacts()
		if _, exists := arts[artifact.Name]; exists && !overwrite {
			return false, apperr.NewClientErrorf("artifact %q already exists", artifact.Name)
		}
		arts[artifact.Name] = artifact
		st.Context[artifactsKey] = arts
		return true, nil
	})
}

// BatchSetArtifacts stores every artifact in artifacts. If any would
// duplicate an existing name without overwrite, the whole batch fails with
// a ClientError and no artifact in the batch is stored.
func (s *ContextService) BatchSetArtifacts(ctx context.Context, taskID string, artifacts []Artifact, overwrite bool) error {
	if len(artifacts) == 0 {
		return nil
	}
	return s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		arts := st.artifacts()
		if !overwrite {
			for _, a := range artifacts {
				if _, exists := arts[a.Name]; exists {
					return false, apperr.NewClientErrorf("artifact %q already exists", a.Name)
				}
			}
		}
		for _, a := range artifacts {
			arts[a.Name] = a
		}
		st.Context[artifactsKey] = arts
		return true, nil
	})
}

// DeleteArtifact removes the named artifact. Deleting an absent artifact is
// a no-op.
func (s *ContextService) DeleteArtifact(ctx context.Context, taskID, name string) error {
	return s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		arts := st.artifacts()
		if _, ok := arts[name]; !ok {
			return false, nil
		}
		delete(arts, name)
		st.Context[artifactsKey] = arts
		return true, nil
	})
}

// BatchDeleteArtifacts removes every artifact named in names.
func (s *ContextService) BatchDeleteArtifacts(ctx context.Context, taskID string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	return s.withState(ctx, taskID, func(st *AgentState) (bool, error) {
		arts := st.artifacts()
		for _, n := range names {
			delete(arts, n)
		}
		st.Context[artifactsKey] = arts
		return true, nil
	})
}
