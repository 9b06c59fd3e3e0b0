// Package state defines the per-task agent state document — named message
// threads plus a keyed context map — and the repository that serializes the
// whole document to a key-value backend under the task id.
package state

import (
	"context"
	"encoding/json"

	"github.com/agentexrun/orchestrator/apperr"
	"github.com/agentexrun/orchestrator/kv"
	"github.com/agentexrun/orchestrator/message"
)

// Artifact is a named, structured payload produced by a tool and stored in
// a task's context for downstream consumers. Names are unique within a
// task's context.artifacts map.
type Artifact struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Content     any    `json:"content"`
}

// Thread is an ordered sequence of messages within a task's state, keyed by
// name (e.g. "root", "writer", "critic_iteration_3").
type Thread struct {
	Messages []message.Message `json:"messages"`
}

// AgentState is the whole per-task document persisted under key = task id.
// Threads are created lazily on first touch; Context holds arbitrary
// caller-defined keys plus the reserved "artifacts" sub-map.
type AgentState struct {
	Threads map[string]*Thread `json:"threads"`
	Context map[string]any     `json:"context"`
}

const artifactsKey = "artifacts"

// newAgentState returns an empty, ready-to-use AgentState.
func newAgentState() *AgentState {
	return &AgentState{
		Threads: make(map[string]*Thread),
		Context: map[string]any{artifactsKey: map[string]Artifact{}},
	}
}

// artifacts returns the context's artifact sub-map, initializing it (and
// repairing it from its JSON-decoded shape) if necessary.
func (s *AgentState) artifacts() map[string]Artifact {
	raw, ok := s.Context[artifactsKey]
	if !ok {
		m := map[string]Artifact{}
		s.Context[artifactsKey] = m
		return m
	}
	switch v := raw.(type) {
	case map[string]Artifact:
		return v
	default:
		// JSON round-trips decode the sub-map as map[string]any; re-marshal
		// it into the typed shape once and cache it back onto the state.
		b, _ := json.Marshal(v)
		m := map[string]Artifact{}
		_ = json.Unmarshal(b, &m)
		s.Context[artifactsKey] = m
		return m
	}
}

// Repository persists the whole AgentState document for a task id in a
// key-value backend. Load/Save perform whole-object read/replace; there is
// no partial update.
type Repository struct {
	kv kv.Repository
}

// NewRepository returns a Repository backed by repo.
func NewRepository(repo kv.Repository) *Repository {
	return &Repository{kv: repo}
}

// Load returns the AgentState for taskID, or an empty state if none exists.
func (r *Repository) Load(ctx context.Context, taskID string) (*AgentState, error) {
	raw, found, err := r.kv.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !found {
		return newAgentState(), nil
	}
	st := newAgentState()
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, apperr.WrapServiceError("decode agent state", err)
	}
	if st.Threads == nil {
		st.Threads = make(map[string]*Thread)
	}
	if st.Context == nil {
		st.Context = map[string]any{}
	}
	return st, nil
}

// Save writes st under taskID, replacing any existing document.
func (r *Repository) Save(ctx context.Context, taskID string, st *AgentState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return apperr.WrapServiceError("encode agent state", err)
	}
	return r.kv.Set(ctx, taskID, b)
}

// Delete removes the AgentState document for taskID.
func (r *Repository) Delete(ctx context.Context, taskID string) error {
	return r.kv.Delete(ctx, taskID)
}
