// Package worker hosts the durable workflow worker: it registers the agent
// workflow and its activities with an engine and serves a readiness probe
// plus a minimal task admin surface over HTTP.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/agentexrun/orchestrator/activity"
	"github.com/agentexrun/orchestrator/engine"
	"github.com/agentexrun/orchestrator/task"
	"github.com/agentexrun/orchestrator/telemetry"
	"github.com/agentexrun/orchestrator/workflow"
)

// Host wires the agent workflow and activities onto an engine, plus a small
// HTTP server exposing /readyz for orchestrator liveness/readiness checks
// and a minimal admin surface over task lifecycle metadata.
type Host struct {
	Engine    engine.Engine
	Acts      *activity.Activities
	TaskQueue string
	Logger    telemetry.Logger

	// Tasks backs the admin endpoints (GET /tasks, DELETE /tasks/{id}). It
	// should be the same Store instance as Acts.Tasks. Nil disables the
	// admin endpoints; /readyz is unaffected.
	Tasks task.Store

	// ReadyzAddr is the listen address for the readiness probe and admin
	// endpoints, e.g. ":8080". Empty disables the HTTP server.
	ReadyzAddr string

	httpServer *http.Server
	ready      bool
}

// Register registers the agent workflow and every activity on Acts with the
// engine, under h.TaskQueue. Call once during startup, before Start.
func (h *Host) Register(ctx context.Context) error {
	if err := h.Engine.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:      workflow.Name,
		TaskQueue: h.TaskQueue,
		Handler:   workflow.AgentWorkflow,
	}); err != nil {
		return fmt.Errorf("worker: register workflow: %w", err)
	}

	for name, handler := range h.activityHandlers() {
		if err := h.Engine.RegisterActivity(ctx, engine.ActivityDefinition{
			Name:    string(name),
			Handler: handler,
			Options: engine.ActivityOptions{Queue: h.TaskQueue},
		}); err != nil {
			return fmt.Errorf("worker: register activity %s: %w", name, err)
		}
	}
	return nil
}

type temporalWorker interface {
	Start() error
	Stop()
}

// Start registers workflows/activities, starts the engine's worker(s), and
// (if ReadyzAddr is set) begins serving the readiness probe. It blocks until
// ctx is canceled, then stops the worker and HTTP server gracefully.
func (h *Host) Start(ctx context.Context, tw temporalWorker) error {
	if err := h.Register(ctx); err != nil {
		return err
	}
	if err := tw.Start(); err != nil {
		return fmt.Errorf("worker: start: %w", err)
	}
	h.ready = true

	if h.ReadyzAddr != "" {
		if err := h.serveReadyz(); err != nil {
			tw.Stop()
			return err
		}
	}

	<-ctx.Done()
	h.ready = false
	tw.Stop()
	h.stopReadyz()
	return nil
}

func (h *Host) activityHandlers() map[activity.Name]engine.ActivityFunc {
	return map[activity.Name]engine.ActivityFunc{
		activity.NameAppendMessagesToThread: typed(h.Acts.AppendMessagesToThread),
		activity.NameGetMessagesFromThread:  typed(h.Acts.GetMessagesFromThread),
		activity.NameAddArtifactToContext:   typedErrOnly(h.Acts.AddArtifactToContext),
		activity.NameDecideAction:           typed(h.Acts.DecideAction),
		activity.NameTakeAction:             typed(h.Acts.TakeAction),
		activity.NameSendNotification:       typedErrOnly(h.Acts.SendNotification),
		activity.NameAskLLM:                 typed(h.Acts.AskLLM),
		activity.NameRecordTaskMeta:         typedErrOnly(h.Acts.RecordTaskMeta),
	}
}

// typed adapts a strongly-typed activity method into engine.ActivityFunc by
// round-tripping the untyped input through JSON into the method's input type.
func typed[In, Out any](fn func(context.Context, In) (Out, error)) engine.ActivityFunc {
	return func(ctx context.Context, input any) (any, error) {
		var in In
		if err := remarshal(input, &in); err != nil {
			return nil, fmt.Errorf("worker: decode activity input: %w", err)
		}
		return fn(ctx, in)
	}
}

func typedErrOnly[In any](fn func(context.Context, In) error) engine.ActivityFunc {
	return func(ctx context.Context, input any) (any, error) {
		var in In
		if err := remarshal(input, &in); err != nil {
			return nil, fmt.Errorf("worker: decode activity input: %w", err)
		}
		return nil, fn(ctx, in)
	}
}

func remarshal(in, dest any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dest)
}

func (h *Host) serveReadyz() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/readyz", h.handleReadyz)
	if h.Tasks != nil {
		mux.HandleFunc("GET /tasks", h.handleListTasks)
		mux.HandleFunc("DELETE /tasks/{id}", h.handleDeleteTask)
	}

	listener, err := net.Listen("tcp", h.ReadyzAddr)
	if err != nil {
		return fmt.Errorf("worker: listen on %s: %w", h.ReadyzAddr, err)
	}
	h.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := h.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			h.logger().Error(context.Background(), "readyz server exited", "err", err)
		}
	}()
	return nil
}

func (h *Host) stopReadyz() {
	if h.httpServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = h.httpServer.Shutdown(shutdownCtx)
}

func (h *Host) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !h.ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(h.ready)
}

// handleListTasks implements ListTasks: every Meta recorded for a task run,
// in no particular order.
func (h *Host) handleListTasks(w http.ResponseWriter, r *http.Request) {
	metas, err := h.Tasks.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metas)
}

// handleDeleteTask implements DeleteTask: drop the recorded Meta for a task
// id. This only clears bookkeeping — it does not cancel a running workflow
// execution.
func (h *Host) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if taskID == "" {
		http.Error(w, "task id is required", http.StatusBadRequest)
		return
	}
	if err := h.Tasks.Delete(r.Context(), taskID); err != nil && !errors.Is(err, task.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Host) logger() telemetry.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return telemetry.NewNoopLogger()
}
