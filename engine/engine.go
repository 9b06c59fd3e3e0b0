// Package engine defines the durable-workflow engine port. Adapters
// translate these generic types into backend-specific primitives so the
// orchestration logic in loop and workflow never references a concrete
// durable-execution backend directly.
package engine

import (
	"context"
	"time"

	"github.com/agentexrun/orchestrator/telemetry"
)

type (
	// Engine registers workflow and activity definitions and starts workflow
	// executions. Implementations wrap a concrete durable-execution backend
	// (Temporal is the only one shipped here).
	Engine interface {
		// RegisterWorkflow registers a workflow definition with the engine.
		// Called during worker startup, before Worker() is invoked.
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error

		// RegisterActivity registers an activity definition with the engine.
		// Called during worker startup, before Worker() is invoked.
		RegisterActivity(ctx context.Context, def ActivityDefinition) error

		// StartWorkflow starts a new workflow execution and returns a handle
		// to it. req.ID must be unique among currently running executions.
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name and a
	// default task queue.
	WorkflowDefinition struct {
		// Name is the identifier registered with the engine, e.g. "AgentTaskWorkflow".
		Name string
		// TaskQueue is the queue new executions are scheduled on by default.
		TaskQueue string
		// Handler is invoked by the engine when the workflow executes.
		Handler WorkflowFunc
	}

	// WorkflowFunc is a workflow entry point. It must be deterministic:
	// given the same inputs and activity results on replay, it must produce
	// the same execution sequence.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to a running workflow.
	// Implementations must replay deterministically: anything that performs
	// real I/O, reads wall-clock time, or uses randomness must go through
	// this interface rather than ambient Go APIs.
	//
	// A WorkflowContext is bound to a single execution and must not be
	// shared across goroutines; the engine serializes activity and signal
	// operations issued against it.
	WorkflowContext interface {
		// Context returns the workflow's Go context, replay-aware where the
		// backend requires it. Use it for activity calls and cancellation.
		Context() context.Context

		// WorkflowID returns this execution's identifier (the task id).
		WorkflowID() string

		// RunID returns the engine-assigned run identifier.
		RunID() string

		// ExecuteActivity schedules an activity and blocks for its result,
		// decoding it into result.
		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error

		// ExecuteActivityAsync schedules an activity without blocking and
		// returns a Future. Returns an error only if scheduling itself
		// fails; activity-level errors surface from Future.Get.
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)

		// SignalChannel returns the channel for the named signal. Workflow
		// code polls or blocks on it to react to instruct/approve deliveries.
		SignalChannel(name string) SignalChannel

		// SetQueryHandler registers a synchronous query handler under name.
		// handler is invoked against the workflow's current in-memory state
		// any time an external caller queries it; it must not block or
		// mutate workflow state. Registering the same name twice is an
		// error.
		SetQueryHandler(name string, handler func(args any) (any, error)) error

		// Logger returns a logger scoped to this workflow execution.
		Logger() telemetry.Logger

		// Metrics returns a metrics recorder scoped to this execution.
		Metrics() telemetry.Metrics

		// Tracer returns a tracer for spans within the workflow.
		Tracer() telemetry.Tracer

		// Now returns the current time in a replay-safe manner.
		Now() time.Time

		// Await blocks, replay-safely, until condition returns true. The
		// engine re-evaluates condition whenever workflow state that could
		// affect it changes (an activity completes, a signal arrives).
		// This is how workflow code expresses Go's missing native
		// wait_condition primitive: the condition itself is plain,
		// synchronous Go code reading fields the caller has updated from
		// signal handlers.
		Await(condition func() bool) error

		// Go launches fn as a concurrent coroutine within this workflow
		// execution, replay-safely. Workflow code uses this to run a
		// signal-draining loop (blocking Receive, updating local state)
		// alongside the main execution path that blocks on Await.
		Go(fn func(ctx WorkflowContext))
	}

	// Future represents a pending activity result. ExecuteActivityAsync
	// returns one per scheduled activity so a workflow can fan out several
	// tool calls and await them together.
	//
	// Get may be called more than once; it returns the same result/error
	// each time. It must be called before the workflow returns, or some
	// engines leak the underlying resource.
	Future interface {
		// Get blocks until the activity completes and decodes its return
		// value into result.
		Get(ctx context.Context, result any) error

		// IsReady reports whether Get will return without blocking.
		IsReady() bool
	}

	// ActivityDefinition registers an activity handler with its default
	// options.
	ActivityDefinition struct {
		// Name is the identifier registered with the engine, e.g.
		// "decide_action".
		Name string
		// Handler executes the activity.
		Handler ActivityFunc
		// Options configures the default retry/timeout behavior.
		Options ActivityOptions
	}

	// ActivityFunc handles one activity invocation. Unlike workflow code,
	// activities may perform arbitrary I/O.
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry and timeout behavior for an
	// activity, either at registration or per call.
	ActivityOptions struct {
		// Queue overrides the default queue. Empty inherits the workflow's
		// task queue.
		Queue string
		// RetryPolicy controls retries. Zero value uses the engine default.
		RetryPolicy RetryPolicy
		// Timeout bounds each attempt (start-to-close) and the wait for a
		// worker to pick the attempt up (schedule-to-start); it does not cap
		// the total time across retries. Zero means the engine's default.
		Timeout time.Duration
	}

	// WorkflowStartRequest describes how to launch one workflow execution.
	WorkflowStartRequest struct {
		// ID is the workflow identifier; typically the task id. Must be
		// unique among concurrently running executions.
		ID string
		// Workflow names the registered WorkflowDefinition to run.
		Workflow string
		// TaskQueue selects the queue the execution is scheduled on.
		TaskQueue string
		// Input is the payload passed to the workflow handler.
		Input any
		// Memo stores small diagnostic payloads alongside the execution.
		Memo map[string]any
		// SearchAttributes captures indexed metadata for visibility queries.
		SearchAttributes map[string]any
		// RetryPolicy controls retries of the start attempt itself, not the
		// workflow's own activities.
		RetryPolicy RetryPolicy
	}

	// ActivityRequest carries what's needed to schedule one activity call
	// from a workflow.
	ActivityRequest struct {
		// Name identifies the activity; must match a registered
		// ActivityDefinition.
		Name string
		// Input is the payload passed to the activity handler.
		Input any
		// Queue optionally overrides the queue for this invocation.
		Queue string
		// RetryPolicy overrides the activity definition's default for this
		// invocation.
		RetryPolicy RetryPolicy
		// Timeout overrides the activity definition's default for this
		// invocation.
		Timeout time.Duration
	}

	// WorkflowHandle lets a caller interact with a running (or completed)
	// workflow execution.
	WorkflowHandle interface {
		// Wait blocks until the workflow completes, decoding its return
		// value into result.
		Wait(ctx context.Context, result any) error

		// Signal delivers an asynchronous message to the workflow.
		Signal(ctx context.Context, name string, payload any) error

		// Cancel requests cancellation of the workflow.
		Cancel(ctx context.Context) error
	}

	// RetryPolicy controls retry semantics shared by workflow starts and
	// activity calls. Zero-valued fields defer to the engine's defaults.
	RetryPolicy struct {
		// MaxAttempts caps total attempts. Zero means unlimited.
		MaxAttempts int
		// InitialInterval is the delay before the first retry.
		InitialInterval time.Duration
		// BackoffCoefficient multiplies the delay after each retry. Values
		// below 1 are treated as 1 (constant backoff).
		BackoffCoefficient float64
	}

	// SignalChannel exposes signal delivery in an engine-agnostic way.
	// Workflow code polls or blocks on it to react to instruct/approve
	// deliveries without referencing the backend's native channel type.
	SignalChannel interface {
		// Receive blocks until a signal is delivered and decodes it into
		// dest.
		Receive(ctx context.Context, dest any) error
		// ReceiveAsync attempts a non-blocking receive, reporting whether a
		// value was written into dest.
		ReceiveAsync(dest any) bool
	}
)
