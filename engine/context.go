package engine

import "context"

// workflowCtxKey stashes a WorkflowContext inside a Go context passed to
// activities, so activity code can retrieve the originating workflow
// context when it needs to (logging correlation, mostly).
type workflowCtxKey struct{}

// activityCtxKey marks a context as originating from an activity
// invocation rather than workflow code.
type activityCtxKey struct{}

// WithWorkflowContext returns a child context carrying wf. Engine adapters
// call this before invoking an activity handler.
func WithWorkflowContext(ctx context.Context, wf WorkflowContext) context.Context {
	return context.WithValue(ctx, workflowCtxKey{}, wf)
}

// WithActivityContext returns a child context marked as an activity
// invocation context.
func WithActivityContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, activityCtxKey{}, true)
}

// IsActivityContext reports whether ctx originates from an activity
// invocation.
func IsActivityContext(ctx context.Context) bool {
	v, ok := ctx.Value(activityCtxKey{}).(bool)
	return ok && v
}

// WorkflowContextFromContext extracts the WorkflowContext stashed in ctx,
// or nil if none is present.
func WorkflowContextFromContext(ctx context.Context) WorkflowContext {
	if wf, ok := ctx.Value(workflowCtxKey{}).(WorkflowContext); ok {
		return wf
	}
	return nil
}
