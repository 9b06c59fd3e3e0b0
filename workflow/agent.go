package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentexrun/orchestrator/activity"
	"github.com/agentexrun/orchestrator/engine"
	"github.com/agentexrun/orchestrator/loop"
	"github.com/agentexrun/orchestrator/message"
	"github.com/agentexrun/orchestrator/task"
)

// Name is the workflow type registered with the engine.
const Name = "AgentTaskWorkflow"

// Params is the input to AgentWorkflow's Run.
type Params struct {
	Task              task.Task
	Agent             task.Agent
	RequireApproval   bool
	Model             string
	ActionRegistryKey string
	Instructions      string
}

// AgentWorkflow is the concrete run() implementation: seed the root thread,
// run the Action Loop, optionally wait for approval, send a completion
// notification, and return a terminal status.
func AgentWorkflow(ctx engine.WorkflowContext, input any) (any, error) {
	params, ok := input.(Params)
	if !ok {
		return nil, fmt.Errorf("workflow: unexpected input type %T", input)
	}

	base, err := NewBase(ctx)
	if err != nil {
		return nil, err
	}
	base.Log("task_received", map[string]any{"task_id": params.Task.ID})

	recordTaskMeta(ctx, base, params, task.StatusRunning)
	result, err := runAgentWorkflow(ctx, base, params)
	recordTaskMeta(ctx, base, params, terminalStatus(err))
	return result, err
}

// runAgentWorkflow holds the actual run() body; split out so AgentWorkflow
// can record lifecycle Meta around a single call instead of at every return
// point.
func runAgentWorkflow(ctx engine.WorkflowContext, base *Base, params Params) (any, error) {
	err := ctx.ExecuteActivity(ctx.Context(), engine.ActivityRequest{
		Name: string(activity.NameAppendMessagesToThread),
		Input: activity.AppendMessagesToThreadInput{
			TaskID:     params.Task.ID,
			ThreadName: DefaultRootThreadName,
			Messages: []message.Message{
				message.System(params.Instructions),
				message.User(params.Task.Prompt),
			},
		},
	}, nil)
	if err != nil {
		return nil, handleCancellation(ctx, base, params, err)
	}

	var content string
	for {
		content, err = loop.Run(ctx, loop.Params{
			TaskID:            params.Task.ID,
			ThreadName:        DefaultRootThreadName,
			ActionRegistryKey: params.ActionRegistryKey,
			Model:             params.Model,
		}, base.Log)
		if err != nil {
			return nil, handleCancellation(ctx, base, params, err)
		}

		if !params.RequireApproval {
			break
		}

		approved, err := base.WaitForApproval(ApprovalNotice{
			Topic:       params.Agent.Name,
			DisplayName: params.Agent.Name,
			TaskPrompt:  params.Task.Prompt,
			LastContent: content,
		})
		if err != nil {
			return nil, handleCancellation(ctx, base, params, err)
		}
		if approved {
			break
		}
	}

	preface := fmt.Sprintf("%s has completed the following task: %s.", params.Agent.Name, params.Task.Prompt)
	err = ctx.ExecuteActivity(ctx.Context(), engine.ActivityRequest{
		Name: string(activity.NameSendNotification),
		Input: activity.SendNotificationInput{
			Topic:   params.Agent.Name,
			Title:   params.Agent.Name,
			Message: fmt.Sprintf("%s\n\n%s:\n%s", preface, params.Agent.Name, content),
			Tags:    []string{"notification"},
		},
	}, nil)
	if err != nil {
		return nil, handleCancellation(ctx, base, params, err)
	}

	base.Log("task_completed", map[string]any{"status": string(task.StatusCompleted)})
	return string(task.StatusCompleted), nil
}

// handleCancellation logs task_canceled and re-raises when err is (or wraps)
// a cancellation, per spec.md's cancellation contract: the workflow catches
// cancellation only to record it, never to swallow it.
func handleCancellation(ctx engine.WorkflowContext, base *Base, params Params, err error) error {
	if errors.Is(err, context.Canceled) {
		base.Log("task_canceled", map[string]any{"task_id": params.Task.ID, "error": err.Error()})
	}
	return err
}

// terminalStatus derives the lifecycle status recordTaskMeta stamps from
// runAgentWorkflow's outcome.
func terminalStatus(err error) task.Status {
	switch {
	case err == nil:
		return task.StatusCompleted
	case err == context.Canceled:
		return task.StatusCanceled
	default:
		return task.StatusFailed
	}
}

// recordTaskMeta best-effort upserts lifecycle bookkeeping through the
// record_task_meta activity. A failure here only gets logged: it's
// bookkeeping for the admin surface, not part of the task's own outcome, so
// it must never override the result runAgentWorkflow already produced.
func recordTaskMeta(ctx engine.WorkflowContext, base *Base, params Params, status task.Status) {
	err := ctx.ExecuteActivity(ctx.Context(), engine.ActivityRequest{
		Name: string(activity.NameRecordTaskMeta),
		Input: activity.RecordTaskMetaInput{
			TaskID:  params.Task.ID,
			AgentID: params.Agent.ID,
			RunID:   ctx.RunID(),
			Status:  status,
		},
	}, nil)
	if err != nil {
		base.Log("task_meta_record_failed", map[string]any{"task_id": params.Task.ID, "status": string(status), "error": err.Error()})
	}
}
