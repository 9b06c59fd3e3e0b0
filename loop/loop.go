// Package loop implements the Action/Decision Loop: the workflow-side state
// machine that alternates a sequential decide_action call with a parallel
// fan-out of take_action calls until the model stops requesting tools.
package loop

import (
	"fmt"

	"github.com/agentexrun/orchestrator/action"
	"github.com/agentexrun/orchestrator/activity"
	"github.com/agentexrun/orchestrator/engine"
	"github.com/agentexrun/orchestrator/llm"
	"github.com/agentexrun/orchestrator/message"
)

// Params identifies which thread and registry the loop drives, and which
// model decide_action should call.
type Params struct {
	TaskID            string
	ThreadName        string
	ActionRegistryKey string
	Model             string
}

// EventSink receives an event name plus a small set of key/value details at
// each loop step. A workflow wires this to its own event log.
type EventSink func(name string, details map[string]any)

// activityRetry is the retry policy every loop activity call carries; the
// fields it sets take precedence over the activity's registered defaults.
var activityRetry = engine.RetryPolicy{MaxAttempts: 5}

// Run drives the loop to completion and returns the final assistant
// message's content. It never returns both an error and a non-empty
// content: any activity failure aborts the loop immediately, since an
// incomplete decision cannot be safely continued.
func Run(ctx engine.WorkflowContext, params Params, emit EventSink) (string, error) {
	if emit == nil {
		emit = func(string, map[string]any) {}
	}

	finish := llm.FinishReason("")
	var content string

	for finish != llm.FinishStop && finish != llm.FinishLength && finish != llm.FinishContentFilter {
		completion, err := decide(ctx, params)
		if err != nil {
			return "", err
		}
		emit("decision_made", map[string]any{"task_id": params.TaskID})

		if len(completion.Choices) == 0 {
			return "", fmt.Errorf("loop: decide_action returned no choices")
		}
		choice := completion.Choices[0]
		finish = choice.FinishReason
		content = choice.Message.Content
		calls := choice.Message.ToolCalls

		if len(calls) > 0 {
			if err := takeAll(ctx, params, calls, emit); err != nil {
				return "", err
			}
		}
	}

	return content, nil
}

func decide(ctx engine.WorkflowContext, params Params) (*llm.Completion, error) {
	var completion llm.Completion
	err := ctx.ExecuteActivity(ctx.Context(), engine.ActivityRequest{
		Name: string(activity.NameDecideAction),
		Input: activity.DecideActionInput{
			TaskID:            params.TaskID,
			ThreadName:        params.ThreadName,
			ActionRegistryKey: params.ActionRegistryKey,
			Model:             params.Model,
		},
		RetryPolicy: activityRetry,
	}, &completion)
	if err != nil {
		return nil, err
	}
	return &completion, nil
}

// takeAll starts one take_action activity per tool call concurrently, then
// joins on all of them before returning. A tool message's append order on
// the thread follows activity completion order, not call order — each
// message still carries its tool_call_id, so downstream readers can re-key.
func takeAll(ctx engine.WorkflowContext, params Params, calls []message.ToolCallRequest, emit EventSink) error {
	emit("executing_tool_calls", map[string]any{"task_id": params.TaskID, "count": len(calls)})

	futures := make([]engine.Future, len(calls))
	for i, tc := range calls {
		emit("executing_tool_call", map[string]any{
			"task_id":      params.TaskID,
			"tool_call_id": tc.ID,
			"tool_name":    tc.Function.Name,
		})
		fut, err := ctx.ExecuteActivityAsync(ctx.Context(), engine.ActivityRequest{
			Name: string(activity.NameTakeAction),
			Input: activity.TakeActionInput{
				TaskID:            params.TaskID,
				ThreadName:        params.ThreadName,
				ActionRegistryKey: params.ActionRegistryKey,
				ToolCallID:        tc.ID,
				ToolName:          tc.Function.Name,
				ToolArgs:          []byte(tc.Function.Arguments),
			},
			RetryPolicy: activityRetry,
		})
		if err != nil {
			return err
		}
		futures[i] = fut
	}

	for _, fut := range futures {
		var result action.Response
		if err := fut.Get(ctx.Context(), &result); err != nil {
			return err
		}
	}
	return nil
}
