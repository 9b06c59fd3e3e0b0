// Package activity hosts the named activity functions the worker registers
// with the engine: thread operations, context/artifact mutation, the
// decide/take-action pair that drives the Action Loop, notification
// delivery, and a bare model-completion passthrough. Every activity name is
// a stable string the workflow references by value, so renaming a Go
// function here never changes what's recorded in workflow history.
package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentexrun/orchestrator/action"
	"github.com/agentexrun/orchestrator/apperr"
	"github.com/agentexrun/orchestrator/llm"
	"github.com/agentexrun/orchestrator/message"
	"github.com/agentexrun/orchestrator/notify"
	"github.com/agentexrun/orchestrator/state"
	"github.com/agentexrun/orchestrator/task"
)

// Name is a stable activity identifier registered with the engine.
type Name string

const (
	NameAppendMessagesToThread Name = "append_messages_to_thread"
	NameGetMessagesFromThread  Name = "get_messages_from_thread"
	NameAddArtifactToContext   Name = "add_artifact_to_context"
	NameDecideAction           Name = "decide_action"
	NameTakeAction             Name = "take_action"
	NameSendNotification       Name = "send_notification"
	NameAskLLM                 Name = "ask_llm"
	NameRecordTaskMeta         Name = "record_task_meta"
)

// Activities bundles the dependencies every activity function closes over:
// the thread/context services, the llm client, the tool registries keyed by
// action_registry_key, the notification sender, and the task lifecycle
// store.
type Activities struct {
	Threads    *state.ThreadsService
	Context    *state.ContextService
	LLM        llm.Client
	Registries map[string]*action.Registry
	Notifier   notify.Sender
	Tasks      task.Store
}

func (a *Activities) registry(key string) (*action.Registry, error) {
	reg, ok := a.Registries[key]
	if !ok {
		return nil, apperr.NewClientErrorf("activity: unknown action registry %q", key)
	}
	return reg, nil
}

// AppendMessagesToThreadInput is the payload for NameAppendMessagesToThread.
type AppendMessagesToThreadInput struct {
	TaskID     string            `json:"task_id"`
	ThreadName string            `json:"thread_name"`
	Messages   []message.Message `json:"messages"`
}

// AppendMessagesToThread batch-appends input.Messages and returns the
// thread's full message list afterward.
func (a *Activities) AppendMessagesToThread(ctx context.Context, input AppendMessagesToThreadInput) ([]message.Message, error) {
	if err := a.Threads.BatchAppendMessages(ctx, input.TaskID, input.ThreadName, input.Messages); err != nil {
		return nil, err
	}
	return a.Threads.GetMessages(ctx, input.TaskID, input.ThreadName)
}

// GetMessagesFromThreadInput is the payload for NameGetMessagesFromThread.
type GetMessagesFromThreadInput struct {
	TaskID     string `json:"task_id"`
	ThreadName string `json:"thread_name"`
}

// GetMessagesFromThread returns every message currently in the thread.
func (a *Activities) GetMessagesFromThread(ctx context.Context, input GetMessagesFromThreadInput) ([]message.Message, error) {
	return a.Threads.GetMessages(ctx, input.TaskID, input.ThreadName)
}

// AddArtifactToContextInput is the payload for NameAddArtifactToContext.
type AddArtifactToContextInput struct {
	TaskID   string         `json:"task_id"`
	Artifact state.Artifact `json:"artifact"`
}

// AddArtifactToContext stores input.Artifact under its name in the task's
// context.artifacts map, overwriting any prior artifact of the same name.
// Unlike the Context service's SetArtifact as exposed to tool handlers
// (which rejects a duplicate name unless told to overwrite), the workflow's
// own bookkeeping always republishes the latest revision of an artifact, so
// this activity always overwrites.
func (a *Activities) AddArtifactToContext(ctx context.Context, input AddArtifactToContextInput) error {
	return a.Context.SetArtifact(ctx, input.TaskID, input.Artifact, true)
}

// SendNotificationInput is the payload for NameSendNotification.
type SendNotificationInput = notify.Request

// SendNotification delivers a notification through the configured sender.
func (a *Activities) SendNotification(ctx context.Context, input SendNotificationInput) error {
	return a.Notifier.Send(ctx, input)
}

// RecordTaskMetaInput is the payload for NameRecordTaskMeta.
type RecordTaskMetaInput struct {
	TaskID  string      `json:"task_id"`
	AgentID string      `json:"agent_id"`
	RunID   string      `json:"run_id"`
	Status  task.Status `json:"status"`
}

// RecordTaskMeta upserts lifecycle bookkeeping for a task run: its current
// status and which engine run is (or was) executing it. Called by the
// workflow on start and again on every terminal status so worker.Host's
// admin surface can answer "what's running" without querying the engine.
func (a *Activities) RecordTaskMeta(ctx context.Context, input RecordTaskMetaInput) error {
	return a.Tasks.Upsert(ctx, task.Meta{
		TaskID:  input.TaskID,
		AgentID: input.AgentID,
		RunID:   input.RunID,
		Status:  input.Status,
	})
}

// AskLLMInput is the payload for NameAskLLM.
type AskLLMInput struct {
	Config llm.Config `json:"config"`
}

// AskLLM performs a single model completion with no thread side effects.
func (a *Activities) AskLLM(ctx context.Context, input AskLLMInput) (*llm.Completion, error) {
	return a.LLM.Complete(ctx, input.Config)
}

// DecideActionInput is the payload for NameDecideAction.
type DecideActionInput struct {
	TaskID            string `json:"task_id"`
	ThreadName        string `json:"thread_name"`
	ActionRegistryKey string `json:"action_registry_key"`
	Model             string `json:"model"`
}

const explanationSystemPrompt = `Look at all of the messages above. Notice that in your last message, you made one or more tool calls but you haven't provided an explanation for why you're making them.`

const explanationUserPromptFmt = `Give me a brief explanation for why you're making the tool calls you just decided to make. This message will be sent to the user as a sort of progress report, so write it as if you're speaking directly to them.

Tool calls:
%s

EXAMPLE: If the task is to send an email, and the tools available are a DraftEmail and SendEmail tool, when you use the DraftEmail tool, you can say: "In order to send an email, I need to draft the email first. Give me a moment to compose the email, and then I'll send it." When you use the SendEmail tool, you can say: "Now that I've composed the email, I'm sending it to the recipient. This should only take a moment."`

// DecideAction fetches the thread, asks the model for the next step, and
// appends the resulting assistant message to the thread. When the model
// returns tool calls with no explanatory content, a second completion call
// synthesizes one so the thread always carries a human-readable account of
// what the agent is about to do; the backfilled content replaces the empty
// content on the message actually appended and returned.
func (a *Activities) DecideAction(ctx context.Context, input DecideActionInput) (*llm.Completion, error) {
	reg, err := a.registry(input.ActionRegistryKey)
	if err != nil {
		return nil, err
	}

	messages, err := a.Threads.GetMessages(ctx, input.TaskID, input.ThreadName)
	if err != nil {
		return nil, err
	}

	completion, err := a.LLM.Complete(ctx, llm.Config{
		Model:    input.Model,
		Messages: messages,
		Tools:    reg.FunctionCallSchemas(),
	})
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, apperr.NewServiceError("decide_action: completion returned no choices")
	}

	assistantMsg := completion.Choices[0].Message
	if assistantMsg.Content == "" && len(assistantMsg.ToolCalls) > 0 {
		explanation, err := a.backfillExplanation(ctx, input.Model, messages, assistantMsg)
		if err != nil {
			return nil, err
		}
		assistantMsg.Content = explanation
		completion.Choices[0].Message = assistantMsg
	}

	if err := a.Threads.AppendMessage(ctx, input.TaskID, input.ThreadName, assistantMsg); err != nil {
		return nil, err
	}
	return completion, nil
}

func (a *Activities) backfillExplanation(ctx context.Context, model string, priorMessages []message.Message, assistantMsg message.Message) (string, error) {
	toolCallsJSON, err := json.Marshal(assistantMsg.ToolCalls)
	if err != nil {
		return "", apperr.WrapServiceError("decide_action: encode tool calls for explanation prompt", err)
	}

	explanationMessages := make([]message.Message, 0, len(priorMessages)+3)
	explanationMessages = append(explanationMessages, priorMessages...)
	explanationMessages = append(explanationMessages, assistantMsg)
	explanationMessages = append(explanationMessages, message.System(explanationSystemPrompt))
	explanationMessages = append(explanationMessages, message.User(fmt.Sprintf(explanationUserPromptFmt, toolCallsJSON)))

	explanationCompletion, err := a.LLM.Complete(ctx, llm.Config{
		Model:    model,
		Messages: explanationMessages,
	})
	if err != nil {
		return "", apperr.WrapServiceError("decide_action: explanation completion", err)
	}
	if len(explanationCompletion.Choices) == 0 {
		return "", apperr.NewServiceError("decide_action: explanation completion returned no choices")
	}
	return explanationCompletion.Choices[0].Message.Content, nil
}

// TakeActionInput is the payload for NameTakeAction.
type TakeActionInput struct {
	TaskID            string          `json:"task_id"`
	ThreadName        string          `json:"thread_name"`
	ActionRegistryKey string          `json:"action_registry_key"`
	ToolCallID        string          `json:"tool_call_id"`
	ToolName          string          `json:"tool_name"`
	ToolArgs          json.RawMessage `json:"tool_args"`
}

// TakeAction invokes the named tool and appends a tool message carrying its
// result to the thread — on success AND on failure, so the model's next
// decide_action call always sees what happened. A handler failure is
// re-raised after the tool message is appended, so the workflow engine's
// retry policy for this activity still applies. Because Temporal activities
// are at-least-once, a retried execution of this same activity finds its own
// prior tool message already on the thread (by tool_call_id) and overwrites
// it in place instead of appending a duplicate.
func (a *Activities) TakeAction(ctx context.Context, input TakeActionInput) (action.Response, error) {
	reg, err := a.registry(input.ActionRegistryKey)
	if err != nil {
		return action.Response{}, err
	}

	reserved := action.Reserved{action.TaskID: input.TaskID}
	resp, callErr := reg.Call(ctx, input.ToolName, input.ToolArgs, reserved)

	content := fmt.Sprint(resp.Message)
	if callErr != nil && resp.Message == nil {
		content = callErr.Error()
	}
	toolMsg := message.Tool(input.ToolCallID, input.ToolName, content)
	if appendErr := a.appendOrReplaceToolMessage(ctx, input.TaskID, input.ThreadName, toolMsg); appendErr != nil {
		return action.Response{}, appendErr
	}

	if callErr != nil {
		return action.Response{}, callErr
	}
	return resp, nil
}

func (a *Activities) appendOrReplaceToolMessage(ctx context.Context, taskID, threadName string, toolMsg message.Message) error {
	existing, err := a.Threads.GetMessages(ctx, taskID, threadName)
	if err != nil {
		return err
	}
	for i, m := range existing {
		if m.Role == message.RoleTool && m.ToolCallID == toolMsg.ToolCallID {
			return a.Threads.OverrideMessage(ctx, taskID, threadName, i, toolMsg)
		}
	}
	return a.Threads.AppendMessage(ctx, taskID, threadName, toolMsg)
}
