// Package workflow implements the durable workflow side of the orchestrator:
// a Base carrying the instruct/approve signal handlers and the get_event_log
// query every agent workflow exposes, and a concrete AgentWorkflow run()
// built on top of it.
package workflow

import (
	"fmt"

	"github.com/agentexrun/orchestrator/activity"
	"github.com/agentexrun/orchestrator/engine"
	"github.com/agentexrun/orchestrator/message"
)

// DefaultRootThreadName is the thread instruct() appends to when the
// caller does not name one.
const DefaultRootThreadName = "root"

const (
	SignalInstruct = "instruct"
	SignalApprove  = "approve"
	QueryEventLog  = "get_event_log"
)

// Instruction is the payload delivered by the instruct signal.
type Instruction struct {
	TaskID     string `json:"task_id"`
	Prompt     string `json:"prompt"`
	ThreadName string `json:"thread_name"`
}

// Event is one entry in a workflow's event log: a name plus arbitrary
// details, recorded in the order events occurred.
type Event struct {
	Name    string         `json:"event"`
	Details map[string]any `json:"details,omitempty"`
}

// Base holds the state and behavior shared by every agent workflow:
// instruct/approve signal handling and an event log exposed via query.
// Concrete workflows obtain one from NewBase and drive it from their own run
// function.
type Base struct {
	ctx      engine.WorkflowContext
	eventLog []Event

	waitingForInstruction bool
	taskApproved          bool
}

// NewBase wires the get_event_log query and launches the background
// coroutines that drain the instruct/approve signal channels against ctx.
// Call this once, at the start of a workflow's run function, before doing
// anything else that can suspend.
func NewBase(ctx engine.WorkflowContext) (*Base, error) {
	b := &Base{ctx: ctx}
	if err := ctx.SetQueryHandler(QueryEventLog, func(any) (any, error) {
		return b.eventLog, nil
	}); err != nil {
		return nil, fmt.Errorf("workflow: register %s query: %w", QueryEventLog, err)
	}

	ctx.Go(func(coCtx engine.WorkflowContext) {
		ch := coCtx.SignalChannel(SignalInstruct)
		for {
			var instruction Instruction
			if err := ch.Receive(coCtx.Context(), &instruction); err != nil {
				return
			}
			_ = b.HandleInstruct(instruction)
		}
	})
	ctx.Go(func(coCtx engine.WorkflowContext) {
		ch := coCtx.SignalChannel(SignalApprove)
		for {
			var approval any
			if err := ch.Receive(coCtx.Context(), &approval); err != nil {
				return
			}
			b.HandleApprove()
		}
	})

	return b, nil
}

// Log appends an event to the log, visible immediately to get_event_log.
func (b *Base) Log(name string, details map[string]any) {
	b.eventLog = append(b.eventLog, Event{Name: name, Details: details})
}

// EventLog returns the current event log snapshot.
func (b *Base) EventLog() []Event {
	return append([]Event(nil), b.eventLog...)
}

// WaitingForInstruction reports whether the workflow is currently blocked
// pending an instruct signal or an approve signal.
func (b *Base) WaitingForInstruction() bool { return b.waitingForInstruction }

// TaskApproved reports whether an approve signal has latched true.
func (b *Base) TaskApproved() bool { return b.taskApproved }

// HandleInstruct appends instruction.Prompt as a user message to the named
// thread (defaulting to DefaultRootThreadName), logs
// human_instruction_received, and clears WaitingForInstruction. Call this
// from the workflow's instruct signal channel loop.
func (b *Base) HandleInstruct(instruction Instruction) error {
	threadName := instruction.ThreadName
	if threadName == "" {
		threadName = DefaultRootThreadName
	}

	var messages []message.Message
	err := b.ctx.ExecuteActivity(b.ctx.Context(), engine.ActivityRequest{
		Name: string(activity.NameAppendMessagesToThread),
		Input: activity.AppendMessagesToThreadInput{
			TaskID:     instruction.TaskID,
			ThreadName: threadName,
			Messages:   []message.Message{message.User(instruction.Prompt)},
		},
	}, &messages)
	if err != nil {
		return err
	}

	b.Log("human_instruction_received", map[string]any{"instruction": instruction})
	b.waitingForInstruction = false
	return nil
}

// HandleApprove logs task_approved and latches TaskApproved.
func (b *Base) HandleApprove() {
	b.Log("task_approved", nil)
	b.taskApproved = true
}

// ApprovalNotice describes the progress-report notification WaitForApproval
// sends right before it starts blocking.
type ApprovalNotice struct {
	Topic       string
	DisplayName string
	TaskPrompt  string
	LastContent string
}

// WaitForApproval sets WaitingForInstruction, sends a notification
// summarizing the agent's last content against the task's original prompt,
// then blocks until either an approve signal latches TaskApproved or an
// instruct signal clears WaitingForInstruction. Returns true if the task was
// approved (the caller should stop looping), false if an instruction arrived
// instead (the caller should run another iteration).
func (b *Base) WaitForApproval(notice ApprovalNotice) (bool, error) {
	b.waitingForInstruction = true

	preface := fmt.Sprintf("%s has executed the following task: %s and is now waiting for your input.", notice.DisplayName, notice.TaskPrompt)
	err := b.ctx.ExecuteActivity(b.ctx.Context(), engine.ActivityRequest{
		Name: string(activity.NameSendNotification),
		Input: activity.SendNotificationInput{
			Topic:   notice.Topic,
			Title:   notice.DisplayName,
			Message: fmt.Sprintf("%s\n\n%s:\n%s", preface, notice.DisplayName, notice.LastContent),
			Tags:    []string{"hourglass"},
		},
	}, nil)
	if err != nil {
		return false, err
	}

	if err := b.ctx.Await(func() bool {
		return !b.waitingForInstruction || b.taskApproved
	}); err != nil {
		return false, err
	}

	return b.taskApproved, nil
}
