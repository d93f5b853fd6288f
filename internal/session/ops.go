// Package session owns the per-thread runtime: the state machine around one
// assistant process, the dispatcher that turns its event stream into typed
// ops, and the manager that tracks every live thread.
package session

import "github.com/threadrelay/threadrelay/internal/session/executor"

// Op is one typed instruction for an executor, produced by the dispatcher
// from the assistant's event stream.
type Op interface{ isOp() }

// SessionStartedOp carries the assistant's opaque conversation id from the
// init event.
type SessionStartedOp struct {
	AssistantSessionID string
}

// AddContentOp appends streaming text to the content executor.
type AddContentOp struct {
	Text string
}

// ToolStartOp renders a tool invocation line in the content post.
type ToolStartOp struct {
	ToolUseID string
	Display   string
}

// ToolResultOp renders the outcome marker under a tool line.
type ToolResultOp struct {
	ToolUseID string
	Summary   string
	IsError   bool
}

// TaskAction selects the task-list operation.
type TaskAction string

const (
	TaskActionUpdate         TaskAction = "update"
	TaskActionComplete       TaskAction = "complete"
	TaskActionBumpToBottom   TaskAction = "bump_to_bottom"
	TaskActionToggleMinimize TaskAction = "toggle_minimize"
)

// TaskListOp drives the task-list executor.
type TaskListOp struct {
	Action TaskAction
	Tasks  []executor.TaskItem
}

// PlanApprovalOp opens a plan-approval prompt.
type PlanApprovalOp struct {
	Plan string
}

// QuestionOp opens a numbered-option question prompt.
type QuestionOp struct {
	Question string
	Options  []string
}

// SubagentStartOp opens a nested-agent post.
type SubagentStartOp struct {
	ToolUseID string
	Display   string
}

// SubagentResultOp completes a nested-agent post.
type SubagentResultOp struct {
	ToolUseID string
	Summary   string
	IsError   bool
}

// TurnEndOp marks the end of one assistant turn.
type TurnEndOp struct {
	DurationMS int64
	CostUSD    float64
	NumTurns   int
	Errors     []string
}

func (SessionStartedOp) isOp() {}
func (AddContentOp) isOp()     {}
func (ToolStartOp) isOp()      {}
func (ToolResultOp) isOp()     {}
func (TaskListOp) isOp()       {}
func (PlanApprovalOp) isOp()   {}
func (QuestionOp) isOp()       {}
func (SubagentStartOp) isOp()  {}
func (SubagentResultOp) isOp() {}
func (TurnEndOp) isOp()        {}
