package session

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/threadrelay/threadrelay/internal/common/logger"
	"github.com/threadrelay/threadrelay/internal/session/executor"
	"github.com/threadrelay/threadrelay/internal/tools"
	"github.com/threadrelay/threadrelay/pkg/claudecode"
)

// Dispatcher translates assistant stream events into typed ops. It keeps
// the tool-use correlation map so results route to the executor that
// rendered the invocation.
type Dispatcher struct {
	registry *tools.Registry
	logger   *logger.Logger

	// subagentTools holds tool-use ids owned by the subagent executor;
	// everything else renders inline in the content post.
	subagentTools map[string]bool
}

// NewDispatcher creates a dispatcher using the given formatter registry.
func NewDispatcher(registry *tools.Registry, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		registry:      registry,
		logger:        log,
		subagentTools: make(map[string]bool),
	}
}

// Translate maps one event to zero or more ops. Unknown event types yield
// nothing and are logged at debug.
func (d *Dispatcher) Translate(ev *claudecode.Event) []Op {
	switch ev.Type {
	case claudecode.EventSystem:
		if ev.Subtype == claudecode.SubtypeInit && ev.SessionID != "" {
			return []Op{SessionStartedOp{AssistantSessionID: ev.SessionID}}
		}
		return nil

	case claudecode.EventAssistant:
		if ev.Message == nil {
			return nil
		}
		var ops []Op
		for _, block := range ev.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					ops = append(ops, AddContentOp{Text: block.Text})
				}
			case "tool_use":
				ops = append(ops, d.toolUse(block.ID, block.Name, block.Input)...)
			}
		}
		return ops

	case claudecode.EventToolUse:
		return d.toolUse(ev.ID, ev.Name, ev.Input)

	case claudecode.EventToolResult:
		summary := ev.ContentText()
		if d.subagentTools[ev.ToolUseID] {
			delete(d.subagentTools, ev.ToolUseID)
			return []Op{SubagentResultOp{ToolUseID: ev.ToolUseID, Summary: summary, IsError: ev.IsError}}
		}
		return []Op{ToolResultOp{ToolUseID: ev.ToolUseID, Summary: summary, IsError: ev.IsError}}

	case claudecode.EventResult:
		errs := ev.Errors
		// Error results carry the message as a plain string in the result
		// field rather than the errors list.
		if len(errs) == 0 && ev.IsError {
			if msg := ev.ResultText(); msg != "" {
				errs = []string{msg}
			}
		}
		return []Op{TurnEndOp{
			DurationMS: ev.DurationMS,
			CostUSD:    ev.TotalCostUSD,
			NumTurns:   ev.NumTurns,
			Errors:     errs,
		}}

	case claudecode.EventUser:
		// Echo of our own input.
		return nil

	default:
		d.logger.Debug("ignoring unknown event type", zap.String("type", ev.Type))
		return nil
	}
}

func (d *Dispatcher) toolUse(id, name string, input json.RawMessage) []Op {
	switch name {
	case claudecode.ToolTodoWrite:
		items := parseTodos(input)
		if items == nil {
			d.logger.Debug("unparseable todo input", zap.String("tool_use_id", id))
			return nil
		}
		return []Op{TaskListOp{Action: TaskActionUpdate, Tasks: items}}

	case claudecode.ToolExitPlanMode:
		var p struct {
			Plan string `json:"plan"`
		}
		_ = json.Unmarshal(input, &p)
		return []Op{PlanApprovalOp{Plan: p.Plan}}

	case claudecode.ToolAskUserQuestion:
		question, options := parseQuestion(input)
		if question == "" || len(options) == 0 {
			d.logger.Debug("unparseable question input", zap.String("tool_use_id", id))
			return nil
		}
		return []Op{QuestionOp{Question: question, Options: options}}

	case claudecode.ToolTask:
		d.subagentTools[id] = true
		return []Op{SubagentStartOp{ToolUseID: id, Display: d.registry.Display(name, input)}}

	default:
		return []Op{ToolStartOp{ToolUseID: id, Display: d.registry.Display(name, input)}}
	}
}

func parseTodos(input json.RawMessage) []executor.TaskItem {
	var p struct {
		Todos []executor.TaskItem `json:"todos"`
		Tasks []executor.TaskItem `json:"tasks"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		return nil
	}
	if len(p.Todos) > 0 {
		return p.Todos
	}
	return p.Tasks
}

// parseQuestion accepts both the flat {question, options: [string]} shape
// and the nested {questions: [{question, options: [{label}]}]} shape.
func parseQuestion(input json.RawMessage) (string, []string) {
	var flat struct {
		Question string          `json:"question"`
		Options  json.RawMessage `json:"options"`
	}
	if err := json.Unmarshal(input, &flat); err == nil && flat.Question != "" {
		return flat.Question, parseOptions(flat.Options)
	}

	var nested struct {
		Questions []struct {
			Question string          `json:"question"`
			Options  json.RawMessage `json:"options"`
		} `json:"questions"`
	}
	if err := json.Unmarshal(input, &nested); err == nil && len(nested.Questions) > 0 {
		q := nested.Questions[0]
		return q.Question, parseOptions(q.Options)
	}
	return "", nil
}

func parseOptions(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	var labeled []struct {
		Label string `json:"label"`
	}
	if err := json.Unmarshal(raw, &labeled); err == nil {
		out := make([]string, 0, len(labeled))
		for _, o := range labeled {
			if o.Label != "" {
				out = append(out, o.Label)
			}
		}
		return out
	}
	return nil
}
