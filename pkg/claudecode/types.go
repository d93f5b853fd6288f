// Package claudecode provides types and a client for the Claude Code CLI
// stream-json protocol: newline-delimited JSON over stdin/stdout, with
// control requests for permission prompts.
package claudecode

import "encoding/json"

// Event types from the CLI stdout stream.
const (
	// EventSystem is the initial system message with session info.
	EventSystem = "system"
	// EventAssistant contains text or tool_use content from the assistant.
	EventAssistant = "assistant"
	// EventToolUse is a top-level tool invocation event. Tool use may also
	// appear nested inside assistant message content.
	EventToolUse = "tool_use"
	// EventToolResult carries the outcome of a tool invocation.
	EventToolResult = "tool_result"
	// EventResult marks the end of one turn.
	EventResult = "result"
	// EventControlRequest is a control request (permission prompt).
	EventControlRequest = "control_request"
	// EventControlResponse is a response to a control request we sent.
	EventControlResponse = "control_response"
	// EventUser is an echoed user message.
	EventUser = "user"
)

// System event subtypes.
const (
	SubtypeInit = "init"
)

// Control request subtypes.
const (
	// SubtypeCanUseTool is a permission request for tool use.
	SubtypeCanUseTool = "can_use_tool"
	// SubtypeInterrupt interrupts the current operation.
	SubtypeInterrupt = "interrupt"
)

// Permission behaviors.
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// Tool names the session runtime treats specially.
const (
	ToolTodoWrite       = "TodoWrite"
	ToolExitPlanMode    = "ExitPlanMode"
	ToolAskUserQuestion = "AskUserQuestion"
	ToolTask            = "Task"
	ToolBash            = "Bash"
	ToolWrite           = "Write"
	ToolEdit            = "Edit"
	ToolRead            = "Read"
	ToolGlob            = "Glob"
	ToolGrep            = "Grep"
	ToolWebFetch        = "WebFetch"
	ToolWebSearch       = "WebSearch"
)

// Event is one parsed NDJSON line from the CLI's stdout. The Type field
// determines which other fields are populated.
type Event struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// For system events (and result events, which repeat it)
	SessionID string `json:"session_id,omitempty"`

	// For assistant events
	Message *AssistantMessage `json:"message,omitempty"`

	// For top-level tool_use events
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// For tool_result events
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// For result events
	Result       json.RawMessage `json:"result,omitempty"`
	Errors       []string        `json:"errors,omitempty"`
	DurationMS   int64           `json:"duration_ms,omitempty"`
	NumTurns     int             `json:"num_turns,omitempty"`
	TotalCostUSD float64         `json:"total_cost_usd,omitempty"`

	// For control_request events
	RequestID string          `json:"request_id,omitempty"`
	Request   *ControlRequest `json:"request,omitempty"`

	// For control_response events
	Response *IncomingControlResponse `json:"response,omitempty"`

	// Raw line for diagnostics and thread logging.
	Raw json.RawMessage `json:"-"`
}

// ResultText returns the result field when it is a plain string.
func (e *Event) ResultText() string {
	if len(e.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Result, &s); err != nil {
		return ""
	}
	return s
}

// ContentText returns the tool_result content as a string. The CLI emits
// either a bare string or a list of text blocks.
func (e *Event) ContentText() string {
	if len(e.Content) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(e.Content, &s) == nil {
		return s
	}
	var blocks []ContentBlock
	if json.Unmarshal(e.Content, &blocks) == nil {
		out := ""
		for _, b := range blocks {
			if b.Type == "text" {
				out += b.Text
			}
		}
		return out
	}
	return string(e.Content)
}

// AssistantMessage contains the assistant's response content.
type AssistantMessage struct {
	Role       string         `json:"role"`
	Content    MessageContent `json:"content,omitempty"`
	Model      string         `json:"model,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
}

// MessageContent is a content list that can unmarshal from either a plain
// string or []ContentBlock. The CLI echoes user messages back with the same
// shape they were sent in, so string-content prompts come back as strings.
type MessageContent []ContentBlock

// UnmarshalJSON implements custom unmarshaling for MessageContent.
// It handles both string and array formats from the CLI.
func (mc *MessageContent) UnmarshalJSON(data []byte) error {
	// Try to unmarshal as array first (most common case)
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err == nil {
		*mc = blocks
		return nil
	}

	// Try to unmarshal as string
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*mc = []ContentBlock{{Type: "text", Text: str}}
		return nil
	}

	// If both fail, return empty (don't fail parsing)
	*mc = nil
	return nil
}

// ContentBlock represents one block of content in an assistant message.
type ContentBlock struct {
	Type string `json:"type"`

	// For text blocks
	Text string `json:"text,omitempty"`

	// For tool_use blocks
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// For tool_result blocks
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// For image blocks sent to the CLI
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource is a base64-encoded image payload in a user message.
type ImageSource struct {
	Type      string `json:"type"`       // "base64"
	MediaType string `json:"media_type"` // e.g. "image/png"
	Data      string `json:"data"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ImageBlock builds a base64 image content block.
func ImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{
		Type:   "image",
		Source: &ImageSource{Type: "base64", MediaType: mediaType, Data: data},
	}
}

// UserMessage is written to the CLI's stdin to provide a prompt.
type UserMessage struct {
	Type      string          `json:"type"` // "user"
	SessionID string          `json:"session_id,omitempty"`
	Message   UserMessageBody `json:"message"`
}

// UserMessageBody carries the prompt. Content is either a plain string or a
// list of content blocks (for image attachments).
type UserMessageBody struct {
	Role    string `json:"role"` // "user"
	Content any    `json:"content"`
}

// ControlRequest is a control request from the CLI (permission prompt).
type ControlRequest struct {
	Subtype string `json:"subtype"`

	// For can_use_tool requests
	ToolName  string          `json:"tool_name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`

	// Permission suggestions offered by the CLI
	PermissionSuggestions []PermissionUpdate `json:"permission_suggestions,omitempty"`
}

// PermissionUpdate is a permission rule update in a control response.
type PermissionUpdate struct {
	Tool    string `json:"tool"`
	Pattern string `json:"pattern,omitempty"`
	Allow   bool   `json:"allow"`
}

// ControlResponseMessage is written to stdin to answer a control request.
type ControlResponseMessage struct {
	Type      string           `json:"type"` // "control_response"
	RequestID string           `json:"request_id"`
	Response  *ControlResponse `json:"response"`
}

// ControlResponse is the body of a control response.
type ControlResponse struct {
	Subtype string            `json:"subtype"` // success, error
	Result  *PermissionResult `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// PermissionResult answers a can_use_tool request.
type PermissionResult struct {
	Behavior           string             `json:"behavior"` // allow, deny
	UpdatedPermissions []PermissionUpdate `json:"updatedPermissions,omitempty"`
	Message            string             `json:"message,omitempty"`
	Interrupt          *bool              `json:"interrupt,omitempty"`
}

// IncomingControlResponse is the CLI's answer to a control request we sent.
type IncomingControlResponse struct {
	RequestID string          `json:"request_id"`
	Subtype   string          `json:"subtype"`
	Error     string          `json:"error,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
}

// SDKControlRequest is a control request sent to the CLI (interrupt, …).
type SDKControlRequest struct {
	Type      string                `json:"type"` // "control_request"
	RequestID string                `json:"request_id"`
	Request   SDKControlRequestBody `json:"request"`
}

// SDKControlRequestBody contains the body of an outgoing control request.
type SDKControlRequestBody struct {
	Subtype string `json:"subtype"`
}
