package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/claude-collab/backend/internal/model"
)

// Type is the discriminator carried by every wire event.
type Type string

const (
	// Server -> Client event types
	TypeConnected        Type = "connected"
	TypeAgentStatus      Type = "agent:status"
	TypeAgentSystem      Type = "agent:system"
	TypeAgentText        Type = "agent:text"
	TypeAgentToolCall    Type = "agent:tool_call"
	TypeAgentToolResult  Type = "agent:tool_result"
	TypeAgentDone        Type = "agent:done"
	TypeAgentError       Type = "agent:error"
	TypeAgentInterrupted Type = "agent:interrupted"
	TypeAgentPermission  Type = "agent:permission"
	TypeTaskUpdate       Type = "task:update"
	TypeError            Type = "error"

	// Client -> Server message types
	TypeAgentSend         Type = "agent:send"
	TypeAgentInterrupt    Type = "agent:interrupt"
	TypePermissionRespond Type = "permission:respond"
	TypeTaskSubmit        Type = "task:submit"
	TypeTaskApprove       Type = "task:approve"
	TypeTaskReject        Type = "task:reject"

	// TypeWildcard matches every inbound event in client handler registration.
	TypeWildcard Type = "*"
)

// Agent status values carried by agent:status.
const (
	StatusThinking  = "thinking"
	StatusStreaming = "streaming"
	StatusIdle      = "idle"
)

// ErrMalformed is returned when a frame is not a JSON object.
var ErrMalformed = errors.New("malformed wire event")

// Event is a single message on the wire.
type Event struct {
	Type Type `json:"type"`

	TS        int64            `json:"ts,omitempty"`
	Status    string           `json:"status,omitempty"`
	TaskID    string           `json:"taskId,omitempty"`
	Text      string           `json:"text,omitempty"`
	Model     string           `json:"model,omitempty"`
	Tools     []string         `json:"tools,omitempty"`
	Tool      string           `json:"tool,omitempty"`
	Input     json.RawMessage  `json:"input,omitempty"`
	ToolUseID string           `json:"toolUseId,omitempty"`
	Content   string           `json:"content,omitempty"`
	IsError   *bool            `json:"isError,omitempty"`
	Cost      *float64         `json:"cost,omitempty"`
	Duration  *int64           `json:"duration,omitempty"`
	Turns     *int             `json:"turns,omitempty"`
	Subtype   string           `json:"subtype,omitempty"`
	Error     string           `json:"error,omitempty"`
	Task      *model.TaskPatch `json:"task,omitempty"`

	// Client -> Server fields
	Message  string `json:"message,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Approved *bool  `json:"approved,omitempty"`
}

// Approval reports the answer carried by permission:respond. A missing
// approved field denies.
func (e Event) Approval() bool {
	return e.Approved != nil && *e.Approved
}

// DoneMeta is the completion metadata carried by agent:done.
type DoneMeta struct {
	Cost     *float64
	Duration *int64
	Turns    *int
	Subtype  string
}

// Encode serializes an event to a JSON frame.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
	}
	return data, nil
}

// Decode parses a JSON frame. A frame that is not a JSON object yields ErrMalformed.
// A missing type is not an error here; routing reports it as unknown.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return ev, nil
}

// Connected is sent once when a connection is registered.
func Connected(now time.Time) Event {
	return Event{Type: TypeConnected, TS: now.UnixMilli()}
}

// AgentStatus reports thinking, streaming or idle.
func AgentStatus(status, taskID string) Event {
	return Event{Type: TypeAgentStatus, Status: status, TaskID: taskID}
}

// AgentSystem reports the agent's model and tool set at session start.
func AgentSystem(model string, tools []string, taskID string) Event {
	return Event{Type: TypeAgentSystem, Model: model, Tools: tools, TaskID: taskID}
}

// AgentText carries an incremental piece of assistant text.
func AgentText(text, taskID string) Event {
	return Event{Type: TypeAgentText, Text: text, TaskID: taskID}
}

// AgentToolCall reports a tool invocation with its structured input.
func AgentToolCall(tool string, input json.RawMessage, toolUseID, taskID string) Event {
	return Event{Type: TypeAgentToolCall, Tool: tool, Input: input, ToolUseID: toolUseID, TaskID: taskID}
}

// AgentToolResult reports a tool result.
func AgentToolResult(toolUseID, content string, isError bool, taskID string) Event {
	return Event{Type: TypeAgentToolResult, ToolUseID: toolUseID, Content: content, IsError: &isError, TaskID: taskID}
}

// AgentDone marks normal completion of a turn.
func AgentDone(meta DoneMeta, taskID string) Event {
	return Event{
		Type:     TypeAgentDone,
		Cost:     meta.Cost,
		Duration: meta.Duration,
		Turns:    meta.Turns,
		Subtype:  meta.Subtype,
		TaskID:   taskID,
	}
}

// AgentError reports a genuine agent failure.
func AgentError(msg, taskID string) Event {
	return Event{Type: TypeAgentError, Error: msg, TaskID: taskID}
}

// AgentInterrupted marks deliberate cancellation of a turn.
func AgentInterrupted(taskID string) Event {
	return Event{Type: TypeAgentInterrupted, TaskID: taskID}
}

// AgentPermission asks connected humans to approve a tool use.
func AgentPermission(tool string, input json.RawMessage, taskID string) Event {
	return Event{Type: TypeAgentPermission, Tool: tool, Input: input, TaskID: taskID}
}

// TaskUpdate carries a full or partial task record.
func TaskUpdate(p model.TaskPatch) Event {
	return Event{Type: TypeTaskUpdate, Task: &p}
}

// ProtocolError reports a connection-scoped protocol problem.
func ProtocolError(msg string) Event {
	return Event{Type: TypeError, Error: msg}
}

// SendMessage asks the server to start an agent turn.
func SendMessage(message string) Event {
	return Event{Type: TypeAgentSend, Message: message}
}

// Interrupt asks the server to cancel the running turn.
func Interrupt() Event {
	return Event{Type: TypeAgentInterrupt}
}

// PermissionResponse answers a pending agent:permission.
func PermissionResponse(approved bool) Event {
	return Event{Type: TypePermissionRespond, Approved: &approved}
}

// SubmitTask queues a prompt as a task.
func SubmitTask(prompt string) Event {
	return Event{Type: TypeTaskSubmit, Prompt: prompt}
}

// ApproveTask approves a task by id.
func ApproveTask(taskID string) Event {
	return Event{Type: TypeTaskApprove, TaskID: taskID}
}

// RejectTask rejects a task by id.
func RejectTask(taskID string) Event {
	return Event{Type: TypeTaskReject, TaskID: taskID}
}
