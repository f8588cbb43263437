package driver

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ControlRequest is a request the Claude CLI sends on stdout when it needs
// the host to decide something, such as a tool permission.
type ControlRequest struct {
	RequestID string
	Subtype   string
	ToolName  string
	Input     json.RawMessage
}

const controlSubtypeCanUseTool = "can_use_tool"

type rawLine struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Model     string          `json:"model"`
	Tools     []string        `json:"tools"`
	Message   *rawMessage     `json:"message"`
	Event     *rawStreamEvent `json:"event"`

	IsError      bool     `json:"is_error"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
	DurationMS   *int64   `json:"duration_ms"`
	NumTurns     *int     `json:"num_turns"`
	Result       string   `json:"result"`

	RequestID string             `json:"request_id"`
	Request   *rawControlRequest `json:"request"`
}

type rawMessage struct {
	Content json.RawMessage `json:"content"`
}

type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

type rawStreamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

type rawControlRequest struct {
	Subtype  string          `json:"subtype"`
	ToolName string          `json:"tool_name"`
	Input    json.RawMessage `json:"input"`
}

// Decoder turns Claude Code stream-json lines into native events.
//
// When partial messages are enabled the CLI emits text twice: as stream_event
// deltas and again inside the final assistant message. Once a delta has been
// seen, text blocks in assistant messages are skipped.
type Decoder struct {
	sawDeltas bool
}

// Decode parses one line. Lines of unknown type yield no events.
func (d *Decoder) Decode(line []byte) ([]Event, *ControlRequest, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil, nil
	}

	var raw rawLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to decode stream line: %w", err)
	}

	switch raw.Type {
	case "system":
		if raw.Subtype != "" && raw.Subtype != "init" {
			return nil, nil, nil
		}
		return []Event{{
			Kind:      EventSystem,
			SessionID: raw.SessionID,
			Model:     raw.Model,
			Tools:     raw.Tools,
		}}, nil, nil

	case "stream_event":
		if raw.Event == nil || raw.Event.Type != "content_block_delta" ||
			raw.Event.Delta == nil || raw.Event.Delta.Type != "text_delta" {
			return nil, nil, nil
		}
		d.sawDeltas = true
		return []Event{{Kind: EventText, Text: raw.Event.Delta.Text, SessionID: raw.SessionID}}, nil, nil

	case "assistant":
		blocks, err := decodeBlocks(raw.Message)
		if err != nil {
			return nil, nil, err
		}
		var events []Event
		for _, b := range blocks {
			switch b.Type {
			case "text":
				if d.sawDeltas || b.Text == "" {
					continue
				}
				events = append(events, Event{Kind: EventText, Text: b.Text, SessionID: raw.SessionID})
			case "tool_use":
				events = append(events, Event{
					Kind:      EventToolUse,
					ToolUseID: b.ID,
					ToolName:  b.Name,
					Input:     b.Input,
					SessionID: raw.SessionID,
				})
			}
		}
		return events, nil, nil

	case "user":
		blocks, err := decodeBlocks(raw.Message)
		if err != nil {
			return nil, nil, err
		}
		var events []Event
		for _, b := range blocks {
			if b.Type != "tool_result" {
				continue
			}
			events = append(events, Event{
				Kind:      EventToolResult,
				ToolUseID: b.ToolUseID,
				Content:   flattenContent(b.Content),
				IsError:   b.IsError,
				SessionID: raw.SessionID,
			})
		}
		return events, nil, nil

	case "result":
		return []Event{{
			Kind:      EventResult,
			SessionID: raw.SessionID,
			Result: &Result{
				Subtype:    raw.Subtype,
				IsError:    raw.IsError,
				CostUSD:    raw.TotalCostUSD,
				DurationMS: raw.DurationMS,
				NumTurns:   raw.NumTurns,
				Text:       raw.Result,
			},
		}}, nil, nil

	case "control_request":
		if raw.Request == nil {
			return nil, nil, fmt.Errorf("control request %q has no body", raw.RequestID)
		}
		return nil, &ControlRequest{
			RequestID: raw.RequestID,
			Subtype:   raw.Request.Subtype,
			ToolName:  raw.Request.ToolName,
			Input:     raw.Request.Input,
		}, nil
	}

	return nil, nil, nil
}

// decodeBlocks returns the content blocks of a message. A plain string
// content (an echoed prompt) has no blocks.
func decodeBlocks(msg *rawMessage) ([]rawBlock, error) {
	if msg == nil || len(msg.Content) == 0 || msg.Content[0] != '[' {
		return nil, nil
	}
	var blocks []rawBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return nil, fmt.Errorf("failed to decode content blocks: %w", err)
	}
	return blocks, nil
}

// flattenContent returns string content as-is and any other JSON verbatim.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

type controlResponse struct {
	Type     string              `json:"type"`
	Response controlResponseBody `json:"response"`
}

type controlResponseBody struct {
	Subtype   string `json:"subtype"`
	RequestID string `json:"request_id"`
	Response  any    `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
}

type permissionDecision struct {
	Behavior     string          `json:"behavior"`
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// encodePermissionResponse builds the stdin line answering a can_use_tool request.
func encodePermissionResponse(req *ControlRequest, allowed bool) ([]byte, error) {
	decision := permissionDecision{Behavior: "deny", Message: "Permission denied by user"}
	if allowed {
		input := req.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		decision = permissionDecision{Behavior: "allow", UpdatedInput: input}
	}
	return encodeLine(controlResponse{
		Type: "control_response",
		Response: controlResponseBody{
			Subtype:   "success",
			RequestID: req.RequestID,
			Response:  decision,
		},
	})
}

// encodeControlError builds the stdin line rejecting an unsupported control request.
func encodeControlError(req *ControlRequest, msg string) ([]byte, error) {
	return encodeLine(controlResponse{
		Type: "control_response",
		Response: controlResponseBody{
			Subtype:   "error",
			RequestID: req.RequestID,
			Error:     msg,
		},
	})
}

type userLine struct {
	Type    string      `json:"type"`
	Message userMessage `json:"message"`
}

type userMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// encodeUserMessage builds the stdin line carrying the prompt.
func encodeUserMessage(prompt string) ([]byte, error) {
	return encodeLine(userLine{
		Type:    "user",
		Message: userMessage{Role: "user", Content: prompt},
	})
}

func encodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stream line: %w", err)
	}
	return append(data, '\n'), nil
}
