package client

import (
	"github.com/claude-collab/backend/internal/state"
	"github.com/claude-collab/backend/internal/wire"
)

// Chat message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleError     = "error"
)

// ChatMessage is one entry of the chatMessages slice.
type ChatMessage struct {
	Role   string
	Text   string
	Tool   string
	TaskID string

	// Streaming is true while assistant text may still grow.
	Streaming bool
}

// PendingPermission is the value of the pendingPermission slice while the
// agent waits for an answer.
type PendingPermission struct {
	Tool   string
	Input  string
	TaskID string
}

// Bind mirrors inbound events into the store. The returned function removes
// every handler it registered.
func Bind(t *Transport, s *state.Store) func() {
	offs := []func(){
		t.On(wire.TypeAgentStatus, func(ev wire.Event) {
			s.Set(state.KeyAgentStatus, ev.Status)
		}),
		t.On(wire.TypeAgentText, func(ev wire.Event) {
			appendAssistantText(s, ev.Text, ev.TaskID)
		}),
		t.On(wire.TypeAgentToolCall, func(ev wire.Event) {
			endStreaming(s)
			state.Append(s, state.KeyChatMessages, ChatMessage{
				Role:   RoleTool,
				Tool:   ev.Tool,
				Text:   string(ev.Input),
				TaskID: ev.TaskID,
			})
		}),
		t.On(wire.TypeAgentDone, func(wire.Event) {
			endStreaming(s)
		}),
		t.On(wire.TypeAgentInterrupted, func(wire.Event) {
			endStreaming(s)
			s.Set(state.KeyPendingPermission, nil)
		}),
		t.On(wire.TypeAgentError, func(ev wire.Event) {
			endStreaming(s)
			s.Set(state.KeyPendingPermission, nil)
			state.Append(s, state.KeyChatMessages, ChatMessage{Role: RoleError, Text: ev.Error, TaskID: ev.TaskID})
		}),
		t.On(wire.TypeError, func(ev wire.Event) {
			state.Append(s, state.KeyChatMessages, ChatMessage{Role: RoleError, Text: ev.Error})
		}),
		t.On(wire.TypeAgentPermission, func(ev wire.Event) {
			s.Set(state.KeyPendingPermission, &PendingPermission{
				Tool:   ev.Tool,
				Input:  string(ev.Input),
				TaskID: ev.TaskID,
			})
		}),
		t.On(wire.TypeTaskUpdate, func(ev wire.Event) {
			if ev.Task != nil {
				state.ApplyTaskUpdate(s, *ev.Task)
			}
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// SendMessage records the user's message and sends it. It reports whether
// the message went out.
func SendMessage(t *Transport, s *state.Store, text string) bool {
	if !t.Send(wire.SendMessage(text)) {
		return false
	}
	endStreaming(s)
	state.Append(s, state.KeyChatMessages, ChatMessage{Role: RoleUser, Text: text})
	return true
}

// RespondPermission answers the pending permission request and clears it.
func RespondPermission(t *Transport, s *state.Store, approved bool) bool {
	if s.Get(state.KeyPendingPermission) == nil {
		return false
	}
	if !t.Send(wire.PermissionResponse(approved)) {
		return false
	}
	s.Set(state.KeyPendingPermission, nil)
	return true
}

// appendAssistantText extends the streaming assistant message or starts one.
func appendAssistantText(s *state.Store, text, taskID string) {
	s.Update(state.KeyChatMessages, func(current any) any {
		msgs, _ := current.([]ChatMessage)
		if n := len(msgs); n > 0 && msgs[n-1].Role == RoleAssistant && msgs[n-1].Streaming {
			next := make([]ChatMessage, n)
			copy(next, msgs)
			next[n-1].Text += text
			return next
		}
		return append(msgs, ChatMessage{Role: RoleAssistant, Text: text, TaskID: taskID, Streaming: true})
	})
}

// endStreaming closes the open assistant message, if any.
func endStreaming(s *state.Store) {
	state.UpdateWhere(s, state.KeyChatMessages,
		func(m ChatMessage) bool { return m.Streaming },
		func(m ChatMessage) ChatMessage {
			m.Streaming = false
			return m
		})
}
