package client

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude-collab/backend/internal/model"
	"github.com/claude-collab/backend/internal/state"
	"github.com/claude-collab/backend/internal/wire"
)

func newBoundTransport(t *testing.T) (*Transport, *state.Store, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	tr, store := newTestTransport(&fakeDialer{conns: []*fakeConn{conn}}, &fakeClock{})
	t.Cleanup(func() { tr.Close() })
	t.Cleanup(Bind(tr, store))

	tr.Connect()
	waitFor(t, func() bool { return tr.State() == StateOpen })
	return tr, store, conn
}

func chat(s *state.Store) []ChatMessage {
	return state.Items[ChatMessage](s, state.KeyChatMessages)
}

// TestBind_StreamingText tests that text deltas grow one assistant message until the turn ends.
func TestBind_StreamingText(t *testing.T) {
	tr, store, conn := newBoundTransport(t)

	require.True(t, SendMessage(tr, store, "hello"))
	conn.frames <- encode(t, wire.AgentStatus(wire.StatusStreaming, ""))
	conn.frames <- encode(t, wire.AgentText("Hi ", ""))
	conn.frames <- encode(t, wire.AgentText("there", ""))
	conn.frames <- encode(t, wire.AgentDone(wire.DoneMeta{}, ""))
	conn.frames <- encode(t, wire.AgentText("Next", ""))

	waitFor(t, func() bool { return len(chat(store)) == 3 })
	msgs := chat(store)
	assert.Equal(t, ChatMessage{Role: RoleUser, Text: "hello"}, msgs[0])
	assert.Equal(t, ChatMessage{Role: RoleAssistant, Text: "Hi there"}, msgs[1])
	assert.Equal(t, "Next", msgs[2].Text)
	assert.True(t, msgs[2].Streaming)
	assert.Equal(t, wire.StatusStreaming, store.Get(state.KeyAgentStatus))
}

// TestBind_ToolCallsAndErrors tests tool calls and error events in the chat log.
func TestBind_ToolCallsAndErrors(t *testing.T) {
	_, store, conn := newBoundTransport(t)

	conn.frames <- encode(t, wire.AgentText("Let me look", "t1"))
	conn.frames <- encode(t, wire.AgentToolCall("Read", json.RawMessage(`{"path":"a.go"}`), "tu_1", "t1"))
	conn.frames <- encode(t, wire.AgentError("boom", "t1"))
	conn.frames <- encode(t, wire.ProtocolError("Invalid JSON"))

	waitFor(t, func() bool { return len(chat(store)) == 4 })
	msgs := chat(store)
	assert.Equal(t, ChatMessage{Role: RoleAssistant, Text: "Let me look", TaskID: "t1"}, msgs[0])
	assert.Equal(t, ChatMessage{Role: RoleTool, Tool: "Read", Text: `{"path":"a.go"}`, TaskID: "t1"}, msgs[1])
	assert.Equal(t, ChatMessage{Role: RoleError, Text: "boom", TaskID: "t1"}, msgs[2])
	assert.Equal(t, ChatMessage{Role: RoleError, Text: "Invalid JSON"}, msgs[3])
}

// TestBind_Permission tests that a permission request is held until answered.
func TestBind_Permission(t *testing.T) {
	tr, store, conn := newBoundTransport(t)

	assert.False(t, RespondPermission(tr, store, true), "nothing pending yet")

	conn.frames <- encode(t, wire.AgentPermission("Bash", json.RawMessage(`{"command":"ls"}`), ""))
	waitFor(t, func() bool { return store.Get(state.KeyPendingPermission) != nil })

	pending := store.Get(state.KeyPendingPermission).(*PendingPermission)
	assert.Equal(t, "Bash", pending.Tool)
	assert.Equal(t, `{"command":"ls"}`, pending.Input)

	require.True(t, RespondPermission(tr, store, false))
	assert.Nil(t, store.Get(state.KeyPendingPermission))

	writes := conn.writes()
	require.Len(t, writes, 1)
	ev, err := wire.Decode(writes[0])
	require.NoError(t, err)
	assert.Equal(t, wire.TypePermissionRespond, ev.Type)
	require.NotNil(t, ev.Approved)
	assert.False(t, *ev.Approved)
}

// TestBind_TaskUpdates tests that full and partial task updates merge into the tasks slice.
func TestBind_TaskUpdates(t *testing.T) {
	_, store, conn := newBoundTransport(t)

	task := model.NewTask("t1", "write docs")
	conn.frames <- encode(t, wire.TaskUpdate(task.Patch()))
	conn.frames <- encode(t, wire.TaskUpdate(model.StatusPatch("t1", model.TaskStatusApproved)))
	conn.frames <- encode(t, wire.TaskUpdate(model.StatusPatch("t2", model.TaskStatusReview)))

	waitFor(t, func() bool { return len(state.Tasks(store)) == 2 })
	waitFor(t, func() bool { return state.Tasks(store)[0].Status == model.TaskStatusApproved })

	tasks := state.Tasks(store)
	assert.Equal(t, "write docs", tasks[0].Prompt)
	assert.Equal(t, task.CreatedAt, tasks[0].CreatedAt)
	assert.Equal(t, "t2", tasks[1].ID)
	assert.Equal(t, model.TaskStatusReview, tasks[1].Status)
}

// TestBind_Unbind tests that the returned function stops mirroring.
func TestBind_Unbind(t *testing.T) {
	conn := newFakeConn()
	tr, store := newTestTransport(&fakeDialer{conns: []*fakeConn{conn}}, &fakeClock{})
	defer tr.Close()

	unbind := Bind(tr, store)
	unbind()

	seen := make(chan wire.Event, 1)
	tr.On(wire.TypeAgentStatus, func(ev wire.Event) { seen <- ev })

	tr.Connect()
	waitFor(t, func() bool { return tr.State() == StateOpen })
	conn.frames <- encode(t, wire.AgentStatus(wire.StatusThinking, ""))
	<-seen

	assert.Nil(t, store.Get(state.KeyAgentStatus))
}
