// Package driver adapts external agent integrations to a single pull-based
// event stream. The session manager depends only on Agent and Stream.
package driver

import (
	"context"
	"encoding/json"
	"io"
)

// EventKind identifies a native agent event.
type EventKind string

const (
	EventSystem     EventKind = "system"
	EventText       EventKind = "text"
	EventToolUse    EventKind = "tool_use"
	EventToolResult EventKind = "tool_result"
	EventResult     EventKind = "result"
)

// Event is one unit of the agent's native stream.
type Event struct {
	Kind EventKind

	// SessionID is the resumable token, when the agent reports one.
	SessionID string

	// System
	Model string
	Tools []string

	// Text
	Text string

	// Tool use / tool result
	ToolUseID string
	ToolName  string
	Input     json.RawMessage
	Content   string
	IsError   bool

	// Result
	Result *Result
}

// Result is the completion record reported at the end of a turn.
type Result struct {
	Subtype    string
	IsError    bool
	CostUSD    *float64
	DurationMS *int64
	NumTurns   *int
	Text       string
}

// PermissionFunc is called when the agent needs human approval for a tool use.
// It blocks until a decision is made or ctx is done.
type PermissionFunc func(ctx context.Context, tool string, input json.RawMessage) (bool, error)

// Options are per-invocation settings.
type Options struct {
	// Resume continues the conversation identified by a token from a previous turn.
	Resume string

	// Model overrides the driver's default model when non-empty.
	Model string

	// CanUseTool, when set, routes the agent's permission prompts to the caller.
	CanUseTool PermissionFunc
}

// Stream is a cancellable pull loop over native events.
type Stream interface {
	// Next blocks until the next event. It returns io.EOF after the last event,
	// and ctx.Err() if ctx is done first.
	Next(ctx context.Context) (Event, error)

	// Close releases the underlying process or connection. It is safe to call more than once.
	Close() error
}

// Agent starts agent invocations.
type Agent interface {
	// Name returns the name of the driver.
	Name() string

	// Invoke starts a turn for prompt. Cancelling ctx aborts the turn.
	// It returns an error wrapping model.ErrAgentUnavailable when the integration cannot run at all.
	Invoke(ctx context.Context, prompt string, opts Options) (Stream, error)
}

// item is one value delivered through a chanStream.
type item struct {
	ev  Event
	err error
}

// chanStream adapts a producer goroutine to the Stream interface.
type chanStream struct {
	items   <-chan item
	closeFn func() error
}

func (s *chanStream) Next(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case it, ok := <-s.items:
		if !ok {
			return Event{}, io.EOF
		}
		return it.ev, it.err
	}
}

func (s *chanStream) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// emit delivers it unless ctx is done first. It reports whether the item was delivered.
func emit(ctx context.Context, ch chan<- item, it item) bool {
	select {
	case ch <- it:
		return true
	case <-ctx.Done():
		return false
	}
}
