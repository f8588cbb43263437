package session

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/claude-collab/backend/internal/driver"
	"github.com/claude-collab/backend/internal/wire"
)

// fakeAgent replays a fixed script for every invocation.
type fakeAgent struct {
	events    []driver.Event
	block     bool
	err       error
	invokeErr error
	askTool   string
	slowStart bool
	starting  chan struct{}

	mu        sync.Mutex
	resumes   []string
	decisions []bool
}

func (a *fakeAgent) Name() string { return "fake" }

func (a *fakeAgent) Invoke(ctx context.Context, prompt string, opts driver.Options) (driver.Stream, error) {
	a.mu.Lock()
	a.resumes = append(a.resumes, opts.Resume)
	a.mu.Unlock()

	if a.invokeErr != nil {
		return nil, a.invokeErr
	}
	if a.slowStart {
		// Start-up only ends when the turn is cancelled.
		if a.starting != nil {
			close(a.starting)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &fakeStream{agent: a, opts: opts}, nil
}

func (a *fakeAgent) recordedResumes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.resumes...)
}

func (a *fakeAgent) recordedDecisions() []bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]bool(nil), a.decisions...)
}

type fakeStream struct {
	agent *fakeAgent
	opts  driver.Options
	next  int
	asked bool
}

func (s *fakeStream) Next(ctx context.Context) (driver.Event, error) {
	if s.agent.askTool != "" && !s.asked && s.opts.CanUseTool != nil {
		s.asked = true
		ok, err := s.opts.CanUseTool(ctx, s.agent.askTool, json.RawMessage(`{"command":"ls"}`))
		if err != nil {
			return driver.Event{}, err
		}
		s.agent.mu.Lock()
		s.agent.decisions = append(s.agent.decisions, ok)
		s.agent.mu.Unlock()
	}

	if s.next < len(s.agent.events) {
		ev := s.agent.events[s.next]
		s.next++
		return ev, nil
	}
	if s.agent.block {
		<-ctx.Done()
		return driver.Event{}, ctx.Err()
	}
	if s.agent.err != nil {
		return driver.Event{}, s.agent.err
	}
	return driver.Event{}, io.EOF
}

func (s *fakeStream) Close() error { return nil }

// recorder collects emitted events and signals each terminal event.
type recorder struct {
	mu     sync.Mutex
	events []wire.Event
	ended  chan struct{}
	hook   func(ev wire.Event)
}

func newRecorder() *recorder {
	return &recorder{ended: make(chan struct{}, 64)}
}

func (r *recorder) Emit(ev wire.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
	switch ev.Type {
	case wire.TypeAgentDone, wire.TypeAgentInterrupted, wire.TypeAgentError:
		r.ended <- struct{}{}
	}
}

// waitEnd blocks until the next turn has emitted its terminal event.
func (r *recorder) waitEnd(t *testing.T) {
	t.Helper()
	select {
	case <-r.ended:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the turn to end")
	}
}

func (r *recorder) snapshot() []wire.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Event(nil), r.events...)
}

func (r *recorder) types() []string {
	var types []string
	for _, ev := range r.snapshot() {
		name := string(ev.Type)
		if ev.Type == wire.TypeAgentStatus {
			name += "(" + ev.Status + ")"
		}
		types = append(types, name)
	}
	return types
}

func (r *recorder) count(typ wire.Type) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
