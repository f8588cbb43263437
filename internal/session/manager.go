// Package session owns the single agent session of the server process.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/claude-collab/backend/internal/driver"
	"github.com/claude-collab/backend/internal/model"
	"github.com/claude-collab/backend/internal/wire"
)

// Emitter receives the wire events of one turn. Emit may be called from
// more than one goroutine.
type Emitter interface {
	Emit(ev wire.Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ev wire.Event)

// Emit calls f(ev).
func (f EmitterFunc) Emit(ev wire.Event) { f(ev) }

// OutcomeFunc is called after a turn's terminal event has been emitted.
type OutcomeFunc func(taskID string, outcome Outcome)

// Config holds configuration for the session manager.
type Config struct {
	// Model overrides the driver's default model when non-empty.
	Model string

	// RoutePermissions forwards the agent's tool permission prompts to clients.
	// When false the agent decides on its own (its allowed tools apply).
	RoutePermissions bool

	Logger *slog.Logger
}

// Manager runs at most one agent turn at a time and translates the agent's
// native events into wire events.
type Manager struct {
	agent  driver.Agent
	config Config
	logger *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	gate gate

	mu        sync.Mutex
	active    *run
	resume    string
	onOutcome OutcomeFunc
	closed    bool
}

// run is the in-flight turn.
type run struct {
	taskID  string
	emitter Emitter
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewManager creates a new session manager. A nil agent is allowed; every
// send then fails with ErrAgentUnavailable.
func NewManager(agent driver.Agent, config Config) *Manager {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		agent:      agent,
		config:     config,
		logger:     logger.With("component", "session"),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// OnOutcome registers fn to be called after every turn.
func (m *Manager) OnOutcome(fn OutcomeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOutcome = fn
}

// Busy reports whether a turn is in flight.
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// ResumeToken returns the agent's token for continuing the conversation.
func (m *Manager) ResumeToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resume
}

// Send starts a turn for prompt. Events for the turn, tagged with taskID when
// non-empty, go to emitter. It returns ErrBusy while another turn is in
// flight. When the agent cannot be started an agent:error is emitted and the
// error wrapping ErrAgentUnavailable is returned. A turn interrupted before
// the agent has started ends with agent:interrupted and a nil error.
func (m *Manager) Send(prompt, taskID string, emitter Emitter) error {
	if strings.TrimSpace(prompt) == "" {
		return model.ErrPromptRequired
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return model.ErrBusy
	}
	if m.agent == nil || m.closed {
		m.mu.Unlock()
		emitter.Emit(wire.AgentError(model.ErrAgentUnavailable.Error(), taskID))
		return model.ErrAgentUnavailable
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	r := &run{taskID: taskID, emitter: emitter, ctx: ctx, cancel: cancel}
	// Reserve the session so a concurrent send is rejected while the agent starts.
	m.active = r
	opts := driver.Options{Resume: m.resume, Model: m.config.Model}
	m.mu.Unlock()

	if m.config.RoutePermissions {
		opts.CanUseTool = m.permissionFunc(r)
	}

	stream, err := m.agent.Invoke(ctx, prompt, opts)
	if err != nil && ctx.Err() != nil {
		// Interrupted while the agent was starting; the turn ends like any other interrupt.
		cancel()
		m.end(r, decideOutcome(nil, true, err))
		return nil
	}
	if err != nil {
		m.finish(r)
		cancel()
		m.logger.Error("failed to start agent", "error", err, "task_id", taskID)
		emitter.Emit(wire.AgentError(err.Error(), taskID))
		return fmt.Errorf("failed to start agent: %w", err)
	}

	m.logger.Info("agent turn started", "driver", m.agent.Name(), "task_id", taskID, "resume", opts.Resume)
	emitter.Emit(wire.AgentStatus(wire.StatusThinking, taskID))

	m.wg.Add(1)
	go m.consume(r, stream)
	return nil
}

// Interrupt cancels the in-flight turn. It reports whether there was one.
func (m *Manager) Interrupt() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return false
	}
	m.active.cancel()
	m.logger.Info("agent turn interrupted", "task_id", m.active.taskID)
	return true
}

// ResolvePermission answers the pending permission request. It reports
// whether a request was pending.
func (m *Manager) ResolvePermission(approved bool) bool {
	return m.gate.resolve(approved)
}

// PermissionPending reports whether a permission request awaits an answer.
func (m *Manager) PermissionPending() bool {
	return m.gate.isPending()
}

// Close cancels any in-flight turn and waits for it to finish.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.baseCancel()
	m.wg.Wait()
	return nil
}

func (m *Manager) permissionFunc(r *run) driver.PermissionFunc {
	return func(ctx context.Context, tool string, input json.RawMessage) (bool, error) {
		return m.gate.request(ctx, func() {
			r.emitter.Emit(wire.AgentPermission(tool, input, r.taskID))
		})
	}
}

// consume pulls the stream to its end and emits exactly one terminal event.
func (m *Manager) consume(r *run, stream driver.Stream) {
	defer m.wg.Done()

	result, err := m.pump(r, stream)
	if closeErr := stream.Close(); closeErr != nil {
		m.logger.Warn("failed to close agent stream", "error", closeErr)
	}

	outcome := decideOutcome(result, r.ctx.Err() != nil, err)
	r.cancel()
	m.end(r, outcome)
}

// end clears r, then emits idle ahead of the terminal event so that a send
// triggered by the terminal event is never followed by this turn's idle.
func (m *Manager) end(r *run, outcome Outcome) {
	onOutcome := m.finish(r)

	m.logger.Info("agent turn finished", "task_id", r.taskID, "outcome", outcome.Kind, "error", outcome.Err)

	r.emitter.Emit(wire.AgentStatus(wire.StatusIdle, r.taskID))
	r.emitter.Emit(outcome.Event(r.taskID))

	if onOutcome != nil {
		onOutcome(r.taskID, outcome)
	}
}

// pump translates native events until the result, the end of the stream or an error.
func (m *Manager) pump(r *run, stream driver.Stream) (result *driver.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("agent stream panicked: %v", p)
		}
	}()

	streaming := false
	for {
		ev, err := stream.Next(r.ctx)
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		if ev.SessionID != "" {
			m.setResume(ev.SessionID)
		}

		switch ev.Kind {
		case driver.EventSystem:
			r.emitter.Emit(wire.AgentSystem(ev.Model, ev.Tools, r.taskID))
		case driver.EventText:
			if !streaming {
				streaming = true
				r.emitter.Emit(wire.AgentStatus(wire.StatusStreaming, r.taskID))
			}
			r.emitter.Emit(wire.AgentText(ev.Text, r.taskID))
		case driver.EventToolUse:
			r.emitter.Emit(wire.AgentToolCall(ev.ToolName, ev.Input, ev.ToolUseID, r.taskID))
		case driver.EventToolResult:
			r.emitter.Emit(wire.AgentToolResult(ev.ToolUseID, ev.Content, ev.IsError, r.taskID))
		case driver.EventResult:
			if ev.Result == nil {
				return &driver.Result{}, nil
			}
			return ev.Result, nil
		}
	}
}

func (m *Manager) setResume(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resume = token
}

// finish clears r as the active run and returns the outcome hook.
func (m *Manager) finish(r *run) OutcomeFunc {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == r {
		m.active = nil
	}
	m.gate.clear()
	return m.onOutcome
}
