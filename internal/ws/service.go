package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/claude-collab/backend/internal/model"
	"github.com/claude-collab/backend/internal/session"
	"github.com/claude-collab/backend/internal/tasks"
	"github.com/claude-collab/backend/internal/wire"
)

// Service routes inbound client messages to the session manager and the task
// registry, and fans task updates out to every client.
type Service struct {
	hub      *Hub
	sessions *session.Manager
	tasks    *tasks.Registry
	logger   *slog.Logger
}

// NewService creates a new Service and registers it for session outcomes, so
// completed task-tagged turns move to review.
func NewService(hub *Hub, sessions *session.Manager, registry *tasks.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		hub:      hub,
		sessions: sessions,
		tasks:    registry,
		logger:   logger.With("component", "router"),
	}
	sessions.OnOutcome(s.handleOutcome)
	return s
}

// HandleMessage decodes and routes one inbound frame. Protocol errors are
// reported to the sender as error events; the connection keeps serving.
func (s *Service) HandleMessage(client *Client, data []byte) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("panic while handling message", "client", client.ID(), "panic", p)
			client.Emit(wire.ProtocolError(fmt.Sprintf("internal error: %v", p)))
		}
	}()

	ev, err := wire.Decode(data)
	if err != nil {
		client.Emit(wire.ProtocolError("Invalid JSON"))
		return
	}

	ctx := context.Background()

	switch ev.Type {
	case wire.TypeAgentSend:
		s.send(client, ev.Message, "")

	case wire.TypeAgentInterrupt:
		if !s.sessions.Interrupt() {
			s.logger.Debug("interrupt ignored", "client", client.ID(), "error", model.ErrNoActiveSession)
		}

	case wire.TypePermissionRespond:
		if !s.sessions.ResolvePermission(ev.Approval()) {
			s.logger.Debug("permission response ignored", "client", client.ID(), "approved", ev.Approval())
		}

	case wire.TypeTaskSubmit:
		task, err := s.tasks.Submit(ctx, ev.Prompt)
		if err != nil {
			client.Emit(wire.ProtocolError(err.Error()))
			return
		}
		s.BroadcastTask(task.Patch())
		s.send(client, task.Prompt, task.ID)

	case wire.TypeTaskApprove:
		s.updateStatus(ctx, client, ev.TaskID, model.TaskStatusApproved)

	case wire.TypeTaskReject:
		s.updateStatus(ctx, client, ev.TaskID, model.TaskStatusRejected)

	default:
		client.Emit(wire.ProtocolError(fmt.Sprintf("Unknown message type: %s", ev.Type)))
	}
}

// BroadcastTask sends a task update to every connected client.
func (s *Service) BroadcastTask(patch model.TaskPatch) {
	if err := s.hub.BroadcastEvent(wire.TaskUpdate(patch)); err != nil {
		s.logger.Error("failed to broadcast task update", "task_id", patch.ID, "error", err)
	}
}

// send starts an agent turn whose events go back to client.
func (s *Service) send(client *Client, prompt, taskID string) {
	err := s.sessions.Send(prompt, taskID, client)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrBusy), errors.Is(err, model.ErrPromptRequired):
		client.Emit(wire.ProtocolError(err.Error()))
	default:
		// The session manager has already emitted agent:error.
		s.logger.Warn("agent send failed", "client", client.ID(), "task_id", taskID, "error", err)
	}
}

func (s *Service) updateStatus(ctx context.Context, client *Client, taskID string, status model.TaskStatus) {
	patch, err := s.tasks.SetStatus(ctx, taskID, status)
	if err != nil {
		client.Emit(wire.ProtocolError(err.Error()))
		return
	}
	s.BroadcastTask(patch)
}

// handleOutcome moves a completed task-tagged turn to review.
func (s *Service) handleOutcome(taskID string, outcome session.Outcome) {
	if taskID == "" || outcome.Kind != session.OutcomeCompleted {
		return
	}
	patch, err := s.tasks.SetStatus(context.Background(), taskID, model.TaskStatusReview)
	if err != nil {
		s.logger.Error("failed to move task to review", "task_id", taskID, "error", err)
		return
	}
	s.BroadcastTask(patch)
}
