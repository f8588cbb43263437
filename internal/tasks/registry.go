// Package tasks tracks queued work through the approval workflow.
package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/claude-collab/backend/internal/model"
)

// Store persists tasks. Upsert merges a patch into the stored task, creating
// it when the id is unknown, and returns the merged task. List returns tasks
// in the order they were first seen.
type Store interface {
	Upsert(ctx context.Context, p model.TaskPatch) (model.Task, error)
	GetByID(ctx context.Context, id string) (model.Task, error)
	List(ctx context.Context) ([]model.Task, error)
}

// Registry creates tasks and moves them between statuses.
type Registry struct {
	store Store
	newID func() string
}

// NewRegistry creates a new Registry backed by store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store, newID: newTaskID}
}

// newTaskID returns a time-ordered UUIDv7, falling back to a random UUID.
func newTaskID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Submit creates a queued task for prompt.
func (r *Registry) Submit(ctx context.Context, prompt string) (model.Task, error) {
	if strings.TrimSpace(prompt) == "" {
		return model.Task{}, model.ErrPromptRequired
	}

	task := model.NewTask(r.newID(), prompt)
	stored, err := r.store.Upsert(ctx, task.Patch())
	if err != nil {
		return model.Task{}, fmt.Errorf("failed to submit task: %w", err)
	}
	return stored, nil
}

// SetStatus records a status change and returns the partial update to
// broadcast. Unknown ids are created.
func (r *Registry) SetStatus(ctx context.Context, id string, status model.TaskStatus) (model.TaskPatch, error) {
	if id == "" {
		return model.TaskPatch{}, model.ErrTaskNotFound
	}
	if !status.Valid() {
		return model.TaskPatch{}, fmt.Errorf("%w: %q", model.ErrInvalidStatus, status)
	}

	patch := model.StatusPatch(id, status)
	if _, err := r.store.Upsert(ctx, patch); err != nil {
		return model.TaskPatch{}, fmt.Errorf("failed to update task %s: %w", id, err)
	}
	return patch, nil
}

// Get returns the task with the given id.
func (r *Registry) Get(ctx context.Context, id string) (model.Task, error) {
	return r.store.GetByID(ctx, id)
}

// List returns all tasks in submission order.
func (r *Registry) List(ctx context.Context) ([]model.Task, error) {
	return r.store.List(ctx)
}
