package model

import (
	"fmt"
	"time"
)

// TaskStatus represents where a task is in the approval workflow.
type TaskStatus string

const (
	TaskStatusQueued   TaskStatus = "queued"
	TaskStatusApproved TaskStatus = "approved"
	TaskStatusRejected TaskStatus = "rejected"
	TaskStatusReview   TaskStatus = "review"
	TaskStatusDone     TaskStatus = "done"
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusApproved, TaskStatusRejected, TaskStatusReview, TaskStatusDone:
		return true
	}
	return false
}

// ParseTaskStatus converts a raw string into a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	status := TaskStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return status, nil
}

// Task is a unit of queued work tracked through the approval workflow.
// CreatedAt is Unix milliseconds.
type Task struct {
	ID        string     `json:"id"`
	Prompt    string     `json:"prompt,omitempty"`
	Status    TaskStatus `json:"status,omitempty"`
	CreatedAt int64      `json:"createdAt,omitempty"`
}

// TaskPatch is a partial task. Only non-nil fields are applied on merge.
type TaskPatch struct {
	ID        string      `json:"id"`
	Prompt    *string     `json:"prompt,omitempty"`
	Status    *TaskStatus `json:"status,omitempty"`
	CreatedAt *int64      `json:"createdAt,omitempty"`
}

// NewTask creates a queued task stamped with the current time.
func NewTask(id, prompt string) *Task {
	return &Task{
		ID:        id,
		Prompt:    prompt,
		Status:    TaskStatusQueued,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// Patch returns a patch carrying every field of t.
func (t *Task) Patch() TaskPatch {
	prompt := t.Prompt
	status := t.Status
	createdAt := t.CreatedAt
	return TaskPatch{
		ID:        t.ID,
		Prompt:    &prompt,
		Status:    &status,
		CreatedAt: &createdAt,
	}
}

// Apply merges p into t, leaving fields p does not carry untouched.
func (t *Task) Apply(p TaskPatch) {
	if p.Prompt != nil {
		t.Prompt = *p.Prompt
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.CreatedAt != nil {
		t.CreatedAt = *p.CreatedAt
	}
}

// TaskFromPatch builds a task from a patch for an id that is not yet known.
func TaskFromPatch(p TaskPatch) Task {
	t := Task{ID: p.ID}
	t.Apply(p)
	return t
}

// StatusPatch builds a patch that only changes the status.
func StatusPatch(id string, status TaskStatus) TaskPatch {
	return TaskPatch{ID: id, Status: &status}
}
