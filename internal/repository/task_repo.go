// Package repository provides SQLite-backed persistence.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/claude-collab/backend/internal/model"
)

// TaskRepository provides data access for tasks.
type TaskRepository struct {
	db *sql.DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Upsert merges p into the stored task, creating it when the id is unknown.
// Fields p does not carry keep their stored values. It returns the merged task.
func (r *TaskRepository) Upsert(ctx context.Context, p model.TaskPatch) (model.Task, error) {
	query := `
		INSERT INTO tasks (id, prompt, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			prompt = COALESCE(excluded.prompt, tasks.prompt),
			status = COALESCE(excluded.status, tasks.status),
			created_at = COALESCE(excluded.created_at, tasks.created_at),
			updated_at = CURRENT_TIMESTAMP
	`

	var prompt, status sql.NullString
	var createdAt sql.NullInt64
	if p.Prompt != nil {
		prompt = sql.NullString{String: *p.Prompt, Valid: true}
	}
	if p.Status != nil {
		status = sql.NullString{String: string(*p.Status), Valid: true}
	}
	if p.CreatedAt != nil {
		createdAt = sql.NullInt64{Int64: *p.CreatedAt, Valid: true}
	}

	if _, err := r.db.ExecContext(ctx, query, p.ID, prompt, status, createdAt); err != nil {
		return model.Task{}, fmt.Errorf("failed to upsert task: %w", err)
	}

	return r.GetByID(ctx, p.ID)
}

// GetByID retrieves a task by its ID.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (model.Task, error) {
	query := `
		SELECT id, prompt, status, created_at
		FROM tasks
		WHERE id = ?
	`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, model.ErrTaskNotFound
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// List returns all tasks in the order they were first seen.
func (r *TaskRepository) List(ctx context.Context) ([]model.Task, error) {
	query := `
		SELECT id, prompt, status, created_at
		FROM tasks
		ORDER BY seq ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.Task, error) {
	var task model.Task
	var prompt, status sql.NullString
	var createdAt sql.NullInt64

	if err := row.Scan(&task.ID, &prompt, &status, &createdAt); err != nil {
		return model.Task{}, err
	}

	task.Prompt = prompt.String
	task.Status = model.TaskStatus(status.String)
	task.CreatedAt = createdAt.Int64
	return task, nil
}
