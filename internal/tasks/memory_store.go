package tasks

import (
	"context"
	"sync"

	"github.com/claude-collab/backend/internal/model"
)

// MemoryStore keeps tasks in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	tasks map[string]*model.Task
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*model.Task)}
}

// Upsert merges p into the stored task, appending a new one for an unknown id.
func (s *MemoryStore) Upsert(ctx context.Context, p model.TaskPatch) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[p.ID]
	if !ok {
		created := model.TaskFromPatch(p)
		s.tasks[p.ID] = &created
		s.order = append(s.order, p.ID)
		return created, nil
	}
	task.Apply(p)
	return *task, nil
}

// GetByID returns the task with the given id.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return model.Task{}, model.ErrTaskNotFound
	}
	return *task, nil
}

// List returns all tasks in the order they were first seen.
func (s *MemoryStore) List(ctx context.Context) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]model.Task, 0, len(s.order))
	for _, id := range s.order {
		tasks = append(tasks, *s.tasks[id])
	}
	return tasks, nil
}
