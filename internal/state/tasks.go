package state

import (
	"github.com/claude-collab/backend/internal/model"
)

// ApplyTaskUpdate merges a task:update patch into the tasks slice. A patch
// for an id not yet in the list appends a new task built from the patch.
func ApplyTaskUpdate(s *Store, patch model.TaskPatch) {
	s.Update(KeyTasks, func(current any) any {
		tasks, _ := current.([]model.Task)
		for i := range tasks {
			if tasks[i].ID == patch.ID {
				next := make([]model.Task, len(tasks))
				copy(next, tasks)
				next[i].Apply(patch)
				return next
			}
		}
		return append(tasks, model.TaskFromPatch(patch))
	})
}

// Tasks returns the current task list.
func Tasks(s *Store) []model.Task {
	return Items[model.Task](s, KeyTasks)
}
