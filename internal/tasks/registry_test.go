package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude-collab/backend/internal/db"
	"github.com/claude-collab/backend/internal/model"
	"github.com/claude-collab/backend/internal/repository"
)

// stores returns every Store implementation, so both are held to the same contract.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	database, err := db.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": repository.NewTaskRepository(database),
	}
}

func TestRegistry_Submit(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			r := NewRegistry(store)
			ctx := context.Background()

			first, err := r.Submit(ctx, "write docs")
			require.NoError(t, err)
			second, err := r.Submit(ctx, "fix bug")
			require.NoError(t, err)

			assert.Equal(t, model.TaskStatusQueued, first.Status)
			assert.Equal(t, "write docs", first.Prompt)
			assert.NotZero(t, first.CreatedAt)
			assert.NotEqual(t, first.ID, second.ID)

			list, err := r.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, first.ID, list[0].ID)
			assert.Equal(t, second.ID, list[1].ID)
		})
	}
}

func TestRegistry_SubmitEmptyPrompt(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	_, err := r.Submit(context.Background(), "  ")
	assert.True(t, errors.Is(err, model.ErrPromptRequired))
}

func TestRegistry_IDsAreTimeOrdered(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	ctx := context.Background()

	prev := ""
	for i := 0; i < 20; i++ {
		task, err := r.Submit(ctx, "p")
		require.NoError(t, err)
		assert.Greater(t, task.ID, prev)
		prev = task.ID
	}
}

func TestRegistry_SetStatus(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			r := NewRegistry(store)
			ctx := context.Background()

			task, err := r.Submit(ctx, "deploy")
			require.NoError(t, err)

			patch, err := r.SetStatus(ctx, task.ID, model.TaskStatusApproved)
			require.NoError(t, err)
			assert.Equal(t, task.ID, patch.ID)
			require.NotNil(t, patch.Status)
			assert.Equal(t, model.TaskStatusApproved, *patch.Status)
			assert.Nil(t, patch.Prompt, "broadcast patch carries only the status")

			got, err := r.Get(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, model.TaskStatusApproved, got.Status)
			assert.Equal(t, "deploy", got.Prompt)
			assert.Equal(t, task.CreatedAt, got.CreatedAt)
		})
	}
}

func TestRegistry_SetStatusUnknownIDUpserts(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			r := NewRegistry(store)
			ctx := context.Background()

			_, err := r.SetStatus(ctx, "elsewhere", model.TaskStatusRejected)
			require.NoError(t, err)

			list, err := r.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, model.Task{ID: "elsewhere", Status: model.TaskStatusRejected}, list[0])
		})
	}
}

func TestRegistry_SetStatusInvalid(t *testing.T) {
	r := NewRegistry(NewMemoryStore())
	ctx := context.Background()

	_, err := r.SetStatus(ctx, "t1", model.TaskStatus("archived"))
	assert.True(t, errors.Is(err, model.ErrInvalidStatus))

	_, err = r.SetStatus(ctx, "", model.TaskStatusDone)
	assert.True(t, errors.Is(err, model.ErrTaskNotFound))
}

func TestRegistry_GetMissing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := NewRegistry(store).Get(context.Background(), "nope")
			assert.True(t, errors.Is(err, model.ErrTaskNotFound))
		})
	}
}

// Property: the memory and sqlite stores agree after any sequence of upserts.
func TestStoresAgreeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	statuses := []model.TaskStatus{
		model.TaskStatusQueued,
		model.TaskStatusApproved,
		model.TaskStatusRejected,
		model.TaskStatusReview,
		model.TaskStatusDone,
	}
	ids := []string{"a", "b", "c"}

	properties.Property("memory and sqlite stores agree", prop.ForAll(
		func(ops []int) bool {
			database, err := db.NewTestDB()
			if err != nil {
				return false
			}
			defer database.Close()

			ctx := context.Background()
			mem := NewMemoryStore()
			sql := repository.NewTaskRepository(database)

			for _, op := range ops {
				id := ids[op%len(ids)]
				var p model.TaskPatch
				if op%2 == 0 {
					p = model.StatusPatch(id, statuses[op%len(statuses)])
				} else {
					p = model.NewTask(id, "prompt").Patch()
				}
				if _, err := mem.Upsert(ctx, p); err != nil {
					return false
				}
				if _, err := sql.Upsert(ctx, p); err != nil {
					return false
				}
			}

			a, _ := mem.List(ctx)
			b, _ := sql.List(ctx)
			if len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i].ID != b[i].ID || a[i].Status != b[i].Status || a[i].Prompt != b[i].Prompt {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 29)),
	))

	properties.TestingRun(t)
}
