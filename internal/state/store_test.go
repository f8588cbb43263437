package state

import (
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude-collab/backend/internal/model"
)

// manualScheduler queues flushes until run is called.
type manualScheduler struct {
	mu      sync.Mutex
	pending []func()
}

func (m *manualScheduler) schedule(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, f)
}

func (m *manualScheduler) run() int {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, f := range pending {
		f()
	}
	return len(pending)
}

func newManualStore(initial map[string]any) (*Store, *manualScheduler) {
	sched := &manualScheduler{}
	return New(initial, WithScheduler(sched.schedule)), sched
}

func TestStore_GetSet(t *testing.T) {
	s, _ := newManualStore(map[string]any{KeyAgentStatus: "idle"})

	assert.Equal(t, "idle", s.Get(KeyAgentStatus))
	assert.Nil(t, s.Get("missing"))

	s.Set(KeyAgentStatus, "thinking")
	assert.Equal(t, "thinking", s.Get(KeyAgentStatus), "reads see the new value before notification")

	snap := s.Snapshot()
	snap[KeyAgentStatus] = "mutated"
	assert.Equal(t, "thinking", s.Get(KeyAgentStatus), "snapshot is a copy")
}

func TestStore_Coalescing(t *testing.T) {
	s, sched := newManualStore(nil)

	var got []any
	s.Subscribe(KeyAgentStatus, func(v any) { got = append(got, v) })

	s.Set(KeyAgentStatus, "thinking")
	s.Set(KeyAgentStatus, "streaming")
	s.Set(KeyAgentStatus, "idle")

	assert.Empty(t, got, "notification is deferred")
	assert.Equal(t, 1, sched.run(), "one tick scheduled for a burst")
	assert.Equal(t, []any{"idle"}, got)

	assert.Equal(t, 0, sched.run())
	assert.Len(t, got, 1)
}

func TestStore_SubscriberOrder(t *testing.T) {
	s, sched := newManualStore(nil)

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		s.Subscribe(KeyWSConnected, func(any) { order = append(order, i) })
	}

	s.Set(KeyWSConnected, true)
	sched.run()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestStore_Unsubscribe(t *testing.T) {
	s, sched := newManualStore(nil)

	calls := 0
	unsubscribe := s.Subscribe(KeyTasks, func(any) { calls++ })
	s.Set(KeyTasks, 1)
	sched.run()

	unsubscribe()
	unsubscribe()
	s.Set(KeyTasks, 2)
	sched.run()

	assert.Equal(t, 1, calls)
}

func TestStore_UnsubscribeDuringNotification(t *testing.T) {
	s, sched := newManualStore(nil)

	var second func()
	calls := 0
	s.Subscribe(KeyTasks, func(any) { second() })
	second = s.Subscribe(KeyTasks, func(any) { calls++ })

	s.Set(KeyTasks, 1)
	sched.run()
	assert.Equal(t, 0, calls, "a listener removed mid-round is not called")
}

func TestStore_PanickingListener(t *testing.T) {
	s, sched := newManualStore(nil)

	called := false
	s.Subscribe(KeyAgentStatus, func(any) { panic("boom") })
	s.Subscribe(KeyAgentStatus, func(any) { called = true })

	s.Set(KeyAgentStatus, "idle")
	require.NotPanics(t, func() { sched.run() })
	assert.True(t, called)
}

func TestStore_SetDuringFlushSchedulesNextTick(t *testing.T) {
	s, sched := newManualStore(nil)

	var got []any
	s.Subscribe("a", func(v any) {
		got = append(got, v)
		if v == 1 {
			s.Set("a", 2)
		}
	})

	s.Set("a", 1)
	sched.run()
	sched.run()
	assert.Equal(t, []any{1, 2}, got)
}

func TestStore_DefaultScheduler(t *testing.T) {
	s := New(nil)

	done := make(chan any, 1)
	s.Subscribe(KeyWSConnected, func(v any) { done <- v })
	s.Set(KeyWSConnected, true)

	select {
	case v := <-done:
		assert.Equal(t, true, v)
	case <-time.After(time.Second):
		t.Fatal("listener was not notified")
	}
}

func TestAppend(t *testing.T) {
	s, sched := newManualStore(nil)

	var got []string
	s.Subscribe(KeyChatMessages, func(v any) { got = v.([]string) })

	Append(s, KeyChatMessages, "a")
	Append(s, KeyChatMessages, "b")
	sched.run()

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, []string{"a", "b"}, Items[string](s, KeyChatMessages))
}

func TestUpdateWhere(t *testing.T) {
	s, _ := newManualStore(map[string]any{
		KeyTasks: []model.Task{{ID: "a", Prompt: "one"}, {ID: "b", Prompt: "two"}, {ID: "c", Prompt: "three"}},
	})

	found := UpdateWhere(s, KeyTasks,
		func(t model.Task) bool { return t.ID == "b" },
		func(t model.Task) model.Task { t.Status = model.TaskStatusDone; return t })
	assert.True(t, found)

	tasks := Tasks(s)
	require.Len(t, tasks, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{tasks[0].ID, tasks[1].ID, tasks[2].ID})
	assert.Equal(t, model.TaskStatusDone, tasks[1].Status)
	assert.Equal(t, "two", tasks[1].Prompt)
	assert.Empty(t, tasks[0].Status)

	assert.False(t, UpdateWhere(s, KeyTasks,
		func(t model.Task) bool { return t.ID == "zzz" },
		func(t model.Task) model.Task { return t }))
}

func TestApplyTaskUpdate(t *testing.T) {
	s, sched := newManualStore(nil)

	var notified [][]model.Task
	s.Subscribe(KeyTasks, func(v any) { notified = append(notified, v.([]model.Task)) })

	task := model.NewTask("t1", "write docs")
	ApplyTaskUpdate(s, task.Patch())
	ApplyTaskUpdate(s, model.StatusPatch("t1", model.TaskStatusApproved))
	sched.run()

	require.Len(t, notified, 1)
	require.Len(t, notified[0], 1)
	assert.Equal(t, "write docs", notified[0][0].Prompt)
	assert.Equal(t, model.TaskStatusApproved, notified[0][0].Status)
}

func TestApplyTaskUpdate_UnknownID(t *testing.T) {
	s, _ := newManualStore(nil)

	ApplyTaskUpdate(s, model.StatusPatch("abc", model.TaskStatusApproved))

	tasks := Tasks(s)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.Task{ID: "abc", Status: model.TaskStatusApproved}, tasks[0])
}

// Property: any burst of sets on one key before the tick is delivered as a
// single notification carrying the last value.
func TestStoreCoalescingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("burst of sets notifies once with the latest value", prop.ForAll(
		func(values []int) bool {
			s, sched := newManualStore(nil)
			var got []any
			s.Subscribe("k", func(v any) { got = append(got, v) })

			for _, v := range values {
				s.Set("k", v)
			}
			sched.run()

			if len(values) == 0 {
				return len(got) == 0
			}
			return len(got) == 1 && got[0] == values[len(values)-1]
		},
		gen.SliceOf(gen.Int()),
	))

	properties.TestingRun(t)
}
