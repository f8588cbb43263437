// Package state is the client-side state store: named slices holding their
// latest value, with batched and coalesced change notification.
package state

import (
	"log/slog"
	"sync"
)

// Well-known slice keys.
const (
	KeyWSConnected       = "wsConnected"
	KeyAgentStatus       = "agentStatus"
	KeyChatMessages      = "chatMessages"
	KeyTasks             = "tasks"
	KeyPendingPermission = "pendingPermission"
)

// Listener receives the latest value of a slice.
type Listener func(value any)

// Scheduler runs f at some later point. It decides what one notification
// tick is: every Set before f runs is delivered by that single call.
type Scheduler func(f func())

// Option configures a Store.
type Option func(*Store)

// WithScheduler replaces the default scheduler, which runs each flush on a new goroutine.
func WithScheduler(sched Scheduler) Option {
	return func(s *Store) { s.schedule = sched }
}

// WithLogger sets the logger used to report panicking listeners.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

type subscriber struct {
	fn      Listener
	removed bool
}

// Store holds named state slices.
type Store struct {
	mu         sync.Mutex
	values     map[string]any
	subs       map[string][]*subscriber
	dirty      map[string]bool
	dirtyOrder []string
	scheduled  bool

	// flushMu keeps notification rounds from overlapping.
	flushMu sync.Mutex

	schedule Scheduler
	logger   *slog.Logger
}

// New creates a Store seeded with initial values.
func New(initial map[string]any, opts ...Option) *Store {
	s := &Store{
		values:   make(map[string]any, len(initial)),
		subs:     make(map[string][]*subscriber),
		dirty:    make(map[string]bool),
		schedule: func(f func()) { go f() },
		logger:   slog.Default(),
	}
	for k, v := range initial {
		s.values[k] = v
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the current value of key, or nil.
func (s *Store) Get(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

// Snapshot returns a shallow copy of every slice.
func (s *Store) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Set replaces the value of key and schedules a notification.
func (s *Store) Set(key string, value any) {
	s.Update(key, func(any) any { return value })
}

// Update replaces the value of key with fn(current) atomically and schedules
// a notification. fn must not call back into the store.
func (s *Store) Update(key string, fn func(current any) any) {
	s.mu.Lock()
	s.values[key] = fn(s.values[key])
	if !s.dirty[key] {
		s.dirty[key] = true
		s.dirtyOrder = append(s.dirtyOrder, key)
	}
	needSchedule := !s.scheduled
	s.scheduled = true
	sched := s.schedule
	s.mu.Unlock()

	if needSchedule {
		sched(s.Flush)
	}
}

// Subscribe registers fn for changes to key. The returned function removes it.
func (s *Store) Subscribe(key string, fn Listener) func() {
	sub := &subscriber{fn: fn}

	s.mu.Lock()
	s.subs[key] = append(s.subs[key], sub)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			sub.removed = true
			subs := s.subs[key]
			for i, candidate := range subs {
				if candidate == sub {
					s.subs[key] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

type notification struct {
	key   string
	value any
	subs  []*subscriber
}

// Flush delivers pending notifications now: each changed key once, with its
// latest value, to its subscribers in registration order. The scheduler calls
// it; tests with a manual scheduler may call it directly.
func (s *Store) Flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	keys := s.dirtyOrder
	s.dirtyOrder = nil
	s.dirty = make(map[string]bool)
	s.scheduled = false

	round := make([]notification, 0, len(keys))
	for _, key := range keys {
		subs := s.subs[key]
		if len(subs) == 0 {
			continue
		}
		round = append(round, notification{
			key:   key,
			value: s.values[key],
			subs:  append([]*subscriber(nil), subs...),
		})
	}
	s.mu.Unlock()

	for _, n := range round {
		for _, sub := range n.subs {
			if s.isRemoved(sub) {
				continue
			}
			s.call(n.key, sub.fn, n.value)
		}
	}
}

func (s *Store) isRemoved(sub *subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sub.removed
}

// call runs a listener, containing any panic to that listener.
func (s *Store) call(key string, fn Listener, value any) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("state listener panicked", "key", key, "panic", p)
		}
	}()
	fn(value)
}

// Append adds item to the slice-valued key, growing it in place.
func Append[T any](s *Store, key string, item T) {
	s.Update(key, func(current any) any {
		items, _ := current.([]T)
		return append(items, item)
	})
}

// UpdateWhere replaces the items of the slice-valued key for which match
// returns true with update(item). Order and other items are untouched. It
// reports whether any item matched.
func UpdateWhere[T any](s *Store, key string, match func(T) bool, update func(T) T) bool {
	found := false
	s.Update(key, func(current any) any {
		items, _ := current.([]T)
		next := make([]T, len(items))
		copy(next, items)
		for i, item := range next {
			if match(item) {
				next[i] = update(item)
				found = true
			}
		}
		return next
	})
	return found
}

// Items returns the slice-valued key as []T.
func Items[T any](s *Store, key string) []T {
	items, _ := s.Get(key).([]T)
	return items
}
