package session

import (
	"context"
	"errors"
	"sync"
)

var errPermissionPending = errors.New("another permission request is pending")

// gate is a rendezvous between the agent asking for a tool permission and
// the human answering it. At most one request is outstanding; answers that
// arrive with nothing pending are ignored.
type gate struct {
	mu      sync.Mutex
	pending chan bool
}

// request registers a pending request, calls announce, and blocks until
// resolve or ctx is done.
func (g *gate) request(ctx context.Context, announce func()) (bool, error) {
	g.mu.Lock()
	if g.pending != nil {
		g.mu.Unlock()
		return false, errPermissionPending
	}
	ch := make(chan bool, 1)
	g.pending = ch
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		if g.pending == ch {
			g.pending = nil
		}
		g.mu.Unlock()
	}()

	announce()

	select {
	case approved := <-ch:
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// resolve delivers a decision to the pending request. It reports whether one was pending.
func (g *gate) resolve(approved bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending == nil {
		return false
	}
	g.pending <- approved
	g.pending = nil
	return true
}

// clear drops any pending request without answering it.
func (g *gate) clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = nil
}

// isPending reports whether a request is waiting for a decision.
func (g *gate) isPending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending != nil
}
