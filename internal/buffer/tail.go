// Package buffer keeps the tail of a byte stream, such as a child process's stderr.
package buffer

import (
	"bytes"
	"sync"
)

// Tail is an io.Writer that retains only the last capacity bytes written.
// It is safe for concurrent use, so it can be handed to exec.Cmd.Stderr
// while another goroutine reads it.
type Tail struct {
	data      []byte
	capacity  int
	truncated bool
	mu        sync.RWMutex
}

// NewTail creates a Tail holding at most capacity bytes.
// A capacity below 1 is raised to 1.
func NewTail(capacity int) *Tail {
	if capacity <= 0 {
		capacity = 1
	}
	return &Tail{
		data:     make([]byte, 0, capacity),
		capacity: capacity,
	}
}

// Write appends p, discarding the oldest bytes beyond capacity. It never fails.
func (t *Tail) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(p) >= t.capacity {
		t.truncated = t.truncated || len(t.data) > 0 || len(p) > t.capacity
		t.data = append(t.data[:0], p[len(p)-t.capacity:]...)
		return len(p), nil
	}

	if overflow := len(t.data) + len(p) - t.capacity; overflow > 0 {
		t.truncated = true
		kept := copy(t.data, t.data[overflow:])
		t.data = t.data[:kept]
	}
	t.data = append(t.data, p...)
	return len(p), nil
}

// Bytes returns a copy of the retained bytes.
func (t *Tail) Bytes() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.data) == 0 {
		return nil
	}
	out := make([]byte, len(t.data))
	copy(out, t.data)
	return out
}

// String returns the retained text trimmed of surrounding whitespace. Once
// bytes have been discarded, the partial first line is dropped as well.
func (t *Tail) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	data := t.data
	if t.truncated {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			data = data[i+1:]
		}
	}
	return string(bytes.TrimSpace(data))
}

// Truncated reports whether any bytes have been discarded.
func (t *Tail) Truncated() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.truncated
}

// Len returns the number of retained bytes.
func (t *Tail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data)
}

// Cap returns the capacity.
func (t *Tail) Cap() int {
	return t.capacity
}
