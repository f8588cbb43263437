package client

import "time"

// Reconnect delay bounds.
const (
	DefaultBackoffFloor   = time.Second
	DefaultBackoffCeiling = 30 * time.Second
)

// Backoff produces reconnect delays that double from a floor up to a ceiling.
// It is not safe for concurrent use.
type Backoff struct {
	Floor   time.Duration
	Ceiling time.Duration

	current time.Duration
}

// NewBackoff creates a Backoff with the default bounds.
func NewBackoff() *Backoff {
	return &Backoff{Floor: DefaultBackoffFloor, Ceiling: DefaultBackoffCeiling}
}

// Next returns the delay to wait now and doubles the following one, capped at Ceiling.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Floor
	}
	delay := b.current
	b.current *= 2
	if b.current > b.Ceiling {
		b.current = b.Ceiling
	}
	return delay
}

// Reset returns the delay to Floor.
func (b *Backoff) Reset() {
	b.current = b.Floor
}
