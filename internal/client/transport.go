// Package client is the client side of the collaboration socket: a
// self-reconnecting transport that dispatches inbound events to handlers.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/claude-collab/backend/internal/state"
	"github.com/claude-collab/backend/internal/wire"
)

// State is the lifecycle of the transport.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is the subset of *websocket.Conn the transport uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc opens a connection to url.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Timer is a pending reconnect.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Handler receives an inbound event.
type Handler func(ev wire.Event)

// Option configures a Transport.
type Option func(*Transport)

// WithDialer replaces the gorilla websocket dialer.
func WithDialer(dial DialFunc) Option {
	return func(t *Transport) { t.dial = dial }
}

// WithAfterFunc replaces time.AfterFunc for reconnect scheduling.
func WithAfterFunc(after AfterFunc) Option {
	return func(t *Transport) { t.afterFunc = after }
}

// WithBackoff replaces the default reconnect backoff.
func WithBackoff(b *Backoff) Option {
	return func(t *Transport) { t.backoff = b }
}

// WithLogger sets the transport's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

type handlerEntry struct {
	fn Handler
}

// Transport keeps a connection to the server open, reconnecting with backoff
// until Close is called. Connection state is mirrored into the store's
// wsConnected slice.
type Transport struct {
	url       string
	store     *state.Store
	dial      DialFunc
	afterFunc AfterFunc
	backoff   *Backoff
	logger    *slog.Logger

	mu    sync.Mutex
	state State
	conn  Conn
	timer Timer

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[wire.Type][]*handlerEntry
}

// New creates a Transport for url. It does not connect until Connect is called.
func New(url string, store *state.Store, opts ...Option) *Transport {
	t := &Transport{
		url:       url,
		store:     store,
		dial:      dialWebsocket,
		afterFunc: func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		backoff:   NewBackoff(),
		logger:    slog.Default(),
		handlers:  make(map[wire.Type][]*handlerEntry),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "transport")
	return t
}

func dialWebsocket(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// State returns the current lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect starts a connection attempt. It is a no-op while connecting, open
// or after Close.
func (t *Transport) Connect() {
	t.mu.Lock()
	if t.state != StateDisconnected {
		t.mu.Unlock()
		return
	}
	t.state = StateConnecting
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	t.store.Set(state.KeyWSConnected, false)
	go t.run()
}

// run dials, reads until the connection drops, then schedules a reconnect.
func (t *Transport) run() {
	conn, err := t.dial(context.Background(), t.url)
	if err != nil {
		t.logger.Warn("connect failed", "url", t.url, "error", err)
		t.disconnected()
		return
	}

	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.state = StateOpen
	t.backoff.Reset()
	t.mu.Unlock()

	t.logger.Info("connected", "url", t.url)
	t.store.Set(state.KeyWSConnected, true)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.logger.Info("disconnected", "error", err)
			break
		}
		ev, err := wire.Decode(data)
		if err != nil {
			t.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		t.dispatch(ev)
	}

	conn.Close()
	t.disconnected()
}

// disconnected records the drop and schedules the next attempt.
func (t *Transport) disconnected() {
	t.mu.Lock()
	t.conn = nil
	if t.state == StateClosed {
		t.mu.Unlock()
		return
	}
	t.state = StateDisconnected
	delay := t.backoff.Next()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = t.afterFunc(delay, t.Connect)
	t.mu.Unlock()

	t.logger.Info("reconnect scheduled", "delay", delay)
	t.store.Set(state.KeyWSConnected, false)
}

// Send writes ev if the connection is open. Otherwise the event is dropped
// and Send returns false; nothing is queued.
func (t *Transport) Send(ev wire.Event) bool {
	t.mu.Lock()
	conn := t.conn
	open := t.state == StateOpen
	t.mu.Unlock()

	if !open || conn == nil {
		t.logger.Warn("not connected, message dropped", "type", ev.Type)
		return false
	}

	data, err := wire.Encode(ev)
	if err != nil {
		t.logger.Error("failed to encode event", "type", ev.Type, "error", err)
		return false
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.logger.Warn("send failed", "type", ev.Type, "error", err)
		return false
	}
	return true
}

// On registers fn for events of type typ, or for every event when typ is
// wire.TypeWildcard. Handlers run in registration order, type handlers before
// wildcard handlers. The returned function removes the registration.
func (t *Transport) On(typ wire.Type, fn Handler) func() {
	entry := &handlerEntry{fn: fn}

	t.handlersMu.Lock()
	t.handlers[typ] = append(t.handlers[typ], entry)
	t.handlersMu.Unlock()

	return func() {
		t.handlersMu.Lock()
		defer t.handlersMu.Unlock()
		entries := t.handlers[typ]
		for i, e := range entries {
			if e == entry {
				t.handlers[typ] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

func (t *Transport) dispatch(ev wire.Event) {
	t.handlersMu.RLock()
	entries := append([]*handlerEntry(nil), t.handlers[ev.Type]...)
	if ev.Type != wire.TypeWildcard {
		entries = append(entries, t.handlers[wire.TypeWildcard]...)
	}
	t.handlersMu.RUnlock()

	for _, e := range entries {
		t.call(e.fn, ev)
	}
}

// call runs one handler, containing any panic to that handler.
func (t *Transport) call(fn Handler, ev wire.Event) {
	defer func() {
		if p := recover(); p != nil {
			t.logger.Error("event handler panicked", "type", ev.Type, "panic", fmt.Sprint(p))
		}
	}()
	fn(ev)
}

// Close stops reconnecting and closes the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.state = StateClosed
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	t.store.Set(state.KeyWSConnected, false)
	if conn != nil {
		return conn.Close()
	}
	return nil
}
