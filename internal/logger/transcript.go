// Package logger records the wire traffic of a server run as JSON lines.
//
// The format follows asciinema v2: a header object on the first line, then one
// [offset, direction, frame] array per line, where direction is "i" for frames
// received from clients and "o" for frames sent to them.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TranscriptHeader is the first line of a transcript.
type TranscriptHeader struct {
	Version   int               `json:"version"`
	Timestamp int64             `json:"timestamp"`
	Driver    string            `json:"driver,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Direction of a recorded frame.
const (
	DirectionIn  = "i"
	DirectionOut = "o"
)

// TranscriptEvent is a single recorded frame.
type TranscriptEvent struct {
	TimeOffset float64
	Direction  string
	Client     string
	Frame      string
}

// MarshalJSON encodes the event as [offset, direction, frame, client].
func (e TranscriptEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.TimeOffset, e.Direction, e.Frame, e.Client})
}

// UnmarshalJSON implements custom JSON unmarshaling for TranscriptEvent.
func (e *TranscriptEvent) UnmarshalJSON(data []byte) error {
	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 4 {
		return fmt.Errorf("invalid event format: expected 4 elements, got %d", len(arr))
	}

	timeOffset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time offset type")
	}
	direction, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid direction type")
	}
	frame, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid frame type")
	}
	client, ok := arr[3].(string)
	if !ok {
		return fmt.Errorf("invalid client type")
	}

	e.TimeOffset = timeOffset
	e.Direction = direction
	e.Frame = frame
	e.Client = client
	return nil
}

// Transcript appends recorded frames to a writer.
type Transcript struct {
	writer    io.Writer
	file      *os.File // only set if we own the file
	startTime time.Time
	mu        sync.Mutex
}

// NewTranscript creates a transcript file in dir named after the start time.
func NewTranscript(dir string) (*Transcript, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}

	start := time.Now()
	path := filepath.Join(dir, fmt.Sprintf("session-%s.jsonl", start.Format("20060102-150405")))
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	return &Transcript{
		writer:    file,
		file:      file,
		startTime: start,
	}, nil
}

// NewTranscriptWithWriter creates a Transcript that writes to the given writer.
func NewTranscriptWithWriter(w io.Writer) *Transcript {
	return &Transcript{
		writer:    w,
		startTime: time.Now(),
	}
}

// Path returns the transcript file path, or "" when writing to a plain writer.
func (l *Transcript) Path() string {
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// WriteHeader writes the header line. Call it once before recording frames.
func (l *Transcript) WriteHeader(driver string, env map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := TranscriptHeader{
		Version:   2,
		Timestamp: l.startTime.Unix(),
		Driver:    driver,
		Env:       env,
	}

	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	return nil
}

// RecordInbound records a frame received from client.
func (l *Transcript) RecordInbound(client string, frame []byte) error {
	return l.record(DirectionIn, client, frame)
}

// RecordOutbound records a frame sent to client.
func (l *Transcript) RecordOutbound(client string, frame []byte) error {
	return l.record(DirectionOut, client, frame)
}

func (l *Transcript) record(direction, client string, frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event := TranscriptEvent{
		TimeOffset: time.Since(l.startTime).Seconds(),
		Direction:  direction,
		Client:     client,
		Frame:      string(frame),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// Close closes the transcript file.
func (l *Transcript) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
