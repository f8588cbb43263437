// Package settings exposes a fixed set of environment settings backed by a
// .env file.
package settings

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"
)

// FieldType controls how a value is displayed.
type FieldType string

const (
	FieldText   FieldType = "text"
	FieldSecret FieldType = "secret"
)

// Field describes one editable setting.
type Field struct {
	Key     string    `json:"key"`
	Label   string    `json:"label"`
	Type    FieldType `json:"type"`
	Restart bool      `json:"restart"`
}

// Setting is a field with its current display value.
type Setting struct {
	Field
	Value string `json:"value"`
}

// Schema lists the settings that may be read and written.
var Schema = []Field{
	{Key: "ANTHROPIC_API_KEY", Label: "Anthropic API Key", Type: FieldSecret},
	{Key: "CLAUDE_MODEL", Label: "Claude Model", Type: FieldText},
	{Key: "LIVEKIT_API_KEY", Label: "LiveKit API Key", Type: FieldSecret},
	{Key: "LIVEKIT_API_SECRET", Label: "LiveKit API Secret", Type: FieldSecret},
	{Key: "LIVEKIT_WS_URL", Label: "LiveKit WebSocket URL", Type: FieldText},
	{Key: "PORT", Label: "Server Port", Type: FieldText, Restart: true},
}

func lookupField(key string) (Field, bool) {
	for _, f := range Schema {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Mask hides all but the last four characters of a secret.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) < 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}

// Store reads and writes settings in a .env file and mirrors writes into
// the process environment.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a Store for the .env file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the .env file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) read() (map[string]string, error) {
	values, err := godotenv.Read(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	return values, nil
}

// List returns every schema field with its value from the file, falling
// back to the process environment. Secrets are masked.
func (s *Store) List() ([]Setting, error) {
	s.mu.Lock()
	values, err := s.read()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]Setting, 0, len(Schema))
	for _, f := range Schema {
		v, ok := values[f.Key]
		if !ok || (f.Type == FieldSecret && v == "") {
			v = os.Getenv(f.Key)
		}
		if f.Type == FieldSecret {
			v = Mask(v)
		}
		out = append(out, Setting{Field: f, Value: v})
	}
	return out, nil
}

// Update writes the string values of known keys to the file and the process
// environment. Unknown keys and non-string values are skipped. It reports
// whether any written key needs a restart to take effect.
func (s *Store) Update(updates map[string]any) (restartNeeded bool, err error) {
	filtered := make(map[string]string)
	for key, raw := range updates {
		f, ok := lookupField(key)
		if !ok {
			continue
		}
		value, ok := raw.(string)
		if !ok {
			continue
		}
		filtered[key] = value
		if f.Restart {
			restartNeeded = true
		}
	}
	if len(filtered) == 0 {
		return restartNeeded, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return false, err
	}
	for k, v := range filtered {
		values[k] = v
	}
	if err := godotenv.Write(values, s.path); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	for k, v := range filtered {
		if err := os.Setenv(k, v); err != nil {
			return false, fmt.Errorf("failed to set %s: %w", k, err)
		}
	}
	return restartNeeded, nil
}
