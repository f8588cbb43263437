package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude-collab/backend/internal/files"
	"github.com/claude-collab/backend/internal/model"
	"github.com/claude-collab/backend/internal/session"
	"github.com/claude-collab/backend/internal/settings"
	"github.com/claude-collab/backend/internal/tasks"
	"github.com/claude-collab/backend/internal/wire"
	"github.com/claude-collab/backend/internal/ws"
)

type fixture struct {
	router   *gin.Engine
	registry *tasks.Registry
	sessions *session.Manager
	root     string
	envPath  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	tree, err := files.NewTree(root)
	require.NoError(t, err)

	sessions := session.NewManager(nil, session.Config{})
	t.Cleanup(func() { sessions.Close() })
	registry := tasks.NewRegistry(tasks.NewMemoryStore())
	hub := ws.NewHub()
	t.Cleanup(hub.Close)
	service := ws.NewService(hub, sessions, registry, nil)
	envPath := filepath.Join(t.TempDir(), ".env")

	r := gin.New()
	NewWebSocketHandler(ws.NewHandler(hub, service, nil, nil)).RegisterRoutes(r)
	agent := NewAgentHandler(sessions)
	r.GET("/health", agent.Health)

	api := r.Group("/api")
	agent.RegisterRoutes(api)
	NewTaskHandler(registry, service).RegisterRoutes(api)
	NewFileHandler(tree, files.NewSynopsizer(tree, func() string { return "" })).RegisterRoutes(api)
	NewSettingsHandler(settings.NewStore(envPath)).RegisterRoutes(api)
	NewLiveKitHandler(func() LiveKitCredentials {
		return LiveKitCredentials{
			APIKey:    os.Getenv("LIVEKIT_API_KEY"),
			APISecret: os.Getenv("LIVEKIT_API_SECRET"),
			WSURL:     "wss://example.livekit.cloud",
		}
	}).RegisterRoutes(api)

	return &fixture{router: r, registry: registry, sessions: sessions, root: root, envPath: envPath}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[ErrorResponse](t, w).Error.Code
}

// TestHealth tests the health payload.
func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["busy"])
}

// TestAgentRoutes tests the send and interrupt acknowledgements.
func TestAgentRoutes(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		path string
		body any
		code int
	}{
		{"send", "/api/agent/send", map[string]string{"message": "hi"}, http.StatusOK},
		{"send without message", "/api/agent/send", map[string]string{}, http.StatusBadRequest},
		{"send blank message", "/api/agent/send", map[string]string{"message": "  "}, http.StatusBadRequest},
		{"send bad json", "/api/agent/send", "{", http.StatusBadRequest},
		{"interrupt", "/api/agent/interrupt", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
			if tt.code == http.StatusOK {
				assert.Equal(t, true, decodeBody[map[string]any](t, w)["ok"])
			}
		})
	}
}

// TestTaskRoutes tests listing, lookup and status validation.
func TestTaskRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.registry.Submit(ctx, "first")
	require.NoError(t, err)
	_, err = f.registry.Submit(ctx, "second")
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[[]model.Task](t, w)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].Prompt)
	assert.Equal(t, "second", list[1].Prompt)

	w = f.do(t, http.MethodGet, "/api/tasks/"+first.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first.ID, decodeBody[model.Task](t, w).ID)

	w = f.do(t, http.MethodGet, "/api/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "TASK_NOT_FOUND", errorCode(t, w))

	w = f.do(t, http.MethodPatch, "/api/tasks/"+first.ID, map[string]string{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPatch, "/api/tasks/"+first.ID, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestTaskPatchBroadcasts tests that a PATCH updates the store and reaches connected clients.
func TestTaskPatchBroadcasts(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(f.router)
	defer server.Close()

	task, err := f.registry.Submit(context.Background(), "ship it")
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	readEvent := func() wire.Event {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		ev, err := wire.Decode(data)
		require.NoError(t, err)
		return ev
	}
	assert.Equal(t, wire.TypeConnected, readEvent().Type)

	w := f.do(t, http.MethodPatch, "/api/tasks/"+task.ID, map[string]string{"status": "approved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decodeBody[model.Task](t, w)
	assert.Equal(t, model.TaskStatusApproved, updated.Status)
	assert.Equal(t, "ship it", updated.Prompt)

	ev := readEvent()
	require.Equal(t, wire.TypeTaskUpdate, ev.Type)
	require.NotNil(t, ev.Task)
	assert.Equal(t, task.ID, ev.Task.ID)
	require.NotNil(t, ev.Task.Status)
	assert.Equal(t, model.TaskStatusApproved, *ev.Task.Status)
	assert.Nil(t, ev.Task.Prompt)
}

// TestFileRoutes tests listing, content reads and error mapping.
func TestFileRoutes(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "src"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "README.md"), []byte("# hello"), 0644))

	w := f.do(t, http.MethodGet, "/api/files", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decodeBody[[]files.Entry](t, w)
	require.Len(t, entries, 2)
	assert.Equal(t, "src", entries[0].Name)
	assert.Equal(t, files.EntryDirectory, entries[0].Type)

	w = f.do(t, http.MethodGet, "/api/files/content?path=README.md", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ContentResponse{Path: "README.md", Content: "# hello"}, decodeBody[ContentResponse](t, w))

	tests := []struct {
		name string
		path string
		code int
		want string
	}{
		{"content without path", "/api/files/content", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"content of directory", "/api/files/content?path=src", http.StatusBadRequest, "IS_DIRECTORY"},
		{"content traversal", "/api/files/content?path=../x", http.StatusBadRequest, "PATH_TRAVERSAL"},
		{"list traversal", "/api/files?path=..", http.StatusBadRequest, "PATH_TRAVERSAL"},
		{"missing file", "/api/files/content?path=nope.txt", http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.want, errorCode(t, w))
		})
	}
}

// TestSynopsisWithoutKey tests the unconfigured and invalid request cases.
func TestSynopsisWithoutKey(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "a.go"), []byte("package a"), 0644))

	w := f.do(t, http.MethodPost, "/api/files/synopsis", map[string]string{"path": "a.go"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "NOT_CONFIGURED", errorCode(t, w))

	w = f.do(t, http.MethodPost, "/api/files/synopsis", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestSettingsRoutes tests masking on read and filtering on write.
func TestSettingsRoutes(t *testing.T) {
	for _, field := range settings.Schema {
		t.Setenv(field.Key, "")
	}
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/settings", map[string]any{
		"ANTHROPIC_API_KEY": "sk-ant-abcdef1234",
		"PORT":              "4000",
		"SHELL":             "/bin/evil",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["restartNeeded"])
	assert.Equal(t, "sk-ant-abcdef1234", os.Getenv("ANTHROPIC_API_KEY"))

	w = f.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[struct {
		Settings []settings.Setting `json:"settings"`
	}](t, w).Settings
	require.Len(t, list, len(settings.Schema))
	assert.Equal(t, "ANTHROPIC_API_KEY", list[0].Key)
	assert.Equal(t, "****1234", list[0].Value)

	data, err := os.ReadFile(f.envPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "SHELL")

	w = f.do(t, http.MethodPost, "/api/settings", "[1,2]")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestLiveKitToken tests token issuance and its validation errors.
func TestLiveKitToken(t *testing.T) {
	t.Setenv("LIVEKIT_API_KEY", "")
	t.Setenv("LIVEKIT_API_SECRET", "")
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/livekit/token", map[string]string{"room": "pair"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/livekit/token", map[string]string{"room": "pair", "identity": "ada"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "NOT_CONFIGURED", errorCode(t, w))

	t.Setenv("LIVEKIT_API_KEY", "APIkey")
	t.Setenv("LIVEKIT_API_SECRET", "a-secret-that-is-long-enough-for-hmac")

	w = f.do(t, http.MethodPost, "/api/livekit/token", map[string]string{"room": "pair", "identity": "ada"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody[map[string]string](t, w)
	assert.Equal(t, "wss://example.livekit.cloud", body["wsUrl"])

	verifier, err := auth.ParseAPIToken(body["token"])
	require.NoError(t, err)
	assert.Equal(t, "APIkey", verifier.APIKey())
	grants, err := verifier.Verify("a-secret-that-is-long-enough-for-hmac")
	require.NoError(t, err)
	assert.Equal(t, "ada", grants.Identity)
	require.NotNil(t, grants.Video)
	assert.Equal(t, "pair", grants.Video.Room)
	assert.True(t, grants.Video.RoomJoin)
}
