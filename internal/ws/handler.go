package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/claude-collab/backend/internal/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Connections are unauthenticated; any origin may attach.
		return true
	},
}

// Recorder receives every frame crossing the socket.
type Recorder interface {
	RecordInbound(client string, frame []byte) error
	RecordOutbound(client string, frame []byte) error
}

// Handler upgrades HTTP requests and runs the per-connection pumps.
type Handler struct {
	hub      *Hub
	service  *Service
	recorder Recorder
	logger   *slog.Logger
}

// NewHandler creates a new WebSocket handler. recorder may be nil.
func NewHandler(hub *Hub, service *Service, recorder Recorder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:      hub,
		service:  service,
		recorder: recorder,
		logger:   logger.With("component", "ws"),
	}
}

// HandleConnection upgrades the request, registers the client and greets it
// with a connected event.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn)
	h.hub.Register(client)
	h.logger.Info("client connected", "client", client.ID(), "remote", r.RemoteAddr, "clients", h.hub.ClientCount())

	client.Emit(wire.Connected(time.Now()))

	go h.writePump(client)
	go h.readPump(client)

	return nil
}

// readPump pumps messages from the WebSocket connection to the service.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.hub.Unregister(client)
		client.Conn().Close()
		h.logger.Info("client disconnected", "client", client.ID(), "clients", h.hub.ClientCount())
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", "client", client.ID(), "error", err)
			}
			break
		}

		if h.recorder != nil {
			if err := h.recorder.RecordInbound(client.ID(), message); err != nil {
				h.logger.Warn("failed to record frame", "error", err)
			}
		}

		h.service.HandleMessage(client, message)
	}
}

// writePump pumps queued frames to the WebSocket connection, one frame per message.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			if h.recorder != nil {
				if err := h.recorder.RecordOutbound(client.ID(), message); err != nil {
					h.logger.Warn("failed to record frame", "error", err)
				}
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
