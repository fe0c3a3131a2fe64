package transcript

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	keepaliveInterval = 30 * time.Second
	readDeadline      = 90 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// outboundMessage is the envelope every frame to the viewer uses.
type outboundMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// handleWebSocket streams the session transcript to a viewer. The full log is
// replayed first, then live entries follow; the snapshot/queue handoff in the
// store guarantees the viewer sees each entry exactly once. Binary frames
// from the viewer carry microphone audio and are forwarded upstream.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[transcript] upgrade failed: %v", err)
		return
	}

	connectionID := sessionID + ":" + uuid.NewString()
	h.conns.Register(connectionID, conn)
	defer h.conns.Unregister(connectionID)

	log.Printf("[transcript] viewer connected session=%s conn=%s", sessionID, connectionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, snapshot := h.store.Subscribe(ctx, sessionID)
	defer h.store.Unsubscribe(ctx, sessionID, sub)

	for _, entry := range snapshot {
		if err := h.conns.SendTo(connectionID, outboundMessage{Type: "transcript", Data: entry}); err != nil {
			return
		}
	}

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	go h.readLoop(ctx, cancel, conn, sessionID)

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case entry, open := <-sub.Events():
			if !open {
				// Session deleted; tell the viewer before closing.
				_ = h.conns.SendTo(connectionID, outboundMessage{Type: "session_closed"})
				return
			}
			if err := h.conns.SendTo(connectionID, outboundMessage{Type: "transcript", Data: entry}); err != nil {
				return
			}

		case <-ticker.C:
			if err := h.conns.SendTo(connectionID, outboundMessage{Type: "ping"}); err != nil {
				return
			}
		}
	}
}

// readLoop consumes viewer frames until the connection dies. Text frames are
// ignored; binary frames are microphone audio for the upstream stream, which
// is started lazily when the first frame arrives.
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sessionID string) {
	defer cancel()

	for {
		if ctx.Err() != nil {
			return
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[transcript] read error session=%s: %v", sessionID, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))

		if msgType != websocket.BinaryMessage {
			continue
		}
		if h.manager == nil {
			log.Printf("[transcript] dropping %d audio bytes, upstream streaming not configured", len(data))
			continue
		}
		if err := h.manager.EnsureSession(ctx, sessionID); err != nil {
			log.Printf("[transcript] upstream stream start failed session=%s: %v", sessionID, err)
			continue
		}
		if err := h.manager.SendAudio(sessionID, data); err != nil {
			log.Printf("[transcript] audio forward failed session=%s: %v", sessionID, err)
		}
	}
}
