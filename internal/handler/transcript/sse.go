package transcript

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medivoice/backend/pkg/utils"
)

// handleSSE is the same observer surface as the websocket route for clients
// that cannot upgrade. Replay first, then live entries; keepalive comments
// hold intermediaries open.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionID is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)

	ctx := r.Context()
	sub, snapshot := h.store.Subscribe(ctx, sessionID)
	defer h.store.Unsubscribe(ctx, sessionID, sub)

	log.Printf("[transcript] sse viewer connected session=%s", sessionID)

	for _, entry := range snapshot {
		utils.SendSSEEvent(w, flusher, "transcript", entry)
	}

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[transcript] sse viewer disconnected session=%s", sessionID)
			return

		case entry, open := <-sub.Events():
			if !open {
				utils.SendSSEEvent(w, flusher, "session_closed", map[string]string{"session_id": sessionID})
				return
			}
			utils.SendSSEEvent(w, flusher, "transcript", entry)

		case <-ticker.C:
			utils.SendSSEEvent(w, flusher, "ping", map[string]int64{"time": time.Now().Unix()})
		}
	}
}
