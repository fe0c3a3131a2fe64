package transcript

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/medivoice/backend/internal/model/conversation"
	conversationservice "github.com/medivoice/backend/internal/service/conversation"
	"github.com/medivoice/backend/internal/service/realtime"
	"github.com/medivoice/backend/pkg/utils"
)

// SessionStore is the conversation surface the observer routes need.
type SessionStore interface {
	Subscribe(ctx context.Context, sessionID string) (*conversationservice.Subscriber, []conversation.TranscriptEntry)
	Unsubscribe(ctx context.Context, sessionID string, sub *conversationservice.Subscriber)
	Summary(ctx context.Context, sessionID string) (conversation.Summary, error)
	GetConversation(ctx context.Context, sessionID string) (conversation.Session, error)
}

// Handler owns the live transcript delivery routes and the session read API.
type Handler struct {
	store   SessionStore
	conns   *realtime.ConnectionManager
	manager *realtime.Manager
}

// New creates the transcript handler. manager may be nil when server-side
// upstream streaming is not configured; binary audio frames are then dropped.
func New(store SessionStore, conns *realtime.ConnectionManager, manager *realtime.Manager) *Handler {
	return &Handler{
		store:   store,
		conns:   conns,
		manager: manager,
	}
}

// RegisterRoutes mounts the observer routes under /realtime.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/realtime", func(rr chi.Router) {
		rr.Get("/ws/{sessionID}", h.handleWebSocket)
		rr.Get("/sse/{sessionID}", h.handleSSE)
		rr.Get("/session/{sessionID}", h.handleSessionInfo)
		rr.Get("/export/{sessionID}", h.handleExport)
	})
}

func (h *Handler) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	summary, err := h.store.Summary(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, summary)
}

// handleExport returns the full transcript as JSON or plain text.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.store.GetConversation(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	if r.URL.Query().Get("format") != "text" {
		utils.RespondJSON(w, http.StatusOK, session)
		return
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "Consultation %s\n", session.ID)
	fmt.Fprintf(&builder, "Started: %s\n", session.StartTime.Format("2006-01-02 15:04:05 MST"))
	if session.EndTime != nil {
		fmt.Fprintf(&builder, "Ended: %s (%.0fs)\n", session.EndTime.Format("2006-01-02 15:04:05 MST"), session.DurationSeconds)
	}
	builder.WriteString("\n")
	for _, entry := range session.Transcripts {
		speaker := "Patient"
		if entry.Role == conversation.RoleAssistant {
			speaker = "Assistant"
		}
		fmt.Fprintf(&builder, "[%s] %s: %s\n", entry.Timestamp.Format("15:04:05"), speaker, entry.Content)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="transcript-`+sessionID+`.txt"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, builder.String()); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[transcript] export write failed session=%s: %v", sessionID, err)
	}
}
