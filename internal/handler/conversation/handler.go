package conversation

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medivoice/backend/internal/model/conversation"
	"github.com/medivoice/backend/pkg/utils"
)

// SessionReader is the read-only store surface for these routes.
type SessionReader interface {
	GetConversation(ctx context.Context, sessionID string) (conversation.Session, error)
	GetAnalysis(ctx context.Context, sessionID string) (conversation.AnalysisResult, error)
}

// Handler serves the conversation read API.
type Handler struct {
	store SessionReader
}

// New creates the conversation handler.
func New(store SessionReader) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts the conversation routes under /conversation.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/conversation", func(cr chi.Router) {
		cr.Get("/{sessionID}", h.handleGet)
		cr.Get("/{sessionID}/analysis", h.handleGetAnalysis)
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.store.GetConversation(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	result, err := h.store.GetAnalysis(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "analysis not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}
