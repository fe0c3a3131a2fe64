package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medivoice/backend/internal/model/conversation"
	"github.com/medivoice/backend/internal/model/profile"
	"github.com/medivoice/backend/internal/service/realtime"
	"github.com/medivoice/backend/pkg/utils"
)

// SessionStore is the conversation surface the handler needs.
type SessionStore interface {
	CreateSession(ctx context.Context, sessionID string)
	AppendTranscript(ctx context.Context, sessionID string, role conversation.Role, content string) (conversation.TranscriptEntry, bool)
	EndSession(ctx context.Context, sessionID string) (conversation.Session, bool)
	GetConversation(ctx context.Context, sessionID string) (conversation.Session, error)
	StoreAnalysis(ctx context.Context, sessionID string, result conversation.AnalysisResult)
	GetAnalysis(ctx context.Context, sessionID string) (conversation.AnalysisResult, error)
}

// Signaler mirrors the signaling relay operations used here.
type Signaler interface {
	CreateSession(ctx context.Context, sessionID string) (realtime.SessionTicket, error)
	RelayOffer(ctx context.Context, sessionID, offerSDP string) (string, error)
	Teardown(sessionID string)
}

// Reporter produces the post-consultation analysis.
type Reporter interface {
	GenerateReport(ctx context.Context, sessionID string, entries []conversation.TranscriptEntry, patient *profile.PatientProfile) (conversation.AnalysisResult, error)
}

// ProfileReader supplies optional patient context for the report.
type ProfileReader interface {
	Enabled() bool
	Get(ctx context.Context, userID string) (profile.PatientProfile, error)
}

// Handler owns the media signaling and consultation lifecycle routes.
type Handler struct {
	store    SessionStore
	signaler Signaler
	manager  *realtime.Manager
	reporter Reporter
	profiles ProfileReader
}

// New creates the stream handler. signaler, manager, reporter and profiles
// may be nil when the corresponding integrations are not configured.
func New(store SessionStore, signaler Signaler, manager *realtime.Manager, reporter Reporter, profiles ProfileReader) *Handler {
	return &Handler{
		store:    store,
		signaler: signaler,
		manager:  manager,
		reporter: reporter,
		profiles: profiles,
	}
}

// RegisterRoutes mounts the stream routes under /stream.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/stream", func(sr chi.Router) {
		sr.Post("/session", h.handleCreateSession)
		sr.Post("/webrtc", h.handleWebRTCOffer)
		sr.Post("/transcript", h.handleTranscript)
		sr.Post("/finish/{sessionID}", h.handleFinish)
		sr.Get("/status/{sessionID}", h.handleStatus)
		sr.Get("/analysis/{sessionID}", h.handleAnalysis)
		sr.Delete("/disconnect/{sessionID}", h.handleDisconnect)
	})
}

type createSessionRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	if h.signaler == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "upstream streaming not configured")
		return
	}

	ticket, err := h.signaler.CreateSession(r.Context(), req.SessionID)
	if err != nil {
		log.Printf("[stream] session creation failed session=%s: %v", req.SessionID, err)
		if errors.Is(err, realtime.ErrUpstreamAuth) {
			utils.RespondError(w, http.StatusBadGateway, "upstream rejected session request")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.store.CreateSession(r.Context(), req.SessionID)
	utils.RespondJSON(w, http.StatusOK, ticket)
}

type webrtcOfferRequest struct {
	SDP       string `json:"sdp"`
	SessionID string `json:"session_id"`
}

func (h *Handler) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	var req webrtcOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || strings.TrimSpace(req.SDP) == "" {
		utils.RespondError(w, http.StatusBadRequest, "session_id and sdp are required")
		return
	}

	if h.signaler == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "upstream streaming not configured")
		return
	}

	answer, err := h.signaler.RelayOffer(r.Context(), req.SessionID, req.SDP)
	if err != nil {
		log.Printf("[stream] offer relay failed session=%s: %v", req.SessionID, err)
		switch {
		case errors.Is(err, realtime.ErrSignalingSessionNotFound):
			utils.RespondError(w, http.StatusNotFound, "no signaling session; call /stream/session first")
		case errors.Is(err, realtime.ErrBadAnswer):
			utils.RespondError(w, http.StatusBadGateway, "upstream returned malformed answer")
		default:
			utils.RespondError(w, http.StatusBadGateway, "offer relay failed")
		}
		return
	}

	// The peer applies the answer verbatim, so it goes back as raw SDP.
	w.Header().Set("Content-Type", "application/sdp")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, answer); err != nil {
		log.Printf("[stream] failed to write answer session=%s: %v", req.SessionID, err)
	}
}

// transcriptEvent is the upstream data-channel event the browser forwards,
// with the local session id attached.
type transcriptEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	SessionID  string `json:"session_id"`
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	var event transcriptEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if event.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	var role conversation.Role
	switch event.Type {
	case "conversation.item.input_audio_transcription.completed":
		role = conversation.RoleUser
	case "response.audio_transcript.done":
		role = conversation.RoleAssistant
	default:
		// Anything else the browser forwards is acknowledged and dropped.
		log.Printf("[stream] ignoring forwarded event type %q session=%s", event.Type, event.SessionID)
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	entry, stored := h.store.AppendTranscript(r.Context(), event.SessionID, role, event.Transcript)
	if !stored {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":        "stored",
		"transcript_id": entry.ID,
	})
}

type finishRequest struct {
	UserID string `json:"user_id,omitempty"`
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req finishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, ok := h.store.EndSession(r.Context(), sessionID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	h.teardownStreaming(sessionID)

	if h.reporter == nil {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"session_id":       sessionID,
			"status":           "finished",
			"duration_seconds": session.DurationSeconds,
			"analysis":         nil,
		})
		return
	}

	result, err := h.reporter.GenerateReport(r.Context(), sessionID, session.Transcripts, h.patientContext(r.Context(), req.UserID))
	if err != nil {
		// The reporter degrades to a fallback payload internally; an error
		// here means even that path failed.
		log.Printf("[stream] analysis failed session=%s: %v", sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	h.store.StoreAnalysis(r.Context(), sessionID, result)
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"session_id":       sessionID,
		"status":           "finished",
		"duration_seconds": session.DurationSeconds,
		"analysis":         result,
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.store.GetConversation(r.Context(), sessionID)
	if err != nil {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "not_connected"})
		return
	}

	status := "ended"
	if session.IsActive {
		status = "connected"
	}

	payload := map[string]any{"status": status}
	if h.manager != nil {
		if state, ok := h.manager.StreamState(sessionID); ok {
			payload["upstream_state"] = state.String()
		}
	}
	utils.RespondJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	result, err := h.store.GetAnalysis(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "analysis not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	h.teardownStreaming(sessionID)

	if _, ok := h.store.EndSession(r.Context(), sessionID); !ok {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "not_found"})
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// teardownStreaming releases the upstream resources tied to a session. Safe
// to call repeatedly; finish and disconnect can race.
func (h *Handler) teardownStreaming(sessionID string) {
	if h.signaler != nil {
		h.signaler.Teardown(sessionID)
	}
	if h.manager != nil {
		h.manager.StopSession(sessionID)
	}
}

func (h *Handler) patientContext(ctx context.Context, userID string) *profile.PatientProfile {
	if userID == "" || h.profiles == nil || !h.profiles.Enabled() {
		return nil
	}
	p, err := h.profiles.Get(ctx, userID)
	if err != nil {
		log.Printf("[stream] patient profile unavailable user=%s: %v", userID, err)
		return nil
	}
	return &p
}
