package profile

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	profilemodel "github.com/medivoice/backend/internal/model/profile"
	profileservice "github.com/medivoice/backend/internal/service/profile"
	"github.com/medivoice/backend/pkg/utils"
)

// ProfileStore is the external store surface these routes proxy.
type ProfileStore interface {
	Enabled() bool
	Upsert(ctx context.Context, p profilemodel.PatientProfile) error
	Get(ctx context.Context, userID string) (profilemodel.PatientProfile, error)
	Update(ctx context.Context, userID string, update profilemodel.UpdatePatientProfile) error
	Delete(ctx context.Context, userID string) error
	List(ctx context.Context) ([]profileservice.ProfileSummary, error)
}

// Handler proxies patient-profile CRUD to the external store.
type Handler struct {
	store ProfileStore
}

// New creates the profile handler.
func New(store ProfileStore) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts the profile routes under /profile.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/profile", func(pr chi.Router) {
		pr.Post("/create", h.handleCreate)
		pr.Get("/", h.handleList)
		pr.Get("/{userID}", h.handleGet)
		pr.Put("/{userID}", h.handleUpdate)
		pr.Delete("/{userID}", h.handleDelete)
	})
}

type createProfileRequest struct {
	UserID         string                      `json:"user_id"`
	Name           string                      `json:"name"`
	Age            *int                        `json:"age,omitempty"`
	Gender         string                      `json:"gender,omitempty"`
	DateOfBirth    string                      `json:"date_of_birth,omitempty"`
	MedicalHistory profilemodel.MedicalHistory `json:"medical_history"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	var req createProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		utils.RespondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.UserID == "" {
		// Single-tenant deployments omit the id; everything maps to one record.
		req.UserID = "demo-user-12345"
	}

	p := profilemodel.PatientProfile{
		UserID:         req.UserID,
		Name:           req.Name,
		Age:            req.Age,
		Gender:         req.Gender,
		DateOfBirth:    req.DateOfBirth,
		MedicalHistory: req.MedicalHistory,
	}

	if err := h.store.Upsert(r.Context(), p); err != nil {
		log.Printf("[profile] create failed user=%s: %v", req.UserID, err)
		utils.RespondError(w, http.StatusBadGateway, "failed to save profile")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"user_id": req.UserID,
		"status":  "saved",
		"message": "Profile saved successfully",
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	userID := chi.URLParam(r, "userID")

	p, err := h.store.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, profileservice.ErrProfileNotFound) {
			utils.RespondError(w, http.StatusNotFound, "profile not found")
			return
		}
		log.Printf("[profile] get failed user=%s: %v", userID, err)
		utils.RespondError(w, http.StatusBadGateway, "failed to load profile")
		return
	}
	utils.RespondJSON(w, http.StatusOK, p)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	userID := chi.URLParam(r, "userID")

	var update profilemodel.UpdatePatientProfile
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.store.Update(r.Context(), userID, update); err != nil {
		log.Printf("[profile] update failed user=%s: %v", userID, err)
		utils.RespondError(w, http.StatusBadGateway, "failed to update profile")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"user_id": userID,
		"status":  "updated",
		"message": "Profile updated successfully",
	})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	userID := chi.URLParam(r, "userID")

	if err := h.store.Delete(r.Context(), userID); err != nil {
		log.Printf("[profile] delete failed user=%s: %v", userID, err)
		utils.RespondError(w, http.StatusBadGateway, "failed to delete profile")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"user_id": userID,
		"status":  "deleted",
		"message": "Profile deleted successfully",
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	profiles, err := h.store.List(r.Context())
	if err != nil {
		log.Printf("[profile] list failed: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "failed to list profiles")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"profiles": profiles,
		"count":    len(profiles),
	})
}

func (h *Handler) requireStore(w http.ResponseWriter) bool {
	if h.store == nil || !h.store.Enabled() {
		utils.RespondError(w, http.StatusServiceUnavailable, "profile store not configured")
		return false
	}
	return true
}
