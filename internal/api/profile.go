package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Ajkolaganti/VoiceScriptAi/internal/database"
	"github.com/Ajkolaganti/VoiceScriptAi/internal/entitlement"
)

// ProfileStore is the entitlement persistence the profile and history
// endpoints read and seed.
type ProfileStore interface {
	EnsureEntitlement(ctx context.Context, userID, email string, signupCredits int) (*entitlement.UserEntitlement, error)
	GetEntitlement(ctx context.Context, userID string) (*entitlement.UserEntitlement, error)
	ListTranscripts(ctx context.Context, userID string, limit int) ([]database.TranscriptAPI, error)
}

// ProfileHandler serves entitlement profiles and transcript history.
type ProfileHandler struct {
	store         ProfileStore
	signupCredits int
	log           zerolog.Logger
}

func NewProfileHandler(store ProfileStore, signupCredits int, log zerolog.Logger) *ProfileHandler {
	return &ProfileHandler{
		store:         store,
		signupCredits: signupCredits,
		log:           log.With().Str("handler", "profile").Logger(),
	}
}

// Ensure handles POST /api/v1/profile: get-or-create. The first call
// for a user seeds the record with the signup bonus; later calls return
// the existing record untouched, so the endpoint is safe to hit on
// every login.
func (h *ProfileHandler) Ensure(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Email  string `json:"email"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "user_id is required")
		return
	}

	profile, err := h.store.EnsureEntitlement(r.Context(), req.UserID, strings.TrimSpace(req.Email), h.signupCredits)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", req.UserID).Msg("profile ensure failed")
		WriteError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, profile)
}

// Get handles GET /api/v1/profile/{userID}.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	profile, err := h.store.GetEntitlement(r.Context(), userID)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, CodeNotFound, "no profile for user")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("profile lookup failed")
		WriteError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, profile)
}

// Transcripts handles GET /api/v1/transcripts/{userID}. A "limit" query
// parameter caps the page; the store clamps it to a sane range.
func (h *ProfileHandler) Transcripts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit, _ := QueryInt(r, "limit")

	rows, err := h.store.ListTranscripts(r.Context(), userID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("transcript listing failed")
		WriteError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}
	if rows == nil {
		rows = []database.TranscriptAPI{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"transcripts": rows})
}
