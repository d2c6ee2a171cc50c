package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Ajkolaganti/VoiceScriptAi/internal/audio"
	"github.com/Ajkolaganti/VoiceScriptAi/internal/entitlement"
	"github.com/Ajkolaganti/VoiceScriptAi/internal/orchestrator"
)

// Submitter runs one transcription request through admission, the
// provider call, and the debit.
type Submitter interface {
	Submit(ctx context.Context, userID string, audioData []byte, mimeType string, estimatedMinutes float64) (*orchestrator.Outcome, error)
}

// TranscribeHandler accepts multipart audio uploads.
type TranscribeHandler struct {
	orch     Submitter
	maxBytes int64
	log      zerolog.Logger
}

func NewTranscribeHandler(orch Submitter, maxBytes int64, log zerolog.Logger) *TranscribeHandler {
	return &TranscribeHandler{
		orch:     orch,
		maxBytes: maxBytes,
		log:      log.With().Str("handler", "transcribe").Logger(),
	}
}

// ServeHTTP handles POST /api/v1/transcribe.
//
// Expects multipart form fields: "audio" (the file), "user_id", and an
// optional "duration_minutes" client estimate. When the client sends no
// estimate the duration is derived from the file itself.
func (h *TranscribeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		if isBodyTooLarge(err) {
			WriteError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge,
				"audio file exceeds the upload size limit")
			return
		}
		WriteErrorDetail(w, http.StatusBadRequest, CodeBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	userID := strings.TrimSpace(r.FormValue("user_id"))
	if userID == "" {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "user_id is required")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "failed to read audio file")
		return
	}
	if len(data) == 0 {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "audio file is empty")
		return
	}

	mimeType := resolveMimeType(header.Header.Get("Content-Type"), header.Filename)
	if !audio.IsAllowedMimeType(mimeType) {
		WriteErrorDetail(w, http.StatusUnsupportedMediaType, CodeUnsupportedMedia,
			"unsupported audio format", mimeType)
		return
	}

	estimate, err := requestedMinutes(r.FormValue("duration_minutes"), data, mimeType)
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	outcome, err := h.orch.Submit(r.Context(), userID, data, mimeType, estimate)
	switch {
	case errors.Is(err, orchestrator.ErrUnauthenticated):
		WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "no profile for user")
		return
	case errors.Is(err, entitlement.ErrInvalidDuration):
		WriteError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	case errors.Is(err, orchestrator.ErrTranscriptionFailed):
		h.log.Warn().Err(err).Str("user_id", userID).Msg("transcription provider failed")
		WriteError(w, http.StatusBadGateway, CodeProviderUnavailable, "transcription provider unavailable")
		return
	case err != nil:
		h.log.Error().Err(err).Str("user_id", userID).Msg("transcription request failed")
		WriteError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}

	if outcome.Denied {
		WriteJSON(w, http.StatusForbidden, outcome)
		return
	}
	WriteJSON(w, http.StatusOK, outcome)
}

// requestedMinutes prefers the client's estimate when present and
// parseable; a present but malformed value is rejected rather than
// silently replaced.
func requestedMinutes(field string, data []byte, mimeType string) (float64, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return audio.EstimateMinutes(data, mimeType), nil
	}
	minutes, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, errors.New("duration_minutes must be a number")
	}
	return minutes, nil
}

// audioExtTypes covers the formats clients actually upload; the system
// mime table is consulted only for anything else.
var audioExtTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".flac": "audio/flac",
	".webm": "video/webm",
	".mp4":  "video/mp4",
}

// resolveMimeType falls back to the filename extension when the part
// carries no usable content type.
func resolveMimeType(contentType, filename string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != "" {
		if byExt, ok := audioExtTypes[ext]; ok {
			return byExt
		}
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			return byExt
		}
	}
	return contentType
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
