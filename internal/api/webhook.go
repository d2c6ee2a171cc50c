package api

import (
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	stripe "github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

// webhookMaxBodyBytes caps webhook payloads. Stripe events are small;
// anything past 1 MiB is not a legitimate delivery.
const webhookMaxBodyBytes = 1 << 20

// EventProcessor applies one verified lifecycle event.
type EventProcessor interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

// WebhookHandler receives payment provider webhooks. Nothing past the
// signature check runs for a request that fails verification.
type WebhookHandler struct {
	processor EventProcessor
	secret    string
	log       zerolog.Logger
}

func NewWebhookHandler(processor EventProcessor, secret string, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		secret:    secret,
		log:       log.With().Str("handler", "webhook").Logger(),
	}
}

// ServeHTTP handles POST /api/v1/webhooks/stripe.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, webhookMaxBodyBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "unreadable payload")
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "missing signature")
		return
	}

	event, err := stripewebhook.ConstructEventWithOptions(payload, sig, h.secret,
		stripewebhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.log.Warn().Err(err).Msg("webhook signature verification failed")
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "invalid signature")
		return
	}

	if err := h.processor.HandleEvent(r.Context(), &event); err != nil {
		h.log.Error().Err(err).
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("event processing failed")
		// Non-2xx makes the provider redeliver; the claim was released.
		WriteError(w, http.StatusInternalServerError, CodeInternal, "event processing failed")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
