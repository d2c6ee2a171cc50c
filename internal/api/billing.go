package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Ajkolaganti/VoiceScriptAi/internal/billing"
	"github.com/Ajkolaganti/VoiceScriptAi/internal/database"
	"github.com/Ajkolaganti/VoiceScriptAi/internal/entitlement"
)

// CheckoutClient is the payment provider management surface the billing
// endpoints call.
type CheckoutClient interface {
	CreateCheckoutSession(priceID, planName, userID, userEmail string) (string, error)
	CancelAtPeriodEnd(subscriptionID string) error
}

// BillingStore covers the local entitlement mutations the billing
// endpoints make.
type BillingStore interface {
	GetEntitlement(ctx context.Context, userID string) (*entitlement.UserEntitlement, error)
	DowngradeUser(ctx context.Context, userID string) error
}

// BillingHandler serves checkout session creation and cancellation.
type BillingHandler struct {
	store  BillingStore
	client CheckoutClient
	log    zerolog.Logger
}

func NewBillingHandler(store BillingStore, client CheckoutClient, log zerolog.Logger) *BillingHandler {
	return &BillingHandler{
		store:  store,
		client: client,
		log:    log.With().Str("handler", "billing").Logger(),
	}
}

// CreateCheckout handles POST /api/v1/checkout-session. The entitlement
// change itself happens later, when the provider's webhook confirms the
// completed checkout.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PriceID   string `json:"price_id"`
		PlanName  string `json:"plan_name"`
		UserID    string `json:"user_id"`
		UserEmail string `json:"user_email"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	req.PriceID = strings.TrimSpace(req.PriceID)
	req.PlanName = strings.TrimSpace(req.PlanName)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.PriceID == "" || req.PlanName == "" || req.UserID == "" {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "price_id, plan_name, and user_id are required")
		return
	}
	if _, ok := entitlement.PlanByName(strings.ToLower(req.PlanName)); !ok {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "unknown plan: "+req.PlanName)
		return
	}

	email := strings.TrimSpace(req.UserEmail)
	if email == "" {
		// Fall back to the stored profile email when the client sends none.
		if profile, err := h.store.GetEntitlement(r.Context(), req.UserID); err == nil {
			email = profile.Email
		}
	}

	url, err := h.client.CreateCheckoutSession(req.PriceID, req.PlanName, req.UserID, email)
	if errors.Is(err, billing.ErrPriceNotRecurring) {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "price is not configured for recurring billing")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("user_id", req.UserID).Msg("checkout session creation failed")
		WriteError(w, http.StatusBadGateway, CodeProviderUnavailable, "payment provider unavailable")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}

// CancelSubscription handles POST /api/v1/cancel-subscription. The
// provider keeps the subscription active until the period ends, but the
// local profile reverts to free limits right away. Credits and billing
// refs are untouched.
func (h *BillingHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubscriptionID string `json:"subscription_id"`
		UserID         string `json:"user_id"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	req.SubscriptionID = strings.TrimSpace(req.SubscriptionID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.SubscriptionID == "" || req.UserID == "" {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "subscription_id and user_id are required")
		return
	}

	if _, err := h.store.GetEntitlement(r.Context(), req.UserID); errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, CodeNotFound, "no profile for user")
		return
	} else if err != nil {
		h.log.Error().Err(err).Str("user_id", req.UserID).Msg("profile lookup failed")
		WriteError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}

	if err := h.client.CancelAtPeriodEnd(req.SubscriptionID); err != nil {
		h.log.Error().Err(err).
			Str("subscription_id", req.SubscriptionID).
			Msg("subscription cancellation failed")
		WriteError(w, http.StatusBadGateway, CodeProviderUnavailable, "payment provider unavailable")
		return
	}

	if err := h.store.DowngradeUser(r.Context(), req.UserID); err != nil {
		// The provider-side cancellation stands; the deletion webhook
		// will retry the local downgrade when the period lapses.
		h.log.Error().Err(err).Str("user_id", req.UserID).Msg("local downgrade failed")
	}

	h.log.Info().
		Str("user_id", req.UserID).
		Str("subscription_id", req.SubscriptionID).
		Msg("subscription cancellation scheduled")
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
