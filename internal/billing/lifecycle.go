package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/Ajkolaganti/VoiceScriptAi/internal/database"
	"github.com/Ajkolaganti/VoiceScriptAi/internal/entitlement"
	"github.com/Ajkolaganti/VoiceScriptAi/internal/metrics"
)

// eventClaimTTL is how long a processed event id stays claimed. Stripe
// retries deliveries for up to three days.
const eventClaimTTL = 72 * time.Hour

// EntitlementStore is the subset of the store the lifecycle handler mutates.
type EntitlementStore interface {
	ApplyCheckout(ctx context.Context, userID string, plan entitlement.Plan, customerID, subscriptionID string) error
	DowngradeBySubscription(ctx context.Context, subscriptionID string) (bool, error)
}

// Deduper tracks processed event ids so redeliveries apply no second
// mutation. A claim is taken before processing and released on failure
// so the provider's retry can run the event again.
type Deduper interface {
	ClaimEvent(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	ReleaseEvent(ctx context.Context, eventID string) error
}

// checkoutSession is a minimal view of a checkout.session.completed payload.
type checkoutSession struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// subscriptionEvent is a minimal view of a customer.subscription.* payload.
type subscriptionEvent struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

// LifecycleHandler applies payment provider lifecycle events to the
// entitlement store, exactly once per logical event.
type LifecycleHandler struct {
	store  EntitlementStore
	dedupe Deduper
	log    zerolog.Logger
}

func NewLifecycleHandler(store EntitlementStore, dedupe Deduper, log zerolog.Logger) *LifecycleHandler {
	return &LifecycleHandler{
		store:  store,
		dedupe: dedupe,
		log:    log.With().Str("component", "lifecycle").Logger(),
	}
}

// HandleEvent processes one verified webhook event. Malformed or
// incomplete events are logged and dropped without error so they are
// never redelivered; only store failures propagate (those are worth a
// retry). Duplicate event ids are acknowledged without mutation.
func (h *LifecycleHandler) HandleEvent(ctx context.Context, event *stripe.Event) error {
	claimed, err := h.dedupe.ClaimEvent(ctx, event.ID, eventClaimTTL)
	if err != nil {
		return fmt.Errorf("claim event %s: %w", event.ID, err)
	}
	if !claimed {
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "duplicate").Inc()
		h.log.Info().
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("duplicate event delivery, already applied")
		return nil
	}

	outcome, err := h.apply(ctx, event)
	if err != nil {
		// Release the claim so Stripe's redelivery can retry.
		if relErr := h.dedupe.ReleaseEvent(ctx, event.ID); relErr != nil {
			h.log.Error().Err(relErr).Str("event_id", event.ID).Msg("failed to release event claim")
		}
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
		return err
	}
	metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), outcome).Inc()
	return nil
}

// decodeObject unpacks the event's embedded object into v. An event
// whose data section is missing entirely is as undecodable as a
// malformed one.
func decodeObject(event *stripe.Event, v any) error {
	if event.Data == nil {
		return errors.New("event carries no data object")
	}
	return json.Unmarshal(event.Data.Raw, v)
}

func (h *LifecycleHandler) apply(ctx context.Context, event *stripe.Event) (string, error) {
	switch event.Type {
	case "checkout.session.completed":
		var session checkoutSession
		if err := decodeObject(event, &session); err != nil {
			h.log.Warn().Err(err).Str("event_id", event.ID).Msg("undecodable checkout session, dropping")
			return "dropped", nil
		}
		return h.applyCheckout(ctx, event.ID, session)

	case "customer.subscription.deleted":
		var sub subscriptionEvent
		if err := decodeObject(event, &sub); err != nil {
			h.log.Warn().Err(err).Str("event_id", event.ID).Msg("undecodable subscription, dropping")
			return "dropped", nil
		}
		return h.applyDeletion(ctx, sub)

	case "customer.subscription.updated":
		// Extension point for proration; no entitlement mutation today.
		h.log.Info().Str("event_id", event.ID).Msg("subscription updated, acknowledged")
		return "acknowledged", nil

	default:
		h.log.Info().
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("unhandled event type, ignored")
		return "ignored", nil
	}
}

func (h *LifecycleHandler) applyCheckout(ctx context.Context, eventID string, session checkoutSession) (string, error) {
	userID := strings.TrimSpace(session.Metadata["userId"])
	planName := strings.TrimSpace(session.Metadata["planName"])
	if userID == "" || planName == "" {
		h.log.Warn().
			Str("event_id", eventID).
			Str("session_id", session.ID).
			Msg("checkout session missing userId/planName metadata, dropping")
		return "dropped", nil
	}

	plan, ok := entitlement.PlanByName(strings.ToLower(planName))
	if !ok {
		h.log.Warn().
			Str("event_id", eventID).
			Str("plan_name", planName).
			Msg("checkout session names unknown plan, dropping")
		return "dropped", nil
	}

	err := h.store.ApplyCheckout(ctx, userID, plan, session.Customer, session.Subscription)
	if errors.Is(err, database.ErrNotFound) {
		h.log.Warn().
			Str("event_id", eventID).
			Str("user_id", userID).
			Msg("checkout for unknown user, dropping")
		return "dropped", nil
	}
	if err != nil {
		return "", fmt.Errorf("apply checkout for %s: %w", userID, err)
	}

	h.log.Info().
		Str("user_id", userID).
		Str("plan", string(plan)).
		Str("subscription_id", session.Subscription).
		Msg("checkout applied, plan upgraded")
	return "applied", nil
}

func (h *LifecycleHandler) applyDeletion(ctx context.Context, sub subscriptionEvent) (string, error) {
	found, err := h.store.DowngradeBySubscription(ctx, sub.ID)
	if err != nil {
		return "", fmt.Errorf("downgrade for subscription %s: %w", sub.ID, err)
	}
	if !found {
		// Already migrated, or the record predates billing integration.
		h.log.Debug().Str("subscription_id", sub.ID).Msg("no user holds this subscription")
		return "dropped", nil
	}

	h.log.Info().Str("subscription_id", sub.ID).Msg("subscription deleted, user reverted to free tier")
	return "applied", nil
}
