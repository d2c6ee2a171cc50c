package billing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/Ajkolaganti/VoiceScriptAi/internal/database"
	"github.com/Ajkolaganti/VoiceScriptAi/internal/entitlement"
)

// memEntitlements mirrors the Postgres store's lifecycle semantics:
// additive checkout credits, credit-preserving downgrade.
type memEntitlements struct {
	profiles map[string]*entitlement.UserEntitlement
	err      error
}

func newMemEntitlements(profiles ...*entitlement.UserEntitlement) *memEntitlements {
	m := &memEntitlements{profiles: make(map[string]*entitlement.UserEntitlement)}
	for _, p := range profiles {
		m.profiles[p.UserID] = p
	}
	return m
}

func (m *memEntitlements) ApplyCheckout(_ context.Context, userID string, plan entitlement.Plan, customerID, subscriptionID string) error {
	if m.err != nil {
		return m.err
	}
	p, ok := m.profiles[userID]
	if !ok {
		return database.ErrNotFound
	}
	cfg := plan.Limits()
	p.Plan = plan
	p.CreditBalance += cfg.CreditAllotment
	p.MaxFileDurationMin = cfg.MaxFileDuration
	p.StripeCustomerID = customerID
	p.StripeSubscription = subscriptionID
	return nil
}

func (m *memEntitlements) DowngradeBySubscription(_ context.Context, subscriptionID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	for _, p := range m.profiles {
		if p.StripeSubscription == subscriptionID {
			free := entitlement.PlanFree.Limits()
			p.Plan = entitlement.PlanFree
			p.MaxFileDurationMin = free.MaxFileDuration
			return true, nil
		}
	}
	return false, nil
}

// memDeduper is an in-memory event claim set.
type memDeduper struct {
	claims map[string]bool
	err    error
}

func newMemDeduper() *memDeduper { return &memDeduper{claims: make(map[string]bool)} }

func (m *memDeduper) ClaimEvent(_ context.Context, id string, _ time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.claims[id] {
		return false, nil
	}
	m.claims[id] = true
	return true, nil
}

func (m *memDeduper) ReleaseEvent(_ context.Context, id string) error {
	delete(m.claims, id)
	return nil
}

func event(id, eventType, rawObject string) *stripe.Event {
	return &stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: json.RawMessage(rawObject)},
	}
}

func checkoutEvent(id, userID, planName string) *stripe.Event {
	raw, _ := json.Marshal(map[string]any{
		"id":           "cs_" + id,
		"customer":     "cus_123",
		"subscription": "sub_123",
		"metadata":     map[string]string{"userId": userID, "planName": planName},
	})
	return event(id, "checkout.session.completed", string(raw))
}

func newHandler(store EntitlementStore, dedupe Deduper) *LifecycleHandler {
	return NewLifecycleHandler(store, dedupe, zerolog.Nop())
}

func TestCheckoutCompleted_AdditiveUpgrade(t *testing.T) {
	store := newMemEntitlements(&entitlement.UserEntitlement{
		UserID: "u1", Plan: entitlement.PlanFree, CreditBalance: 3, MaxFileDurationMin: 1,
	})
	h := newHandler(store, newMemDeduper())

	if err := h.HandleEvent(context.Background(), checkoutEvent("evt_1", "u1", "Basic")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	p := store.profiles["u1"]
	if p.Plan != entitlement.PlanBasic {
		t.Errorf("Plan = %v, want basic", p.Plan)
	}
	if p.CreditBalance != 503 {
		t.Errorf("CreditBalance = %d, want 503 (3 + 500 allotment)", p.CreditBalance)
	}
	if p.MaxFileDurationMin != 30 {
		t.Errorf("MaxFileDurationMin = %v, want 30", p.MaxFileDurationMin)
	}
	if p.StripeCustomerID != "cus_123" || p.StripeSubscription != "sub_123" {
		t.Errorf("billing refs = %q/%q", p.StripeCustomerID, p.StripeSubscription)
	}
}

func TestCheckoutCompleted_DuplicateAppliesOnce(t *testing.T) {
	store := newMemEntitlements(&entitlement.UserEntitlement{
		UserID: "u1", Plan: entitlement.PlanFree, CreditBalance: 3, MaxFileDurationMin: 1,
	})
	h := newHandler(store, newMemDeduper())

	ev := checkoutEvent("evt_dup", "u1", "Basic")
	if err := h.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := h.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if got := store.profiles["u1"].CreditBalance; got != 503 {
		t.Errorf("CreditBalance = %d after duplicate delivery, want 503 (credited once)", got)
	}
}

func TestCheckoutCompleted_MissingMetadataDropped(t *testing.T) {
	store := newMemEntitlements(&entitlement.UserEntitlement{
		UserID: "u1", Plan: entitlement.PlanFree, CreditBalance: 3, MaxFileDurationMin: 1,
	})
	h := newHandler(store, newMemDeduper())

	ev := event("evt_nomd", "checkout.session.completed", `{"id":"cs_x","metadata":{}}`)
	if err := h.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v (missing metadata must not be a retryable error)", err)
	}
	if got := store.profiles["u1"].CreditBalance; got != 3 {
		t.Errorf("CreditBalance = %d, want 3 (no mutation)", got)
	}
}

func TestCheckoutCompleted_MissingDataSectionDropped(t *testing.T) {
	store := newMemEntitlements(&entitlement.UserEntitlement{
		UserID: "u1", Plan: entitlement.PlanFree, CreditBalance: 3, MaxFileDurationMin: 1,
	})
	h := newHandler(store, newMemDeduper())

	ev := &stripe.Event{ID: "evt_nodata", Type: "checkout.session.completed"}
	if err := h.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v (an event without a data section must drop, not panic or retry)", err)
	}
	if got := store.profiles["u1"].CreditBalance; got != 3 {
		t.Errorf("CreditBalance = %d, want 3 (no mutation)", got)
	}

	ev = &stripe.Event{ID: "evt_nodata2", Type: "customer.subscription.deleted"}
	if err := h.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
}

func TestCheckoutCompleted_UnknownPlanDropped(t *testing.T) {
	store := newMemEntitlements(&entitlement.UserEntitlement{
		UserID: "u1", Plan: entitlement.PlanFree, CreditBalance: 3, MaxFileDurationMin: 1,
	})
	h := newHandler(store, newMemDeduper())

	if err := h.HandleEvent(context.Background(), checkoutEvent("evt_plan", "u1", "Platinum")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if got := store.profiles["u1"].Plan; got != entitlement.PlanFree {
		t.Errorf("Plan = %v, want free (unknown plan dropped)", got)
	}
}

func TestSubscriptionDeleted_PreservesCredits(t *testing.T) {
	store := newMemEntitlements(&entitlement.UserEntitlement{
		UserID: "u1", Plan: entitlement.PlanBasic, CreditBalance: 120,
		MaxFileDurationMin: 30, StripeSubscription: "sub_abc",
	})
	h := newHandler(store, newMemDeduper())

	ev := event("evt_del", "customer.subscription.deleted", `{"id":"sub_abc","status":"canceled"}`)
	if err := h.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	p := store.profiles["u1"]
	if p.Plan != entitlement.PlanFree {
		t.Errorf("Plan = %v, want free", p.Plan)
	}
	if p.MaxFileDurationMin != 1 {
		t.Errorf("MaxFileDurationMin = %v, want 1", p.MaxFileDurationMin)
	}
	if p.CreditBalance != 120 {
		t.Errorf("CreditBalance = %d, want 120 (preserved)", p.CreditBalance)
	}
	if p.StripeSubscription != "sub_abc" {
		t.Errorf("StripeSubscription = %q, want retained for audit", p.StripeSubscription)
	}
}

func TestSubscriptionDeleted_UnknownSubscriptionSilentDrop(t *testing.T) {
	h := newHandler(newMemEntitlements(), newMemDeduper())
	ev := event("evt_ghost", "customer.subscription.deleted", `{"id":"sub_ghost"}`)
	if err := h.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v (unknown subscription must drop silently)", err)
	}
}

func TestSubscriptionUpdated_NoMutation(t *testing.T) {
	store := newMemEntitlements(&entitlement.UserEntitlement{
		UserID: "u1", Plan: entitlement.PlanBasic, CreditBalance: 50,
		MaxFileDurationMin: 30, StripeSubscription: "sub_abc",
	})
	h := newHandler(store, newMemDeduper())

	ev := event("evt_upd", "customer.subscription.updated", `{"id":"sub_abc","cancel_at_period_end":true}`)
	if err := h.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	p := store.profiles["u1"]
	if p.Plan != entitlement.PlanBasic || p.CreditBalance != 50 {
		t.Errorf("profile mutated by subscription.updated: %+v", p)
	}
}

func TestUnknownEventType_Acknowledged(t *testing.T) {
	h := newHandler(newMemEntitlements(), newMemDeduper())
	ev := event("evt_misc", "invoice.payment_succeeded", `{"id":"in_1"}`)
	if err := h.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v (unknown types must be acknowledged)", err)
	}
}

func TestStoreFailure_ReleasesClaimForRetry(t *testing.T) {
	store := newMemEntitlements(&entitlement.UserEntitlement{
		UserID: "u1", Plan: entitlement.PlanFree, CreditBalance: 3, MaxFileDurationMin: 1,
	})
	store.err = errors.New("store unavailable")
	dedupe := newMemDeduper()
	h := newHandler(store, dedupe)

	ev := checkoutEvent("evt_retry", "u1", "Basic")
	if err := h.HandleEvent(context.Background(), ev); err == nil {
		t.Fatal("HandleEvent: want error when the store is unavailable")
	}
	if dedupe.claims["evt_retry"] {
		t.Error("claim not released after failure; redelivery would be skipped")
	}

	// Store recovers: the redelivered event applies.
	store.err = nil
	if err := h.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("redelivery after recovery: %v", err)
	}
	if got := store.profiles["u1"].CreditBalance; got != 503 {
		t.Errorf("CreditBalance = %d after recovery, want 503", got)
	}
}
