package entitlement

import "time"

// Plan is a subscription tier.
type Plan string

const (
	PlanFree  Plan = "free"
	PlanBasic Plan = "basic"
)

// PlanConfig holds the per-tier credit allotment and file duration limit.
type PlanConfig struct {
	CreditAllotment int     // credits granted when a paid checkout completes
	MaxFileDuration float64 // minutes
}

// planCatalog maps each plan to its limits. The free tier grants no
// allotment here; its signup bonus is applied once at profile creation.
var planCatalog = map[Plan]PlanConfig{
	PlanFree:  {CreditAllotment: 0, MaxFileDuration: 1},
	PlanBasic: {CreditAllotment: 500, MaxFileDuration: 30},
}

// PlanByName resolves a checkout plan name (e.g. "Basic" from Stripe
// metadata) to a plan. Matching is case-insensitive via lowercasing
// at the call site; only exact catalog entries resolve.
func PlanByName(name string) (Plan, bool) {
	p := Plan(name)
	if _, ok := planCatalog[p]; ok {
		return p, true
	}
	return "", false
}

// Limits returns the configuration for a plan. Unknown plans fall back
// to the free tier so a corrupt record can never unlock paid limits.
func (p Plan) Limits() PlanConfig {
	if cfg, ok := planCatalog[p]; ok {
		return cfg
	}
	return planCatalog[PlanFree]
}

// UserEntitlement is the per-user record of plan, credit balance, and
// usage limits. It is mutated only through the store's debit/credit
// operations and the subscription lifecycle handler.
type UserEntitlement struct {
	UserID             string    `json:"user_id"`
	Email              string    `json:"email"`
	Plan               Plan      `json:"plan"`
	CreditBalance      int       `json:"credit_balance"`
	MaxFileDurationMin float64   `json:"max_file_duration_minutes"`
	StripeCustomerID   string    `json:"stripe_customer_id,omitempty"`
	StripeSubscription string    `json:"stripe_subscription_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}
