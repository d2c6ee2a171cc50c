package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Ajkolaganti/VoiceScriptAi/internal/entitlement"
)

// ErrNotFound is returned when no entitlement record exists for a key.
var ErrNotFound = errors.New("entitlement not found")

const entitlementColumns = `user_id, email, plan, credit_balance, max_file_duration_min,
	stripe_customer_id, stripe_subscription_id, created_at`

func scanEntitlement(row pgx.Row) (*entitlement.UserEntitlement, error) {
	var e entitlement.UserEntitlement
	err := row.Scan(&e.UserID, &e.Email, &e.Plan, &e.CreditBalance, &e.MaxFileDurationMin,
		&e.StripeCustomerID, &e.StripeSubscription, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan entitlement: %w", err)
	}
	return &e, nil
}

// GetEntitlement loads the entitlement record for a user.
func (db *DB) GetEntitlement(ctx context.Context, userID string) (*entitlement.UserEntitlement, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM user_entitlements WHERE user_id = $1`, userID)
	return scanEntitlement(row)
}

// EnsureEntitlement creates the entitlement record on first sight with the
// free plan and the signup bonus, then returns the current record. Safe to
// call on every authentication; the bonus is granted at most once.
func (db *DB) EnsureEntitlement(ctx context.Context, userID, email string, signupCredits int) (*entitlement.UserEntitlement, error) {
	free := entitlement.PlanFree.Limits()
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO user_entitlements (user_id, email, plan, credit_balance, max_file_duration_min)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, email, entitlement.PlanFree, signupCredits, free.MaxFileDuration)
	if err != nil {
		return nil, fmt.Errorf("ensure entitlement: %w", err)
	}
	return db.GetEntitlement(ctx, userID)
}

// Debit subtracts credits from a user's balance as a single atomic
// read-modify-write. The balance is floor-clamped at zero: a debit that
// races past the admission check drains the balance, it never goes
// negative. Returns the new balance.
func (db *DB) Debit(ctx context.Context, userID string, credits int) (int, error) {
	if credits < 0 {
		return 0, fmt.Errorf("debit amount must be >= 0, got %d", credits)
	}
	var balance int
	err := db.Pool.QueryRow(ctx,
		`UPDATE user_entitlements
		 SET credit_balance = GREATEST(0, credit_balance - $2)
		 WHERE user_id = $1
		 RETURNING credit_balance`,
		userID, credits).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("debit: %w", err)
	}
	return balance, nil
}

// Credit adds credits to a user's balance and returns the new balance.
// It is the ledger's additive counterpart to Debit, kept for manual
// reconciliation and promotional grants. The checkout upgrade does not
// call it: ApplyCheckout folds its allotment into the same UPDATE as
// the plan change so both land atomically under webhook redelivery.
func (db *DB) Credit(ctx context.Context, userID string, credits int) (int, error) {
	if credits < 0 {
		return 0, fmt.Errorf("credit amount must be >= 0, got %d", credits)
	}
	var balance int
	err := db.Pool.QueryRow(ctx,
		`UPDATE user_entitlements
		 SET credit_balance = credit_balance + $2
		 WHERE user_id = $1
		 RETURNING credit_balance`,
		userID, credits).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("credit: %w", err)
	}
	return balance, nil
}

// ApplyCheckout upgrades a user to the given plan: the plan's credit
// allotment is added on top of the existing balance (unused free-tier
// credits are preserved), the duration limit is raised, and the Stripe
// billing references are recorded.
func (db *DB) ApplyCheckout(ctx context.Context, userID string, plan entitlement.Plan, customerID, subscriptionID string) error {
	cfg := plan.Limits()
	tag, err := db.Pool.Exec(ctx,
		`UPDATE user_entitlements
		 SET plan = $2,
		     credit_balance = credit_balance + $3,
		     max_file_duration_min = $4,
		     stripe_customer_id = $5,
		     stripe_subscription_id = $6
		 WHERE user_id = $1`,
		userID, plan, cfg.CreditAllotment, cfg.MaxFileDuration, customerID, subscriptionID)
	if err != nil {
		return fmt.Errorf("apply checkout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DowngradeBySubscription reverts the user holding the given Stripe
// subscription to the free tier. The credit balance is left untouched and
// the billing references are retained for audit. Returns false when no
// user holds the subscription (already migrated, or the record predates
// billing integration).
func (db *DB) DowngradeBySubscription(ctx context.Context, subscriptionID string) (bool, error) {
	free := entitlement.PlanFree.Limits()
	tag, err := db.Pool.Exec(ctx,
		`UPDATE user_entitlements
		 SET plan = $2, max_file_duration_min = $3
		 WHERE stripe_subscription_id = $1`,
		subscriptionID, entitlement.PlanFree, free.MaxFileDuration)
	if err != nil {
		return false, fmt.Errorf("downgrade by subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DowngradeUser reverts a specific user to free-tier limits. Used by the
// cancellation route, which knows the user directly. Credits and billing
// references are kept.
func (db *DB) DowngradeUser(ctx context.Context, userID string) error {
	free := entitlement.PlanFree.Limits()
	tag, err := db.Pool.Exec(ctx,
		`UPDATE user_entitlements
		 SET plan = $2, max_file_duration_min = $3
		 WHERE user_id = $1`,
		userID, entitlement.PlanFree, free.MaxFileDuration)
	if err != nil {
		return fmt.Errorf("downgrade user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
