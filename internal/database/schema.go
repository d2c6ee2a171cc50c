package database

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS user_entitlements (
    user_id                 TEXT PRIMARY KEY,
    email                   TEXT NOT NULL DEFAULT '',
    plan                    TEXT NOT NULL DEFAULT 'free',
    credit_balance          INTEGER NOT NULL DEFAULT 0 CHECK (credit_balance >= 0),
    max_file_duration_min   DOUBLE PRECISION NOT NULL DEFAULT 1,
    stripe_customer_id      TEXT NOT NULL DEFAULT '',
    stripe_subscription_id  TEXT NOT NULL DEFAULT '',
    created_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entitlements_subscription
    ON user_entitlements (stripe_subscription_id)
    WHERE stripe_subscription_id <> '';

CREATE TABLE IF NOT EXISTS transcripts (
    id            BIGSERIAL PRIMARY KEY,
    user_id       TEXT NOT NULL REFERENCES user_entitlements (user_id),
    text          TEXT NOT NULL,
    confidence    REAL,
    duration_sec  DOUBLE PRECISION NOT NULL DEFAULT 0,
    credits_spent INTEGER NOT NULL DEFAULT 0,
    provider      TEXT NOT NULL DEFAULT '',
    model         TEXT NOT NULL DEFAULT '',
    mime_type     TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_user_created
    ON transcripts (user_id, created_at DESC);
`

// Migrate applies the schema. Statements are idempotent, so running on
// an already-initialized database is a no-op.
func (db *DB) Migrate(ctx context.Context) error {
	db.log.Info().Msg("applying schema")
	if _, err := db.Pool.Exec(ctx, schemaSQL); err != nil {
		return err
	}
	db.log.Debug().Msg("schema up to date")
	return nil
}
