package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements is the Postgres DDL for the two ledger tables. Every
// statement is idempotent so InitSchema can run on every boot.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS credit_subscriptions (
		account_id             TEXT PRIMARY KEY,
		plan                   TEXT NOT NULL,
		status                 TEXT NOT NULL DEFAULT 'active',
		credits_total          BIGINT NOT NULL,
		credits_used           BIGINT NOT NULL DEFAULT 0,
		stripe_customer_id     TEXT NOT NULL DEFAULT '',
		stripe_subscription_id TEXT NOT NULL DEFAULT '',
		period_start           TIMESTAMPTZ NOT NULL,
		period_end             TIMESTAMPTZ NOT NULL,
		created_at             TIMESTAMPTZ NOT NULL,
		updated_at             TIMESTAMPTZ NOT NULL,
		CONSTRAINT credits_used_non_negative CHECK (credits_used >= 0),
		CONSTRAINT credits_used_within_total CHECK (credits_used <= credits_total)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_subscriptions_stripe_customer
		ON credit_subscriptions (stripe_customer_id)
		WHERE stripe_customer_id <> ''`,
	`CREATE TABLE IF NOT EXISTS credit_events (
		id              TEXT PRIMARY KEY,
		account_id      TEXT NOT NULL,
		action          TEXT NOT NULL,
		credits_used    BIGINT NOT NULL,
		remaining_after BIGINT NOT NULL,
		metadata        TEXT NOT NULL DEFAULT '{}',
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_events_account_created
		ON credit_events (account_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_events_action
		ON credit_events (action)`,
}

// InitSchema creates the ledger tables and indexes if they do not exist.
func InitSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying ledger schema: %w", err)
		}
	}
	return nil
}
