package analytics

import (
	"context"
	"fmt"
)

// ExhaustionAlert flags an active account close to running out of credits
// before its period ends.
type ExhaustionAlert struct {
	AccountID string  `json:"account_id"`
	Plan      string  `json:"plan"`
	Remaining int64   `json:"credits_remaining"`
	UsedRatio float64 `json:"used_ratio"`
}

// CheckExhaustion lists active accounts whose used ratio crosses the
// threshold (0.9 means 90% of the allotment spent). Zero-allotment rows
// are skipped: a free account at 0/0 is not "exhausted".
func (s *Service) CheckExhaustion(ctx context.Context, threshold float64) ([]ExhaustionAlert, error) {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.9
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, plan, credits_total - credits_used,
			CAST(credits_used AS FLOAT) / credits_total
		FROM credit_subscriptions
		WHERE status = 'active'
		  AND credits_total > 0
		  AND CAST(credits_used AS FLOAT) / credits_total >= $1
		ORDER BY CAST(credits_used AS FLOAT) / credits_total DESC`,
		threshold)
	if err != nil {
		return nil, fmt.Errorf("querying exhaustion alerts: %w", err)
	}
	defer rows.Close()

	var alerts []ExhaustionAlert
	for rows.Next() {
		var a ExhaustionAlert
		if err := rows.Scan(&a.AccountID, &a.Plan, &a.Remaining, &a.UsedRatio); err != nil {
			return nil, fmt.Errorf("scanning exhaustion alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// InconsistentAccounts lists accounts whose subscription counter disagrees
// with the event log, for the reconciliation sweep to pick up.
func (s *Service) InconsistentAccounts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.account_id
		FROM credit_subscriptions s
		WHERE s.credits_used <> COALESCE((SELECT SUM(e.credits_used)
			FROM credit_events e
			WHERE e.account_id = s.account_id
			  AND e.created_at >= s.period_start
			  AND e.action NOT LIKE 'system.%'), 0)
		ORDER BY s.account_id`)
	if err != nil {
		return nil, fmt.Errorf("querying inconsistent accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
