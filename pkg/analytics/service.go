package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/careerforge/creditd/pkg/observability"
)

// Service runs read-only aggregate queries over the ledger's audit log.
type Service struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewService creates the analytics query service.
func NewService(db *sql.DB, logger *observability.Logger) *Service {
	return &Service{db: db, logger: logger.WithComponent("analytics")}
}

// ActionTotal is the aggregate spend for one action.
type ActionTotal struct {
	Action  string `json:"action"`
	Events  int64  `json:"events"`
	Credits int64  `json:"credits"`
}

// DailyUsage is one day of an account's burn series.
type DailyUsage struct {
	Day     string `json:"day"`
	Events  int64  `json:"events"`
	Credits int64  `json:"credits"`
}

// UsageSummary is the account-level usage report served by the usage
// endpoint.
type UsageSummary struct {
	AccountID    string        `json:"account_id"`
	Since        time.Time     `json:"since"`
	TotalEvents  int64         `json:"total_events"`
	TotalCredits int64         `json:"total_credits"`
	ByAction     []ActionTotal `json:"by_action"`
}

// ActionTotals breaks down an account's spend per action since the given
// time. System events carry zero cost and are excluded.
func (s *Service) ActionTotals(ctx context.Context, accountID string, since time.Time) ([]ActionTotal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action, COUNT(*), COALESCE(SUM(credits_used), 0)
		FROM credit_events
		WHERE account_id = $1 AND created_at >= $2 AND action NOT LIKE 'system.%'
		GROUP BY action
		ORDER BY SUM(credits_used) DESC, action`,
		accountID, since)
	if err != nil {
		return nil, fmt.Errorf("querying action totals for %s: %w", accountID, err)
	}
	defer rows.Close()

	var totals []ActionTotal
	for rows.Next() {
		var t ActionTotal
		if err := rows.Scan(&t.Action, &t.Events, &t.Credits); err != nil {
			return nil, fmt.Errorf("scanning action total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// Summary combines the per-action breakdown with overall totals.
func (s *Service) Summary(ctx context.Context, accountID string, since time.Time) (*UsageSummary, error) {
	totals, err := s.ActionTotals(ctx, accountID, since)
	if err != nil {
		return nil, err
	}
	summary := &UsageSummary{AccountID: accountID, Since: since, ByAction: totals}
	for _, t := range totals {
		summary.TotalEvents += t.Events
		summary.TotalCredits += t.Credits
	}
	return summary, nil
}

// DailySeries returns per-day usage for the trailing window. Days with no
// activity are absent; rendering gaps is the caller's concern.
func (s *Service) DailySeries(ctx context.Context, accountID string, days int) ([]DailyUsage, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx,
		`SELECT DATE(created_at), COUNT(*), COALESCE(SUM(credits_used), 0)
		FROM credit_events
		WHERE account_id = $1 AND created_at >= $2 AND action NOT LIKE 'system.%'
		GROUP BY DATE(created_at)
		ORDER BY DATE(created_at)`,
		accountID, since)
	if err != nil {
		return nil, fmt.Errorf("querying daily usage for %s: %w", accountID, err)
	}
	defer rows.Close()

	var series []DailyUsage
	for rows.Next() {
		var d DailyUsage
		if err := rows.Scan(&d.Day, &d.Events, &d.Credits); err != nil {
			return nil, fmt.Errorf("scanning daily usage: %w", err)
		}
		series = append(series, d)
	}
	return series, rows.Err()
}

// TopActions ranks actions by credits spent across all accounts since the
// given time. Used for the operator dashboard, not exposed per-account.
func (s *Service) TopActions(ctx context.Context, since time.Time, limit int) ([]ActionTotal, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT action, COUNT(*), COALESCE(SUM(credits_used), 0)
		FROM credit_events
		WHERE created_at >= $1 AND action NOT LIKE 'system.%'
		GROUP BY action
		ORDER BY SUM(credits_used) DESC
		LIMIT $2`,
		since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top actions: %w", err)
	}
	defer rows.Close()

	var totals []ActionTotal
	for rows.Next() {
		var t ActionTotal
		if err := rows.Scan(&t.Action, &t.Events, &t.Credits); err != nil {
			return nil, fmt.Errorf("scanning top action: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// LedgerCheck compares a subscription's counter against the sum of its
// audit events for the current period.
type LedgerCheck struct {
	AccountID   string `json:"account_id"`
	CreditsUsed int64  `json:"credits_used"`
	EventSum    int64  `json:"event_sum"`
	Consistent  bool   `json:"consistent"`
}

// VerifyLedger cross-checks the subscription row against its own event
// log. A mismatch means a write slipped past the consume path and the
// account needs reconciliation.
func (s *Service) VerifyLedger(ctx context.Context, accountID string) (*LedgerCheck, error) {
	check := &LedgerCheck{AccountID: accountID}
	err := s.db.QueryRowContext(ctx,
		`SELECT s.credits_used,
			COALESCE((SELECT SUM(e.credits_used)
				FROM credit_events e
				WHERE e.account_id = s.account_id
				  AND e.created_at >= s.period_start
				  AND e.action NOT LIKE 'system.%'), 0)
		FROM credit_subscriptions s
		WHERE s.account_id = $1`,
		accountID).Scan(&check.CreditsUsed, &check.EventSum)
	if err != nil {
		return nil, fmt.Errorf("verifying ledger for %s: %w", accountID, err)
	}
	check.Consistent = check.CreditsUsed == check.EventSum
	if !check.Consistent {
		s.logger.WithFields(map[string]interface{}{
			"account_id":   accountID,
			"credits_used": check.CreditsUsed,
			"event_sum":    check.EventSum,
		}).Warn("ledger counter disagrees with event log")
	}
	return check, nil
}
