package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careerforge/creditd/pkg/observability"
	"github.com/careerforge/creditd/pkg/plans"
)

// maxConsumeAttempts bounds the provision-then-retry loop inside Consume.
// Two attempts cover the only legitimate retry (first touch of a brand-new
// account); anything beyond that is a real conflict.
const maxConsumeAttempts = 2

// PostgresStore is the canonical Service implementation on database/sql.
// All writes go through single guarded statements or short transactions,
// never read-modify-write cycles in Go.
type PostgresStore struct {
	db      *sql.DB
	catalog *plans.Catalog
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewPostgresStore creates a ledger store. metrics may be nil in tests.
func NewPostgresStore(db *sql.DB, catalog *plans.Catalog, logger *observability.Logger, metrics *observability.Metrics) *PostgresStore {
	return &PostgresStore{
		db:      db,
		catalog: catalog,
		logger:  logger.WithComponent("ledger"),
		metrics: metrics,
		now:     time.Now,
	}
}

const subscriptionColumns = `account_id, plan, status, credits_total, credits_used,
	stripe_customer_id, stripe_subscription_id, period_start, period_end, created_at, updated_at`

func scanSubscription(row interface{ Scan(...interface{}) error }) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(
		&sub.AccountID, &sub.Plan, &sub.Status, &sub.CreditsTotal, &sub.CreditsUsed,
		&sub.StripeCustomerID, &sub.StripeSubscriptionID,
		&sub.PeriodStart, &sub.PeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Subscription returns the raw row without provisioning.
func (s *PostgresStore) Subscription(ctx context.Context, accountID string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM credit_subscriptions WHERE account_id = $1`,
		accountID)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrNoSubscription)
	}
	if err != nil {
		return nil, fmt.Errorf("loading subscription for %s: %w", accountID, err)
	}
	return sub, nil
}

// EnsureSubscription provisions a free-tier subscription on first contact.
// The INSERT is conflict-safe so concurrent first requests for the same
// account converge on one row.
func (s *PostgresStore) EnsureSubscription(ctx context.Context, accountID string) (*Subscription, error) {
	sub, err := s.Subscription(ctx, accountID)
	if err == nil {
		return sub, nil
	}
	if !IsNoSubscription(err) {
		return nil, err
	}

	free := s.catalog.Plan(plans.TierFree)
	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO credit_subscriptions
			(account_id, plan, status, credits_total, credits_used, period_start, period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $7)
		ON CONFLICT (account_id) DO NOTHING`,
		accountID, plans.TierFree, StatusActive, free.CreditAllotment,
		now, now.AddDate(0, 1, 0), now)
	if err != nil {
		return nil, fmt.Errorf("provisioning subscription for %s: %w", accountID, err)
	}

	s.logger.WithField("account_id", accountID).Info("provisioned free-tier subscription")
	return s.Subscription(ctx, accountID)
}

// GetBalance returns the account's standing, provisioning first if needed.
func (s *PostgresStore) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	sub, err := s.EnsureSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return balanceOf(sub), nil
}

func balanceOf(sub *Subscription) *Balance {
	return &Balance{
		AccountID:   sub.AccountID,
		Plan:        sub.Plan,
		Status:      sub.Status,
		Total:       sub.CreditsTotal,
		Used:        sub.CreditsUsed,
		Remaining:   sub.Remaining(),
		PeriodStart: sub.PeriodStart,
		PeriodEnd:   sub.PeriodEnd,
	}
}

// HasSufficientCredits answers the read-only affordability probe. The
// answer can go stale immediately; only Consume actually reserves.
func (s *PostgresStore) HasSufficientCredits(ctx context.Context, accountID string, action string) (*SufficiencyCheck, error) {
	cost, err := s.catalog.Cost(action)
	if err != nil {
		return nil, err
	}
	sub, err := s.EnsureSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &SufficiencyCheck{
		Sufficient: sub.Status == StatusActive && sub.Remaining() >= int64(cost),
		Action:     action,
		Status:     sub.Status,
		Required:   int64(cost),
		Remaining:  sub.Remaining(),
	}, nil
}

// Consume charges the account for one action. The balance check and the
// charge are one guarded UPDATE so concurrent spends can never jointly
// exceed the allotment. A failed consume leaves the balance untouched.
func (s *PostgresStore) Consume(ctx context.Context, accountID string, action string, metadata map[string]string) (*ConsumeResult, error) {
	start := s.now()
	res, err := s.consume(ctx, accountID, action, metadata)
	if s.metrics != nil {
		s.metrics.ConsumeDuration.WithLabelValues(action).Observe(s.now().Sub(start).Seconds())
		s.metrics.ConsumeTotal.WithLabelValues(action, consumeOutcome(err)).Inc()
		if res != nil {
			s.metrics.CreditsChargedTotal.WithLabelValues(action).Add(float64(res.Charged))
		}
	}
	return res, err
}

func consumeOutcome(err error) string {
	switch {
	case err == nil:
		return "charged"
	case IsInsufficientCredits(err):
		return "insufficient"
	case IsInactiveSubscription(err):
		return "inactive"
	case IsConflict(err):
		return "conflict"
	case plans.IsUnknownAction(err):
		return "unknown_action"
	default:
		return "error"
	}
}

func (s *PostgresStore) consume(ctx context.Context, accountID string, action string, metadata map[string]string) (*ConsumeResult, error) {
	cost, err := s.catalog.Cost(action)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxConsumeAttempts; attempt++ {
		res, err := s.consumeOnce(ctx, accountID, action, int64(cost), metadata)
		if err == nil {
			return res, nil
		}
		if !IsNoSubscription(err) {
			return nil, err
		}
		// First spend of an account nobody has looked at yet: provision
		// and try once more.
		if _, perr := s.EnsureSubscription(ctx, accountID); perr != nil {
			return nil, perr
		}
	}
	return nil, &ConflictError{AccountID: accountID, Op: "consume", Attempts: maxConsumeAttempts}
}

func (s *PostgresStore) consumeOnce(ctx context.Context, accountID string, action string, cost int64, metadata map[string]string) (*ConsumeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting consume transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	row := tx.QueryRowContext(ctx,
		`UPDATE credit_subscriptions
		SET credits_used = credits_used + $1, updated_at = $2
		WHERE account_id = $3
		  AND status = $4
		  AND credits_used + $1 <= credits_total
		RETURNING plan, credits_total, credits_used`,
		cost, now, accountID, StatusActive)

	var plan plans.Tier
	var total, used int64
	if err := row.Scan(&plan, &total, &used); err != nil {
		if err == sql.ErrNoRows {
			tx.Rollback()
			return nil, s.diagnoseRejection(ctx, accountID, action, cost)
		}
		return nil, fmt.Errorf("charging %s for %s: %w", accountID, action, err)
	}

	eventID := uuid.NewString()
	metaJSON, err := encodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_events (id, account_id, action, credits_used, remaining_after, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		eventID, accountID, action, cost, total-used, metaJSON, now)
	if err != nil {
		return nil, fmt.Errorf("recording usage event for %s: %w", accountID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing consume for %s: %w", accountID, err)
	}

	if s.metrics != nil {
		s.metrics.BalanceRemaining.WithLabelValues(string(plan)).Set(float64(total - used))
	}
	s.logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"action":     action,
		"charged":    cost,
		"remaining":  total - used,
	}).Debug("charged credits")

	return &ConsumeResult{
		Action:    action,
		Charged:   cost,
		Used:      used,
		Total:     total,
		Remaining: total - used,
		EventID:   eventID,
	}, nil
}

// diagnoseRejection works out why the guarded update matched nothing. It
// reads after the fact, so it reports the state that most plausibly caused
// the rejection rather than a point-in-time guarantee.
func (s *PostgresStore) diagnoseRejection(ctx context.Context, accountID string, action string, cost int64) error {
	sub, err := s.Subscription(ctx, accountID)
	if err != nil {
		return err // includes ErrNoSubscription, which triggers provisioning upstream
	}
	if sub.Status != StatusActive {
		return &InactiveSubscriptionError{AccountID: accountID, Status: sub.Status}
	}
	return &InsufficientCreditsError{
		AccountID: accountID,
		Action:    action,
		Required:  cost,
		Remaining: sub.Remaining(),
	}
}

// Refresh starts a new billing period: credits_used back to zero,
// credits_total at the current plan's allotment. Only active
// subscriptions roll over; a lapsed account has no period to renew.
func (s *PostgresStore) Refresh(ctx context.Context, accountID string) (*Subscription, error) {
	sub, err := s.Subscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusActive {
		return nil, &InactiveSubscriptionError{AccountID: accountID, Status: sub.Status}
	}
	allotment := s.catalog.Plan(sub.Plan).CreditAllotment
	now := s.now().UTC()

	row := s.db.QueryRowContext(ctx,
		`UPDATE credit_subscriptions
		SET credits_used = 0, credits_total = $1, period_start = $2, period_end = $3, updated_at = $2
		WHERE account_id = $4
		RETURNING `+subscriptionColumns,
		int64(allotment), now, now.AddDate(0, 1, 0), accountID)
	updated, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("refreshing credits for %s: %w", accountID, err)
	}

	if err := s.recordSystemEvent(ctx, accountID, EventRefresh, updated.Remaining(), map[string]string{
		"plan": string(updated.Plan),
	}); err != nil {
		return nil, err
	}
	s.logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"plan":       updated.Plan,
		"credits":    updated.CreditsTotal,
	}).Info("refreshed billing period")
	return updated, nil
}

// ChangePlan moves the account to tier with a fresh full allotment, zero
// usage, and an active status. Re-applying the current tier resets the
// period the same way: a canceled account that re-subscribes to the plan
// it had before must come back active, so the write is unconditional.
// Applying the same change twice lands on the same end state.
func (s *PostgresStore) ChangePlan(ctx context.Context, accountID string, tier plans.Tier, refs *ExternalRefs) (*Subscription, error) {
	if !s.catalog.ValidTier(tier) {
		return nil, fmt.Errorf("unknown plan tier %q", tier)
	}
	sub, err := s.EnsureSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}

	plan := s.catalog.Plan(tier)
	now := s.now().UTC()
	custID, subID := refValues(refs)
	row := s.db.QueryRowContext(ctx,
		`UPDATE credit_subscriptions
		SET plan = $1, status = $2, credits_total = $3, credits_used = 0,
			stripe_customer_id = CASE WHEN $4 = '' THEN stripe_customer_id ELSE $4 END,
			stripe_subscription_id = CASE WHEN $5 = '' THEN stripe_subscription_id ELSE $5 END,
			period_start = $6, period_end = $7, updated_at = $6
		WHERE account_id = $8
		RETURNING `+subscriptionColumns,
		tier, StatusActive, int64(plan.CreditAllotment), custID, subID,
		now, now.AddDate(0, 1, 0), accountID)
	updated, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("changing plan for %s: %w", accountID, err)
	}

	if err := s.recordSystemEvent(ctx, accountID, EventPlanChange, updated.Remaining(), map[string]string{
		"from": string(sub.Plan),
		"to":   string(tier),
	}); err != nil {
		return nil, err
	}
	s.logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"from":       sub.Plan,
		"to":         tier,
	}).Info("changed plan")
	return updated, nil
}

// SetStatus transitions the subscription lifecycle state.
func (s *PostgresStore) SetStatus(ctx context.Context, accountID string, status Status) error {
	if !ValidStatus(status) {
		return fmt.Errorf("unknown subscription status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE credit_subscriptions SET status = $1, updated_at = $2 WHERE account_id = $3`,
		status, s.now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("setting status for %s: %w", accountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrNoSubscription)
	}
	s.logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"status":     status,
	}).Info("subscription status changed")
	return nil
}

// SetExternalRefs persists billing identifiers, leaving empty fields alone.
func (s *PostgresStore) SetExternalRefs(ctx context.Context, accountID string, refs ExternalRefs) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credit_subscriptions
		SET stripe_customer_id = CASE WHEN $1 = '' THEN stripe_customer_id ELSE $1 END,
			stripe_subscription_id = CASE WHEN $2 = '' THEN stripe_subscription_id ELSE $2 END,
			updated_at = $3
		WHERE account_id = $4`,
		refs.CustomerID, refs.SubscriptionID, s.now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("saving billing references for %s: %w", accountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrNoSubscription)
	}
	return nil
}

// SetEntitlement force-writes plan, total and status from the billing
// authority. credits_used is preserved but clamped into the new total so
// the ledger invariant holds after a downgrade.
func (s *PostgresStore) SetEntitlement(ctx context.Context, accountID string, tier plans.Tier, total int64, status Status, refs *ExternalRefs) (*Subscription, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("unknown subscription status %q", status)
	}
	if _, err := s.EnsureSubscription(ctx, accountID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	custID, subID := refValues(refs)
	row := s.db.QueryRowContext(ctx,
		`UPDATE credit_subscriptions
		SET plan = $1, status = $2, credits_total = $3,
			credits_used = LEAST(credits_used, $3),
			stripe_customer_id = CASE WHEN $4 = '' THEN stripe_customer_id ELSE $4 END,
			stripe_subscription_id = CASE WHEN $5 = '' THEN stripe_subscription_id ELSE $5 END,
			updated_at = $6
		WHERE account_id = $7
		RETURNING `+subscriptionColumns,
		tier, status, total, custID, subID, now, accountID)
	updated, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("writing entitlement for %s: %w", accountID, err)
	}

	if err := s.recordSystemEvent(ctx, accountID, EventSync, updated.Remaining(), map[string]string{
		"plan":   string(tier),
		"status": string(status),
	}); err != nil {
		return nil, err
	}
	return updated, nil
}

// ListEvents returns the newest usage events, most recent first.
func (s *PostgresStore) ListEvents(ctx context.Context, accountID string, limit int) ([]*UsageEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, action, credits_used, remaining_after, metadata, created_at
		FROM credit_events
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing usage events for %s: %w", accountID, err)
	}
	defer rows.Close()

	var events []*UsageEvent
	for rows.Next() {
		var ev UsageEvent
		var metaJSON string
		if err := rows.Scan(&ev.ID, &ev.AccountID, &ev.Action, &ev.CreditsUsed, &ev.RemainingAfter, &metaJSON, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning usage event: %w", err)
		}
		if metaJSON != "" && metaJSON != "{}" {
			if err := json.Unmarshal([]byte(metaJSON), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decoding event metadata: %w", err)
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// PeriodUsage sums event spend within the current billing period. The sum
// must equal credits_used on the subscription row; reconciliation uses the
// comparison as a self-consistency check.
func (s *PostgresStore) PeriodUsage(ctx context.Context, accountID string) (int64, error) {
	sub, err := s.Subscription(ctx, accountID)
	if err != nil {
		return 0, err
	}
	var total int64
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(credits_used), 0)
		FROM credit_events
		WHERE account_id = $1 AND created_at >= $2 AND action NOT LIKE 'system.%'`,
		accountID, sub.PeriodStart).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing period usage for %s: %w", accountID, err)
	}
	return total, nil
}

// LinkedAccounts lists accounts with a billing customer reference.
func (s *PostgresStore) LinkedAccounts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id FROM credit_subscriptions WHERE stripe_customer_id <> '' ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("listing linked accounts: %w", err)
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

func (s *PostgresStore) recordSystemEvent(ctx context.Context, accountID, action string, remaining int64, metadata map[string]string) error {
	metaJSON, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO credit_events (id, account_id, action, credits_used, remaining_after, metadata, created_at)
		VALUES ($1, $2, $3, 0, $4, $5, $6)`,
		uuid.NewString(), accountID, action, remaining, metaJSON, s.now().UTC())
	if err != nil {
		return fmt.Errorf("recording %s event for %s: %w", action, accountID, err)
	}
	return nil
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encoding event metadata: %w", err)
	}
	return string(b), nil
}

func refValues(refs *ExternalRefs) (string, string) {
	if refs == nil {
		return "", ""
	}
	return refs.CustomerID, refs.SubscriptionID
}
