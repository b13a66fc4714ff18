package ledger

import (
	"context"
	"time"

	"github.com/careerforge/creditd/pkg/plans"
)

// Status of a credit subscription. Only active subscriptions may consume
// credits; lapsed rows are kept so that usage history and external
// billing references survive a lapse.
type Status string

const (
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	// StatusInactive covers paused or never-completed subscriptions:
	// not delinquent, not canceled, but not entitled to spend either.
	StatusInactive Status = "inactive"
)

// ValidStatus reports whether s is one of the known subscription states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusPastDue, StatusCanceled, StatusInactive:
		return true
	}
	return false
}

// Subscription is one row of credit_subscriptions: the full mutable credit
// state of an account.
type Subscription struct {
	AccountID            string     `json:"account_id"`
	Plan                 plans.Tier `json:"plan"`
	Status               Status     `json:"status"`
	CreditsTotal         int64      `json:"credits_total"`
	CreditsUsed          int64      `json:"credits_used"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	PeriodStart          time.Time  `json:"period_start"`
	PeriodEnd            time.Time  `json:"period_end"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Remaining returns the credits still available in the current period.
func (s *Subscription) Remaining() int64 {
	return s.CreditsTotal - s.CreditsUsed
}

// Balance is the read-model answer to "where does this account stand".
type Balance struct {
	AccountID   string     `json:"account_id"`
	Plan        plans.Tier `json:"plan"`
	Status      Status     `json:"status"`
	Total       int64      `json:"credits_total"`
	Used        int64      `json:"credits_used"`
	Remaining   int64      `json:"credits_remaining"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
}

// SufficiencyCheck is the result of a read-only affordability probe. It
// never reserves credits: a positive answer can be stale by the time the
// caller acts on it, which is why the gate charges through Consume rather
// than trusting the check.
type SufficiencyCheck struct {
	Sufficient bool   `json:"sufficient"`
	Action     string `json:"action"`
	Status     Status `json:"status"`
	Required   int64  `json:"required_credits"`
	Remaining  int64  `json:"current_credits"`
}

// ConsumeResult reports a successful charge.
type ConsumeResult struct {
	Action    string `json:"action"`
	Charged   int64  `json:"charged_credits"`
	Used      int64  `json:"credits_used"`
	Total     int64  `json:"credits_total"`
	Remaining int64  `json:"credits_remaining"`
	EventID   string `json:"event_id"`
}

// UsageEvent is one row of the append-only credit_events audit log.
type UsageEvent struct {
	ID             string            `json:"id"`
	AccountID      string            `json:"account_id"`
	Action         string            `json:"action"`
	CreditsUsed    int64             `json:"credits_used"`
	RemainingAfter int64             `json:"remaining_after"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// System event actions recorded alongside feature consumption so the audit
// log explains every balance transition, not just spends.
const (
	EventRefresh    = "system.refresh"
	EventPlanChange = "system.plan_change"
	EventSync       = "system.sync"
	EventRecovery   = "system.recovery"
)

// ExternalRefs carries the billing-provider identifiers attached to a
// subscription. Empty fields are left untouched on write.
type ExternalRefs struct {
	CustomerID     string
	SubscriptionID string
}

// Service is the credit accounting API. PostgresStore is the canonical
// implementation; CachedService layers balance caching on top of it.
type Service interface {
	// GetBalance returns the account's current standing, lazily
	// provisioning a free-tier subscription for accounts never seen
	// before.
	GetBalance(ctx context.Context, accountID string) (*Balance, error)

	// HasSufficientCredits is a read-only probe: would a consume of this
	// action succeed right now?
	HasSufficientCredits(ctx context.Context, accountID string, action string) (*SufficiencyCheck, error)

	// Consume atomically charges the account for one action and records
	// the usage event. Unknown actions are rejected, never treated as
	// free.
	Consume(ctx context.Context, accountID string, action string, metadata map[string]string) (*ConsumeResult, error)

	// Refresh resets credits_used to zero and starts a new billing
	// period at the plan's allotment.
	Refresh(ctx context.Context, accountID string) (*Subscription, error)

	// ChangePlan moves the account to the given tier with a fresh full
	// allotment. Re-applying the current tier is a no-op refresh of the
	// external references only.
	ChangePlan(ctx context.Context, accountID string, tier plans.Tier, refs *ExternalRefs) (*Subscription, error)

	// Subscription returns the raw subscription row without provisioning.
	Subscription(ctx context.Context, accountID string) (*Subscription, error)

	// EnsureSubscription provisions a free subscription if none exists
	// and returns the row either way.
	EnsureSubscription(ctx context.Context, accountID string) (*Subscription, error)

	// SetStatus transitions the subscription's lifecycle state.
	SetStatus(ctx context.Context, accountID string, status Status) error

	// SetExternalRefs persists billing-provider identifiers discovered
	// out of band (webhooks, reconciliation fallbacks).
	SetExternalRefs(ctx context.Context, accountID string, refs ExternalRefs) error

	// SetEntitlement force-writes plan and totals from the billing
	// authority, clamping credits_used into the new total. Used by
	// reconciliation, never by request handlers.
	SetEntitlement(ctx context.Context, accountID string, tier plans.Tier, total int64, status Status, refs *ExternalRefs) (*Subscription, error)

	// ListEvents returns the newest usage events for the account.
	ListEvents(ctx context.Context, accountID string, limit int) ([]*UsageEvent, error)

	// PeriodUsage sums event credit spend inside the current billing
	// period, for verifying the ledger against its own audit log.
	PeriodUsage(ctx context.Context, accountID string) (int64, error)

	// LinkedAccounts lists accounts carrying a billing customer
	// reference, for the reconciliation sweep.
	LinkedAccounts(ctx context.Context) ([]string, error)
}
