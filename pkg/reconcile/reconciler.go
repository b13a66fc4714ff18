package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/careerforge/creditd/pkg/billingsource"
	"github.com/careerforge/creditd/pkg/ledger"
	"github.com/careerforge/creditd/pkg/observability"
	"github.com/careerforge/creditd/pkg/plans"
)

// Issue kinds reported by ValidateConsistency.
const (
	IssueMissingBillingLink = "missing_billing_link"
	IssuePlanMismatch       = "plan_mismatch"
	IssueStatusMismatch     = "status_mismatch"
	IssueUsageMismatch      = "usage_event_mismatch"
	IssueNoEntitlement      = "no_entitlement"
	IssueBillingUnavailable = "billing_source_unavailable"
)

// Issue is one detected divergence between ledger and billing source.
type Issue struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Report is the outcome of a consistency check.
type Report struct {
	AccountID  string    `json:"account_id"`
	CheckedAt  time.Time `json:"checked_at"`
	Consistent bool      `json:"consistent"`
	Issues     []Issue   `json:"issues,omitempty"`
}

// Snapshot captures the ledger state around a sync for the audit trail.
type Snapshot struct {
	Plan         plans.Tier    `json:"plan"`
	Status       ledger.Status `json:"status"`
	CreditsTotal int64         `json:"credits_total"`
	CreditsUsed  int64         `json:"credits_used"`
}

// SyncResult reports what a sync did.
type SyncResult struct {
	AccountID string    `json:"account_id"`
	Updated   bool      `json:"updated"`
	Before    *Snapshot `json:"before,omitempty"`
	After     *Snapshot `json:"after,omitempty"`
	SyncedAt  time.Time `json:"synced_at"`
}

// Recovery sources, in fallback order.
const (
	SourceBilling = "billing_source"
	SourceLedger  = "ledger"
	SourceDefault = "default_free"
)

// RecoveryResult reports which authority emergency recovery settled on.
type RecoveryResult struct {
	AccountID string    `json:"account_id"`
	Source    string    `json:"source"`
	After     *Snapshot `json:"after"`
}

// Ledger is the slice of the credit ledger reconciliation needs.
type Ledger interface {
	Subscription(ctx context.Context, accountID string) (*ledger.Subscription, error)
	EnsureSubscription(ctx context.Context, accountID string) (*ledger.Subscription, error)
	SetEntitlement(ctx context.Context, accountID string, tier plans.Tier, total int64, status ledger.Status, refs *ledger.ExternalRefs) (*ledger.Subscription, error)
	PeriodUsage(ctx context.Context, accountID string) (int64, error)
	LinkedAccounts(ctx context.Context) ([]string, error)
}

// EmailDirectory resolves an account to its email for the entitlement
// fallback lookup.
type EmailDirectory interface {
	EmailByAccount(ctx context.Context, accountID string) (string, error)
}

// Reconciler compares and repairs ledger state against the billing
// source.
type Reconciler struct {
	ledger  Ledger
	billing billingsource.Client
	emails  EmailDirectory
	catalog *plans.Catalog
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// New creates a reconciler. metrics may be nil in tests.
func New(lg Ledger, billing billingsource.Client, emails EmailDirectory, catalog *plans.Catalog, logger *observability.Logger, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{
		ledger:  lg,
		billing: billing,
		emails:  emails,
		catalog: catalog,
		logger:  logger.WithComponent("reconcile"),
		metrics: metrics,
		now:     time.Now,
	}
}

// entitlement resolves the billing source's view of the account, falling
// back from customer reference to email lookup.
func (r *Reconciler) entitlement(ctx context.Context, sub *ledger.Subscription) (*billingsource.Entitlement, error) {
	if sub.StripeCustomerID != "" {
		ent, err := r.billing.EntitlementByCustomer(ctx, sub.StripeCustomerID)
		if err == nil || !billingsource.IsNoEntitlement(err) {
			return ent, err
		}
	}
	email, err := r.emails.EmailByAccount(ctx, sub.AccountID)
	if err != nil {
		return nil, billingsource.ErrNoEntitlement
	}
	return r.billing.EntitlementByEmail(ctx, email)
}

// ValidateConsistency compares the account's ledger row against the
// billing source and the ledger's own event log. Read-only.
func (r *Reconciler) ValidateConsistency(ctx context.Context, accountID string) (*Report, error) {
	sub, err := r.ledger.Subscription(ctx, accountID)
	if err != nil {
		return nil, err
	}

	report := &Report{AccountID: accountID, CheckedAt: r.now().UTC()}
	add := func(kind, detail string) {
		report.Issues = append(report.Issues, Issue{Kind: kind, Detail: detail})
		if r.metrics != nil {
			r.metrics.DivergenceDetected.WithLabelValues(kind).Inc()
		}
	}

	// Internal check first: does the audit log add up to the counter?
	eventSum, err := r.ledger.PeriodUsage(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if eventSum != sub.CreditsUsed {
		add(IssueUsageMismatch, fmt.Sprintf("counter %d, event sum %d", sub.CreditsUsed, eventSum))
	}

	ent, err := r.entitlement(ctx, sub)
	switch {
	case billingsource.IsNoEntitlement(err):
		if sub.Plan != plans.TierFree {
			add(IssueNoEntitlement, fmt.Sprintf("ledger has %s but billing source has no subscription", sub.Plan))
		}
	case billingsource.IsUnavailable(err):
		add(IssueBillingUnavailable, err.Error())
	case err != nil:
		return nil, err
	default:
		if sub.StripeCustomerID == "" {
			add(IssueMissingBillingLink, "billing customer found by email, ledger has no reference")
		}
		if ent.Plan != sub.Plan {
			add(IssuePlanMismatch, fmt.Sprintf("ledger %s, billing source %s", sub.Plan, ent.Plan))
		}
		wantStatus := statusFromEntitlement(ent)
		if wantStatus != sub.Status {
			add(IssueStatusMismatch, fmt.Sprintf("ledger %s, billing source %s", sub.Status, wantStatus))
		}
	}

	report.Consistent = len(report.Issues) == 0
	return report, nil
}

// Sync applies the billing source's entitlement to the ledger. Usage is
// preserved (clamped into the new total); only plan, total, status and
// billing references are written. With force false, an account already in
// sync is left untouched.
func (r *Reconciler) Sync(ctx context.Context, accountID string, force bool) (*SyncResult, error) {
	sub, err := r.ledger.EnsureSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	result := &SyncResult{
		AccountID: accountID,
		Before:    snapshotOf(sub),
		SyncedAt:  r.now().UTC(),
	}

	ent, err := r.entitlement(ctx, sub)
	if billingsource.IsNoEntitlement(err) {
		// Never paid or fully lapsed: the free tier is the truth.
		if sub.Plan == plans.TierFree && !force {
			result.After = result.Before
			r.count("in_sync")
			return result, nil
		}
		free := r.catalog.Plan(plans.TierFree)
		updated, err := r.ledger.SetEntitlement(ctx, accountID, plans.TierFree, int64(free.CreditAllotment), ledger.StatusActive, nil)
		if err != nil {
			r.count("failed")
			return nil, err
		}
		result.Updated = true
		result.After = snapshotOf(updated)
		r.count("updated")
		return result, nil
	}
	if err != nil {
		r.count("failed")
		return nil, err
	}

	tier := ent.Plan
	if tier == plans.TierUnknown {
		r.count("failed")
		return nil, fmt.Errorf("billing source price %q maps to no known plan", ent.PriceID)
	}
	wantStatus := statusFromEntitlement(ent)
	inSync := sub.Plan == tier && sub.Status == wantStatus && sub.StripeCustomerID == ent.CustomerID
	if inSync && !force {
		result.After = result.Before
		r.count("in_sync")
		return result, nil
	}

	allotment := r.catalog.Plan(tier).CreditAllotment
	updated, err := r.ledger.SetEntitlement(ctx, accountID, tier, int64(allotment), wantStatus, &ledger.ExternalRefs{
		CustomerID:     ent.CustomerID,
		SubscriptionID: ent.SubscriptionID,
	})
	if err != nil {
		r.count("failed")
		return nil, err
	}

	result.Updated = true
	result.After = snapshotOf(updated)
	r.count("updated")
	r.logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"plan":       tier,
		"status":     wantStatus,
	}).Info("synced account from billing source")
	return result, nil
}

// EmergencyRecovery rebuilds an account's credit state when normal reads
// fail. Billing source first; if it is unreachable, the ledger's own row
// and event log; if there is nothing to recover from, the free tier.
func (r *Reconciler) EmergencyRecovery(ctx context.Context, accountID string) (*RecoveryResult, error) {
	// Preferred: resync from the entitlement authority.
	if _, err := r.ledger.EnsureSubscription(ctx, accountID); err == nil {
		syncRes, err := r.Sync(ctx, accountID, true)
		if err == nil {
			r.recovered(SourceBilling)
			return &RecoveryResult{AccountID: accountID, Source: SourceBilling, After: syncRes.After}, nil
		}
		if !billingsource.IsUnavailable(err) {
			r.logger.WithError(err).WithField("account_id", accountID).Warn("recovery sync failed, falling back to ledger")
		}
	}

	// Fallback: trust the local ledger, repairing the counter from the
	// event log if the row violates its own invariant.
	sub, err := r.ledger.Subscription(ctx, accountID)
	if err == nil {
		if sub.CreditsUsed >= 0 && sub.CreditsUsed <= sub.CreditsTotal {
			r.recovered(SourceLedger)
			return &RecoveryResult{AccountID: accountID, Source: SourceLedger, After: snapshotOf(sub)}, nil
		}
		eventSum, serr := r.ledger.PeriodUsage(ctx, accountID)
		if serr == nil {
			repaired, rerr := r.ledger.SetEntitlement(ctx, accountID, sub.Plan, sub.CreditsTotal, sub.Status, nil)
			if rerr == nil {
				r.logger.WithFields(map[string]interface{}{
					"account_id": accountID,
					"event_sum":  eventSum,
				}).Warn("repaired ledger row from event log")
				r.recovered(SourceLedger)
				return &RecoveryResult{AccountID: accountID, Source: SourceLedger, After: snapshotOf(repaired)}, nil
			}
		}
	}

	// Floor: a fresh free-tier subscription. The account stays usable
	// and the next successful sync restores the paid entitlement.
	free := r.catalog.Plan(plans.TierFree)
	sub, err = r.ledger.SetEntitlement(ctx, accountID, plans.TierFree, int64(free.CreditAllotment), ledger.StatusActive, nil)
	if err != nil {
		return nil, fmt.Errorf("emergency recovery for %s exhausted all sources: %w", accountID, err)
	}
	r.recovered(SourceDefault)
	r.logger.WithField("account_id", accountID).Warn("recovered account to free tier defaults")
	return &RecoveryResult{AccountID: accountID, Source: SourceDefault, After: snapshotOf(sub)}, nil
}

func (r *Reconciler) count(result string) {
	if r.metrics != nil {
		r.metrics.SyncTotal.WithLabelValues(result).Inc()
	}
}

func (r *Reconciler) recovered(source string) {
	if r.metrics != nil {
		r.metrics.RecoveryTotal.WithLabelValues(source).Inc()
	}
}

func snapshotOf(sub *ledger.Subscription) *Snapshot {
	return &Snapshot{
		Plan:         sub.Plan,
		Status:       sub.Status,
		CreditsTotal: sub.CreditsTotal,
		CreditsUsed:  sub.CreditsUsed,
	}
}

// statusFromEntitlement folds the provider's subscription status into the
// ledger's lifecycle states.
func statusFromEntitlement(ent *billingsource.Entitlement) ledger.Status {
	switch ent.Status {
	case "active", "trialing":
		return ledger.StatusActive
	case "canceled", "incomplete_expired":
		return ledger.StatusCanceled
	case "paused", "incomplete":
		return ledger.StatusInactive
	default:
		return ledger.StatusPastDue
	}
}
