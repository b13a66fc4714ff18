package ledger

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careerforge/creditd/pkg/observability"
	"github.com/careerforge/creditd/pkg/plans"
)

func newTestStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	store := NewPostgresStore(db, plans.DefaultCatalog(), logger, nil)
	store.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	return store, mock
}

func subscriptionRows(accountID string, tier plans.Tier, total, used int64, status Status) *sqlmock.Rows {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{
		"account_id", "plan", "status", "credits_total", "credits_used",
		"stripe_customer_id", "stripe_subscription_id",
		"period_start", "period_end", "created_at", "updated_at",
	}).AddRow(accountID, string(tier), string(status), total, used, "", "", now, now.AddDate(0, 1, 0), now, now)
}

func TestConsumeChargesAtomically(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE credit_subscriptions").
		WillReturnRows(sqlmock.NewRows([]string{"plan", "credits_total", "credits_used"}).
			AddRow("standard", int64(50), int64(15)))
	mock.ExpectExec("INSERT INTO credit_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := store.Consume(context.Background(), "acct-1", plans.ActionResumeGeneration, map[string]string{"request_id": "req-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Charged)
	assert.Equal(t, int64(15), res.Used)
	assert.Equal(t, int64(35), res.Remaining)
	assert.NotEmpty(t, res.EventID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeInsufficientCredits(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE credit_subscriptions").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()
	// Diagnosis read: active subscription with only 2 credits left.
	mock.ExpectQuery("SELECT (.+) FROM credit_subscriptions").
		WillReturnRows(subscriptionRows("acct-1", plans.TierBasic, 10, 8, StatusActive))

	_, err := store.Consume(context.Background(), "acct-1", plans.ActionResumeGeneration, nil)
	require.Error(t, err)
	require.True(t, IsInsufficientCredits(err))

	var ice *InsufficientCreditsError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, int64(5), ice.Required)
	assert.Equal(t, int64(2), ice.Remaining)
	assert.Equal(t, plans.ActionResumeGeneration, ice.Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeInactiveSubscription(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE credit_subscriptions").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT (.+) FROM credit_subscriptions").
		WillReturnRows(subscriptionRows("acct-1", plans.TierPro, 200, 10, StatusPastDue))

	_, err := store.Consume(context.Background(), "acct-1", plans.ActionCoverLetter, nil)
	require.Error(t, err)
	assert.True(t, IsInactiveSubscription(err))
	assert.False(t, IsInsufficientCredits(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeUnknownActionRejected(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Consume(context.Background(), "acct-1", "mind_reading", nil)
	require.Error(t, err)
	assert.True(t, plans.IsUnknownAction(err))
}

func TestConsumeProvisionsUnknownAccount(t *testing.T) {
	store, mock := newTestStore(t)

	// First attempt: no row at all.
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE credit_subscriptions").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT (.+) FROM credit_subscriptions").WillReturnError(sql.ErrNoRows)

	// Lazy provisioning of the free tier.
	mock.ExpectQuery("SELECT (.+) FROM credit_subscriptions").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO credit_subscriptions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM credit_subscriptions").
		WillReturnRows(subscriptionRows("acct-new", plans.TierFree, 3, 0, StatusActive))

	// Retry succeeds against the fresh row.
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE credit_subscriptions").
		WillReturnRows(sqlmock.NewRows([]string{"plan", "credits_total", "credits_used"}).
			AddRow("free", int64(3), int64(1)))
	mock.ExpectExec("INSERT INTO credit_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := store.Consume(context.Background(), "acct-new", plans.ActionAISuggestions, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Charged)
	assert.Equal(t, int64(2), res.Remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBalanceLazilyProvisions(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM credit_subscriptions").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO credit_subscriptions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM credit_subscriptions").
		WillReturnRows(subscriptionRows("acct-new", plans.TierFree, 3, 0, StatusActive))

	bal, err := store.GetBalance(context.Background(), "acct-new")
	require.NoError(t, err)
	assert.Equal(t, plans.TierFree, bal.Plan)
	assert.Equal(t, int64(3), bal.Remaining)
	assert.Equal(t, int64(0), bal.Used)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasSufficientCreditsDoesNotReserve(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM credit_subscriptions").
		WillReturnRows(subscriptionRows("acct-1", plans.TierBasic, 10, 6, StatusActive))

	check, err := store.HasSufficientCredits(context.Background(), "acct-1", plans.ActionCoverLetter)
	require.NoError(t, err)
	assert.True(t, check.Sufficient)
	assert.Equal(t, int64(3), check.Required)
	assert.Equal(t, int64(4), check.Remaining)
	// No UPDATE was issued: the probe never reserves credits.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasSufficientCreditsInactive(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM credit_subscriptions").
		WillReturnRows(subscriptionRows("acct-1", plans.TierPro, 200, 0, StatusCanceled))

	check, err := store.HasSufficientCredits(context.Background(), "acct-1", plans.ActionResumeGeneration)
	require.NoError(t, err)
	assert.False(t, check.Sufficient)
	assert.Equal(t, StatusCanceled, check.Status, "callers need the status to distinguish lapsed from broke")
}

func TestChangePlanSameTierReactivates(t *testing.T) {
	store, mock := newTestStore(t)

	// A canceled basic account re-subscribing to basic must come back
	// active with a fresh allotment, not stay stuck on the old row.
	mock.ExpectQuery("SELECT (.+) FROM credit_subscriptions").
		WillReturnRows(subscriptionRows("acct-1", plans.TierBasic, 10, 5, StatusCanceled))
	mock.ExpectQuery("UPDATE credit_subscriptions").
		WillReturnRows(subscriptionRows("acct-1", plans.TierBasic, 10, 0, StatusActive))
	mock.ExpectExec("INSERT INTO credit_events").WillReturnResult(sqlmock.NewResult(0, 1))

	sub, err := store.ChangePlan(context.Background(), "acct-1", plans.TierBasic, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sub.Status)
	assert.Equal(t, int64(0), sub.CreditsUsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangePlanUpgrade(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM credit_subscriptions").
		WillReturnRows(subscriptionRows("acct-1", plans.TierFree, 3, 3, StatusActive))
	mock.ExpectQuery("UPDATE credit_subscriptions").
		WillReturnRows(subscriptionRows("acct-1", plans.TierPro, 200, 0, StatusActive))
	mock.ExpectExec("INSERT INTO credit_events").WillReturnResult(sqlmock.NewResult(0, 1))

	sub, err := store.ChangePlan(context.Background(), "acct-1", plans.TierPro,
		&ExternalRefs{CustomerID: "cus_123", SubscriptionID: "sub_456"})
	require.NoError(t, err)
	assert.Equal(t, plans.TierPro, sub.Plan)
	assert.Equal(t, int64(200), sub.CreditsTotal)
	assert.Equal(t, int64(0), sub.CreditsUsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetExternalRefsRequiresSubscription(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE credit_subscriptions").WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetExternalRefs(context.Background(), "ghost", ExternalRefs{CustomerID: "cus_1"})
	require.Error(t, err)
	assert.True(t, IsNoSubscription(err))
}

func TestChangePlanUnknownTier(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.ChangePlan(context.Background(), "acct-1", plans.Tier("platinum"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platinum")
}

func TestRefreshResetsPeriod(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM credit_subscriptions").
		WillReturnRows(subscriptionRows("acct-1", plans.TierBasic, 10, 9, StatusActive))
	mock.ExpectQuery("UPDATE credit_subscriptions").
		WillReturnRows(subscriptionRows("acct-1", plans.TierBasic, 10, 0, StatusActive))
	mock.ExpectExec("INSERT INTO credit_events").WillReturnResult(sqlmock.NewResult(0, 1))

	sub, err := store.Refresh(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), sub.CreditsUsed)
	assert.Equal(t, int64(10), sub.CreditsTotal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshInactiveSubscriptionRejected(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM credit_subscriptions").
		WillReturnRows(subscriptionRows("acct-1", plans.TierBasic, 10, 9, StatusCanceled))

	// No UPDATE: a lapsed account must not be handed a full allotment.
	_, err := store.Refresh(context.Background(), "acct-1")
	require.Error(t, err)
	assert.True(t, IsInactiveSubscription(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshUnknownAccount(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM credit_subscriptions").WillReturnError(sql.ErrNoRows)

	_, err := store.Refresh(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, IsNoSubscription(err))
}

func TestSetStatusUnknownAccount(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE credit_subscriptions").WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetStatus(context.Background(), "ghost", StatusPastDue)
	require.Error(t, err)
	assert.True(t, IsNoSubscription(err))
}

func TestSetStatusRejectsUnknownState(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.SetStatus(context.Background(), "acct-1", Status("frozen"))
	require.Error(t, err)
}

func TestListEvents(t *testing.T) {
	store, mock := newTestStore(t)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "account_id", "action", "credits_used", "remaining_after", "metadata", "created_at"}).
		AddRow("ev-2", "acct-1", plans.ActionCoverLetter, int64(3), int64(2), `{"request_id":"req-9"}`, now).
		AddRow("ev-1", "acct-1", plans.ActionResumeGeneration, int64(5), int64(5), "{}", now.Add(-time.Hour))
	mock.ExpectQuery("SELECT (.+) FROM credit_events").WillReturnRows(rows)

	events, err := store.ListEvents(context.Background(), "acct-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ev-2", events[0].ID)
	assert.Equal(t, "req-9", events[0].Metadata["request_id"])
	assert.Nil(t, events[1].Metadata)
}

func TestPeriodUsageExcludesSystemEvents(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM credit_subscriptions").
		WillReturnRows(subscriptionRows("acct-1", plans.TierStandard, 50, 12, StatusActive))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("acct-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(12)))

	total, err := store.PeriodUsage(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetEntitlementClampsUsage(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM credit_subscriptions").
		WillReturnRows(subscriptionRows("acct-1", plans.TierPro, 200, 120, StatusActive))
	// Downgrade from pro to basic: used is clamped into the new total.
	mock.ExpectQuery("UPDATE credit_subscriptions").
		WillReturnRows(subscriptionRows("acct-1", plans.TierBasic, 10, 10, StatusActive))
	mock.ExpectExec("INSERT INTO credit_events").WillReturnResult(sqlmock.NewResult(0, 1))

	sub, err := store.SetEntitlement(context.Background(), "acct-1", plans.TierBasic, 10, StatusActive, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), sub.CreditsUsed)
	assert.Equal(t, int64(0), sub.Remaining())
	assert.NoError(t, mock.ExpectationsWereMet())
}
