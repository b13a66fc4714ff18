package billingsource

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careerforge/creditd/pkg/ledger"
	"github.com/careerforge/creditd/pkg/observability"
	"github.com/careerforge/creditd/pkg/plans"
)

type fakeLedger struct {
	planChanges []plans.Tier
	statuses    []ledger.Status
	refreshes   int
	refs        *ledger.ExternalRefs
	backfilled  []ledger.ExternalRefs
}

func (f *fakeLedger) EnsureSubscription(ctx context.Context, accountID string) (*ledger.Subscription, error) {
	return &ledger.Subscription{AccountID: accountID, Status: ledger.StatusActive}, nil
}

func (f *fakeLedger) ChangePlan(ctx context.Context, accountID string, tier plans.Tier, refs *ledger.ExternalRefs) (*ledger.Subscription, error) {
	f.planChanges = append(f.planChanges, tier)
	f.refs = refs
	return &ledger.Subscription{AccountID: accountID, Plan: tier, Status: ledger.StatusActive}, nil
}

func (f *fakeLedger) SetStatus(ctx context.Context, accountID string, status ledger.Status) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeLedger) SetExternalRefs(ctx context.Context, accountID string, refs ledger.ExternalRefs) error {
	f.backfilled = append(f.backfilled, refs)
	return nil
}

func (f *fakeLedger) Refresh(ctx context.Context, accountID string) (*ledger.Subscription, error) {
	f.refreshes++
	return &ledger.Subscription{AccountID: accountID}, nil
}

type fakeResolver struct {
	byCustomer map[string]string
	byEmail    map[string]string
}

func (f *fakeResolver) AccountIDByBillingCustomer(ctx context.Context, customerID string) (string, error) {
	if id, ok := f.byCustomer[customerID]; ok {
		return id, nil
	}
	return "", ledger.ErrNoSubscription
}

func (f *fakeResolver) AccountIDByEmail(ctx context.Context, email string) (string, error) {
	if id, ok := f.byEmail[email]; ok {
		return id, nil
	}
	return "", ledger.ErrNoSubscription
}

const testSecret = "whsec_test"

func newTestWebhook(t *testing.T, lg Ledger, resolver AccountResolver) *WebhookHandler {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	h, err := NewWebhookHandler(testSecret, lg, resolver, plans.DefaultCatalog(), logger)
	require.NoError(t, err)
	return h
}

func signedRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/billing/webhook", bytes.NewBufferString(body))
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	req.Header.Set(SignatureHeader, hex.EncodeToString(mac.Sum(nil)))
	return req
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := newTestWebhook(t, &fakeLedger{}, &fakeResolver{})

	req := httptest.NewRequest(http.MethodPost, "/billing/webhook", bytes.NewBufferString(`{}`))
	req.Header.Set(SignatureHeader, "deadbeef")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	h := newTestWebhook(t, &fakeLedger{}, &fakeResolver{})

	req := httptest.NewRequest(http.MethodPost, "/billing/webhook", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookSubscriptionUpdated(t *testing.T) {
	lg := &fakeLedger{}
	h := newTestWebhook(t, lg, &fakeResolver{})

	body := `{"id":"evt_1","type":"customer.subscription.updated","data":{
		"account_id":"acct-1","customer_id":"cus_1","subscription_id":"sub_1",
		"price_id":"price_pro_monthly","status":"active"}}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, lg.planChanges, 1)
	assert.Equal(t, plans.TierPro, lg.planChanges[0])
	require.NotNil(t, lg.refs)
	assert.Equal(t, "cus_1", lg.refs.CustomerID)
	assert.Empty(t, lg.statuses)
}

func TestWebhookRedeliveryIgnored(t *testing.T) {
	lg := &fakeLedger{}
	h := newTestWebhook(t, lg, &fakeResolver{})

	body := `{"id":"evt_dup","type":"invoice.paid","data":{"account_id":"acct-1"}}`
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedRequest(t, body))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 1, lg.refreshes, "redelivered invoice must not re-grant credits")
}

func TestWebhookPaymentFailed(t *testing.T) {
	lg := &fakeLedger{}
	h := newTestWebhook(t, lg, &fakeResolver{})

	body := `{"id":"evt_2","type":"invoice.payment_failed","data":{"account_id":"acct-1"}}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []ledger.Status{ledger.StatusPastDue}, lg.statuses)
}

func TestWebhookSubscriptionDeleted(t *testing.T) {
	lg := &fakeLedger{}
	h := newTestWebhook(t, lg, &fakeResolver{})

	body := `{"id":"evt_3","type":"customer.subscription.deleted","data":{"account_id":"acct-1"}}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []ledger.Status{ledger.StatusCanceled}, lg.statuses)
}

func TestWebhookResolvesAccountByCustomer(t *testing.T) {
	lg := &fakeLedger{}
	resolver := &fakeResolver{byCustomer: map[string]string{"cus_9": "acct-9"}}
	h := newTestWebhook(t, lg, resolver)

	body := `{"id":"evt_4","type":"customer.subscription.updated","data":{
		"customer_id":"cus_9","price_id":"price_basic_monthly","status":"active"}}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, lg.planChanges, 1)
	assert.Equal(t, plans.TierBasic, lg.planChanges[0])
}

func TestWebhookEmailFallbackBackfillsCustomerLink(t *testing.T) {
	lg := &fakeLedger{}
	resolver := &fakeResolver{byEmail: map[string]string{"pat@example.com": "acct-7"}}
	h := newTestWebhook(t, lg, resolver)

	// The customer id is unknown, so resolution falls back to email; the
	// discovered link is written back so the next event resolves directly.
	body := `{"id":"evt_7","type":"invoice.paid","data":{
		"customer_id":"cus_new","subscription_id":"sub_new","email":"pat@example.com"}}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, lg.refreshes)
	require.Len(t, lg.backfilled, 1)
	assert.Equal(t, "cus_new", lg.backfilled[0].CustomerID)
	assert.Equal(t, "sub_new", lg.backfilled[0].SubscriptionID)
}

func TestWebhookUnknownPriceAcknowledged(t *testing.T) {
	lg := &fakeLedger{}
	h := newTestWebhook(t, lg, &fakeResolver{})

	body := `{"id":"evt_5","type":"customer.subscription.updated","data":{
		"account_id":"acct-1","price_id":"price_mystery","status":"active"}}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, lg.planChanges)
}

func TestWebhookUnknownEventTypeAcknowledged(t *testing.T) {
	lg := &fakeLedger{}
	h := newTestWebhook(t, lg, &fakeResolver{})

	body := `{"id":"evt_6","type":"charge.succeeded","data":{"account_id":"acct-1"}}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, lg.planChanges)
	assert.Empty(t, lg.statuses)
	assert.Zero(t, lg.refreshes)
}
