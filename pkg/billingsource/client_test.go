package billingsource

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careerforge/creditd/pkg/observability"
	"github.com/careerforge/creditd/pkg/plans"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func newTestClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	client := NewHTTPClient(srv.URL, "sk_test_key", plans.DefaultCatalog(), logger, nil)
	client.SetRetryConfig(fastRetry())
	return client
}

func TestEntitlementByCustomer(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/customers/cus_123/subscription", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(entitlementPayload{
			CustomerID:       "cus_123",
			SubscriptionID:   "sub_456",
			Email:            "jo@example.com",
			PriceID:          "price_pro_monthly",
			Status:           "active",
			CurrentPeriodEnd: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC).Unix(),
		})
	}))

	ent, err := client.EntitlementByCustomer(context.Background(), "cus_123")
	require.NoError(t, err)
	assert.Equal(t, plans.TierPro, ent.Plan)
	assert.True(t, ent.Active())
	assert.Equal(t, "sub_456", ent.SubscriptionID)
}

func TestEntitlementNotFound(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.EntitlementByCustomer(context.Background(), "cus_ghost")
	require.Error(t, err)
	assert.True(t, IsNoEntitlement(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "404 must not be retried")
}

func TestTransientFailureRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(entitlementPayload{
			CustomerID: "cus_123",
			PriceID:    "price_basic_monthly",
			Status:     "active",
		})
	}))

	ent, err := client.EntitlementByCustomer(context.Background(), "cus_123")
	require.NoError(t, err)
	assert.Equal(t, plans.TierBasic, ent.Plan)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestPersistentFailureReportsUnavailable(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.EntitlementByCustomer(context.Background(), "cus_123")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsNoEntitlement(err))
}

func TestEntitlementByEmail(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/subscriptions", r.URL.Path)
		assert.Equal(t, "jo@example.com", r.URL.Query().Get("email"))
		json.NewEncoder(w).Encode(entitlementPayload{
			CustomerID: "cus_found",
			PriceID:    "price_standard_monthly",
			Status:     "past_due",
		})
	}))

	ent, err := client.EntitlementByEmail(context.Background(), "jo@example.com")
	require.NoError(t, err)
	assert.Equal(t, plans.TierStandard, ent.Plan)
	assert.False(t, ent.Active())
	assert.Equal(t, "cus_found", ent.CustomerID)
}

func TestUnknownPriceMapsToUnknownTier(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(entitlementPayload{
			CustomerID: "cus_123",
			PriceID:    "price_legacy_enterprise",
			Status:     "active",
		})
	}))

	ent, err := client.EntitlementByCustomer(context.Background(), "cus_123")
	require.NoError(t, err)
	assert.Equal(t, plans.TierUnknown, ent.Plan)
}
