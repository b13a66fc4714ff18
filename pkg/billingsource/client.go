package billingsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/careerforge/creditd/pkg/observability"
	"github.com/careerforge/creditd/pkg/plans"
)

// Client is the read-only view of the billing provider used by
// reconciliation.
type Client interface {
	// EntitlementByCustomer looks up the customer's current subscription.
	EntitlementByCustomer(ctx context.Context, customerID string) (*Entitlement, error)

	// EntitlementByEmail is the fallback lookup for accounts that lost
	// their customer reference.
	EntitlementByEmail(ctx context.Context, email string) (*Entitlement, error)

	// Ping verifies connectivity and credentials.
	Ping(ctx context.Context) error
}

// RetryConfig bounds the client's exponential backoff.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig retries transient failures three times with a short
// backoff. Reconciliation runs on a schedule, so giving up fast and
// falling back to the ledger beats hammering a struggling provider.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	if attempt <= 0 {
		return c.InitialDelay
	}
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// HTTPClient is the provider-facing implementation of Client against a
// Stripe-shaped REST API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      RetryConfig
	catalog    *plans.Catalog
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewHTTPClient creates a billing source client. metrics may be nil.
func NewHTTPClient(baseURL, apiKey string, catalog *plans.Catalog, logger *observability.Logger, metrics *observability.Metrics) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      DefaultRetryConfig(),
		catalog:    catalog,
		logger:     logger.WithComponent("billingsource"),
		metrics:    metrics,
	}
}

// SetRetryConfig overrides the default backoff, mainly for tests.
func (c *HTTPClient) SetRetryConfig(cfg RetryConfig) { c.retry = cfg }

// entitlementPayload is the provider's subscription representation.
type entitlementPayload struct {
	CustomerID       string `json:"customer_id"`
	SubscriptionID   string `json:"subscription_id"`
	Email            string `json:"email"`
	PriceID          string `json:"price_id"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
}

func (c *HTTPClient) EntitlementByCustomer(ctx context.Context, customerID string) (*Entitlement, error) {
	body, err := c.get(ctx, "/v1/customers/"+url.PathEscape(customerID)+"/subscription", "entitlement lookup")
	if err != nil {
		return nil, err
	}
	return c.decodeEntitlement(body)
}

func (c *HTTPClient) EntitlementByEmail(ctx context.Context, email string) (*Entitlement, error) {
	body, err := c.get(ctx, "/v1/subscriptions?email="+url.QueryEscape(email), "entitlement lookup by email")
	if err != nil {
		return nil, err
	}
	return c.decodeEntitlement(body)
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "/v1/ping", "ping")
	if IsNoEntitlement(err) {
		return nil
	}
	return err
}

func (c *HTTPClient) decodeEntitlement(body []byte) (*Entitlement, error) {
	var payload entitlementPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding billing source response: %w", err)
	}
	ent := &Entitlement{
		CustomerID:       payload.CustomerID,
		SubscriptionID:   payload.SubscriptionID,
		Email:            payload.Email,
		PriceID:          payload.PriceID,
		Plan:             c.catalog.TierByStripePrice(payload.PriceID),
		Status:           payload.Status,
		CurrentPeriodEnd: time.Unix(payload.CurrentPeriodEnd, 0).UTC(),
	}
	return ent, nil
}

// get performs an authenticated GET with bounded retries. 404 is a
// definitive "no entitlement" and is never retried; 5xx and transport
// errors back off and retry.
func (c *HTTPClient) get(ctx context.Context, path, op string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retry.delay(attempt - 1)):
			}
		}

		body, retryable, err := c.getOnce(ctx, path, op)
		if err == nil {
			return body, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"op":      op,
			"attempt": attempt + 1,
		}).Warn("billing source request failed")
	}
	if c.metrics != nil {
		c.metrics.BillingSourceErrors.Inc()
	}
	return nil, lastErr
}

func (c *HTTPClient) getOnce(ctx context.Context, path, op string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, false, fmt.Errorf("building billing source request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, &UnavailableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, &UnavailableError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, false, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, ErrNoEntitlement
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, false, &UnavailableError{Op: op, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, &UnavailableError{Op: op, StatusCode: resp.StatusCode}
	default:
		return nil, false, &UnavailableError{Op: op, StatusCode: resp.StatusCode}
	}
}
