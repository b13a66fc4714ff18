package billingsource

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/careerforge/creditd/pkg/httputil"
	"github.com/careerforge/creditd/pkg/ledger"
	"github.com/careerforge/creditd/pkg/observability"
	"github.com/careerforge/creditd/pkg/plans"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "Billing-Signature"

const maxWebhookBody = 1 << 20

// Ledger is the slice of the credit ledger the webhook handler needs.
type Ledger interface {
	EnsureSubscription(ctx context.Context, accountID string) (*ledger.Subscription, error)
	ChangePlan(ctx context.Context, accountID string, tier plans.Tier, refs *ledger.ExternalRefs) (*ledger.Subscription, error)
	SetStatus(ctx context.Context, accountID string, status ledger.Status) error
	SetExternalRefs(ctx context.Context, accountID string, refs ledger.ExternalRefs) error
	Refresh(ctx context.Context, accountID string) (*ledger.Subscription, error)
}

// AccountResolver maps billing identities back to account IDs when the
// event data does not carry one.
type AccountResolver interface {
	AccountIDByBillingCustomer(ctx context.Context, customerID string) (string, error)
	AccountIDByEmail(ctx context.Context, email string) (string, error)
}

// webhookEvent is the provider's envelope.
type webhookEvent struct {
	ID   string           `json:"id"`
	Type string           `json:"type"`
	Data webhookEventData `json:"data"`
}

type webhookEventData struct {
	AccountID      string `json:"account_id"`
	CustomerID     string `json:"customer_id"`
	SubscriptionID string `json:"subscription_id"`
	Email          string `json:"email"`
	PriceID        string `json:"price_id"`
	Status         string `json:"status"`
}

// WebhookHandler verifies, deduplicates and applies billing events.
type WebhookHandler struct {
	secret   []byte
	ledger   Ledger
	resolver AccountResolver
	catalog  *plans.Catalog
	seen     *lru.Cache[string, struct{}]
	logger   *observability.Logger
}

// NewWebhookHandler creates the webhook endpoint handler. The seen-event
// cache absorbs provider redeliveries so applying an event twice stays
// harmless even for non-idempotent effects like period refresh.
func NewWebhookHandler(secret string, lg Ledger, resolver AccountResolver, catalog *plans.Catalog, logger *observability.Logger) (*WebhookHandler, error) {
	seen, err := lru.New[string, struct{}](1024)
	if err != nil {
		return nil, err
	}
	return &WebhookHandler{
		secret:   []byte(secret),
		ledger:   lg,
		resolver: resolver,
		catalog:  catalog,
		seen:     seen,
		logger:   logger.WithComponent("billing.webhook"),
	}, nil
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "unable to read request body")
		return
	}
	if !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "malformed webhook payload")
		return
	}

	log := h.logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	if event.ID != "" {
		if _, dup := h.seen.Get(event.ID); dup {
			log.Info("ignoring redelivered billing event")
			httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	if err := h.apply(r.Context(), &event, log); err != nil {
		log.WithError(err).Error("applying billing event failed")
		// Non-2xx makes the provider redeliver later, which is what we
		// want for transient failures.
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "event not applied")
		return
	}

	if event.ID != "" {
		h.seen.Add(event.ID, struct{}{})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if len(h.secret) == 0 || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (h *WebhookHandler) apply(ctx context.Context, event *webhookEvent, log *observability.Logger) error {
	accountID, err := h.resolveAccount(ctx, &event.Data)
	if err != nil {
		return err
	}
	log = log.WithField("account_id", accountID)

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return h.applySubscriptionChange(ctx, accountID, &event.Data, log)
	case "customer.subscription.deleted":
		log.Info("subscription canceled by billing provider")
		return h.ledger.SetStatus(ctx, accountID, ledger.StatusCanceled)
	case "invoice.paid":
		if _, err := h.ledger.EnsureSubscription(ctx, accountID); err != nil {
			return err
		}
		if err := h.ledger.SetStatus(ctx, accountID, ledger.StatusActive); err != nil {
			return err
		}
		_, err := h.ledger.Refresh(ctx, accountID)
		return err
	case "invoice.payment_failed":
		log.Warn("payment failed, suspending credit consumption")
		return h.ledger.SetStatus(ctx, accountID, ledger.StatusPastDue)
	default:
		// Unknown event types are acknowledged so the provider stops
		// redelivering them.
		log.Debug("ignoring unhandled billing event type")
		return nil
	}
}

func (h *WebhookHandler) applySubscriptionChange(ctx context.Context, accountID string, data *webhookEventData, log *observability.Logger) error {
	tier := h.catalog.TierByStripePrice(data.PriceID)
	if tier == plans.TierUnknown {
		// A price we do not sell: acknowledge but change nothing, the
		// reconciler will flag the account if this persists.
		log.WithField("price_id", data.PriceID).Warn("billing event references unknown price")
		return nil
	}
	refs := &ledger.ExternalRefs{
		CustomerID:     data.CustomerID,
		SubscriptionID: data.SubscriptionID,
	}
	if _, err := h.ledger.ChangePlan(ctx, accountID, tier, refs); err != nil {
		return err
	}
	if status := mapProviderStatus(data.Status); status != ledger.StatusActive {
		return h.ledger.SetStatus(ctx, accountID, status)
	}
	return nil
}

func (h *WebhookHandler) resolveAccount(ctx context.Context, data *webhookEventData) (string, error) {
	if data.AccountID != "" {
		return data.AccountID, nil
	}
	if data.CustomerID != "" {
		if id, err := h.resolver.AccountIDByBillingCustomer(ctx, data.CustomerID); err == nil {
			return id, nil
		}
	}
	id, err := h.resolver.AccountIDByEmail(ctx, data.Email)
	if err != nil {
		return "", err
	}
	// Backfill the customer link so the next event for this customer
	// resolves without the email lookup. Accounts with no subscription
	// row yet get theirs written by the event being applied.
	if data.CustomerID != "" {
		refs := ledger.ExternalRefs{CustomerID: data.CustomerID, SubscriptionID: data.SubscriptionID}
		if err := h.ledger.SetExternalRefs(ctx, id, refs); err != nil && !ledger.IsNoSubscription(err) {
			return "", err
		}
	}
	return id, nil
}

// mapProviderStatus folds the provider's subscription states into the
// ledger's lifecycle states.
func mapProviderStatus(status string) ledger.Status {
	switch status {
	case "past_due", "unpaid":
		return ledger.StatusPastDue
	case "canceled", "incomplete_expired":
		return ledger.StatusCanceled
	case "paused", "incomplete":
		return ledger.StatusInactive
	default:
		return ledger.StatusActive
	}
}
