package billingsource

import (
	"errors"
	"fmt"
	"time"

	"github.com/careerforge/creditd/pkg/plans"
)

// Entitlement is the billing provider's answer to "what has this customer
// paid for". It is the authority during reconciliation; the local ledger
// stays authoritative for usage only.
type Entitlement struct {
	CustomerID       string     `json:"customer_id"`
	SubscriptionID   string     `json:"subscription_id"`
	Email            string     `json:"email"`
	PriceID          string     `json:"price_id"`
	Plan             plans.Tier `json:"plan"`
	Status           string     `json:"status"`
	CurrentPeriodEnd time.Time  `json:"current_period_end"`
}

// Provider subscription states that count as "may consume credits".
func (e *Entitlement) Active() bool {
	switch e.Status {
	case "active", "trialing":
		return true
	}
	return false
}

// ErrNoEntitlement means the billing source has no subscription for the
// customer: they have never paid, which maps to the free tier locally.
var ErrNoEntitlement = errors.New("billing source has no entitlement for customer")

// IsNoEntitlement reports whether err means the customer is unknown to
// the billing source.
func IsNoEntitlement(err error) bool {
	return errors.Is(err, ErrNoEntitlement)
}

// UnavailableError means the billing source could not be reached or kept
// failing after retries. Callers fall back to cached ledger state.
type UnavailableError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("billing source %s failed with status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("billing source %s failed: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err means the billing source is down or
// misbehaving, as opposed to a definitive answer.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}
