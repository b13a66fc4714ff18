package ledger

import (
	"errors"
	"fmt"
)

// InsufficientCreditsError means the guarded update found an active
// subscription that cannot afford the action. It carries everything the
// HTTP layer needs to build a 402 response.
type InsufficientCreditsError struct {
	AccountID string
	Action    string
	Required  int64
	Remaining int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for %s: need %d, have %d", e.Action, e.Required, e.Remaining)
}

// IsInsufficientCredits reports whether err is an InsufficientCreditsError.
func IsInsufficientCredits(err error) bool {
	var ice *InsufficientCreditsError
	return errors.As(err, &ice)
}

// InactiveSubscriptionError means the subscription exists but is not in a
// state that may consume credits.
type InactiveSubscriptionError struct {
	AccountID string
	Status    Status
}

func (e *InactiveSubscriptionError) Error() string {
	return fmt.Sprintf("subscription for %s is %s", e.AccountID, e.Status)
}

// IsInactiveSubscription reports whether err is an InactiveSubscriptionError.
func IsInactiveSubscription(err error) bool {
	var ise *InactiveSubscriptionError
	return errors.As(err, &ise)
}

// ErrNoSubscription is returned by lookups that do not provision.
var ErrNoSubscription = errors.New("no subscription for account")

// IsNoSubscription reports whether err means the account has no
// subscription row.
func IsNoSubscription(err error) bool {
	return errors.Is(err, ErrNoSubscription)
}

// ConflictError means a write lost too many consecutive races and gave up.
// The caller may safely retry the whole operation.
type ConflictError struct {
	AccountID string
	Op        string
	Attempts  int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s for %s aborted after %d conflicting attempts", e.Op, e.AccountID, e.Attempts)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
