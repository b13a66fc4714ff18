// Package ledger is the credit accounting core: the single source of truth
// for "can this account afford this action" and "charge this account for
// this action".
//
// Two tables back it. credit_subscriptions holds one mutable row per
// account (plan, total and used credits, billing period, external billing
// references). credit_events is an append-only audit log of every consume,
// refresh, plan change and sync; balances are never computed from it.
//
// The consume path is the only place credits are spent and it is a single
// guarded UPDATE:
//
//	UPDATE credit_subscriptions
//	SET credits_used = credits_used + $cost
//	WHERE account_id = $1 AND status = 'active'
//	  AND credits_used + $cost <= credits_total
//
// so two concurrent requests can never jointly overspend a balance. A
// zero-row result is diagnosed after the fact (missing row, inactive
// subscription, insufficient credits) and surfaced as a typed error; the
// balance is untouched on every failure path.
//
// Feature code must never touch this package directly — the request gate
// (pkg/gate) is the sanctioned entry point for credit-gated features.
package ledger
