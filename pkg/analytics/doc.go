// Package analytics answers usage questions over the credit_events audit
// log: per-action totals, daily burn series, fleet-wide top actions, and
// ledger verification (does the event log add up to the subscription
// row?).
//
// Everything here is read-only SQL over tables owned by pkg/ledger. It
// never mutates balances, so a bug here can misreport usage but can never
// mischarge an account.
package analytics
