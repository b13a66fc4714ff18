// Package reconcile keeps the local credit ledger consistent with the
// external billing source.
//
// The division of authority is strict: the billing source owns
// entitlements (what plan, how many credits, active or not), the ledger
// owns usage (how many credits were spent this period). Reconciliation
// therefore copies plan, total and status from the billing source but
// never touches credits_used beyond clamping it into a downgraded total.
//
// Three operations are exposed. ValidateConsistency is read-only and
// reports divergences. Sync applies the billing source's entitlement to
// the ledger. EmergencyRecovery is the last resort for a corrupted or
// missing subscription row: billing source first, the ledger's own event
// log second, and the free tier as the floor, so an account always comes
// back in a usable state.
//
// A cron-driven sweep runs ValidateConsistency across all billed accounts
// and syncs the divergent ones.
package reconcile
