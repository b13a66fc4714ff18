// Package api wires the HTTP surface of the credit service.
//
// Routes split into three zones: account routes (balance, usage, plan)
// authenticated by bearer API tokens, generation routes that pass through the
// credit gate before reaching the AI feature handlers, and the unauthenticated
// billing webhook verified by HMAC signature instead. Admin-scoped tokens are
// required for plan changes and reconciliation operations.
package api
