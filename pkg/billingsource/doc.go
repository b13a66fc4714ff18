// Package billingsource talks to the external billing provider, the
// authority on what each customer is entitled to. The client is strictly
// read-only: entitlements, plans and payment state are queried, never
// written, so a reconciliation bug can corrupt the local ledger at worst
// but never a customer's bill.
//
// Inbound, the package handles the provider's webhooks (subscription
// lifecycle, invoice outcomes) after verifying the HMAC signature, and
// translates them into ledger operations. Webhook redelivery is expected;
// every translation is idempotent.
package billingsource
