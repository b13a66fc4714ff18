// Package gate enforces credit affordability around feature handlers.
//
// The order of operations is fixed: check affordability, run the feature,
// then charge — and charge only if the feature responded 2xx. A failed
// feature call never costs credits; a failed charge after a successful
// feature call is accepted as revenue loss, logged and counted, because
// clawing back delivered work would be worse than the lost credits.
//
// Rejected requests get 402 Payment Required with a machine-readable body
// (error, current_credits, required_credits, action) so clients can render
// an upgrade prompt without parsing prose. Successful responses carry
// X-Credits-Remaining, X-Credits-Used and X-Credits-Action headers.
package gate
