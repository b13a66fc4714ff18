// Package auth owns accounts and API tokens.
//
// Tokens are opaque bearer credentials of the form crd_<base64url random>.
// Only the SHA-256 hash is stored; the plaintext is shown once at creation
// and cannot be recovered. A short prefix (crd_ plus the first eight
// encoded characters) is kept alongside the hash so operators can tell
// tokens apart in listings without ever seeing the secret.
//
// The package also resolves billing identities back to accounts, which is
// how webhook events and reconciliation find the account behind a billing
// customer ID or email.
package auth
