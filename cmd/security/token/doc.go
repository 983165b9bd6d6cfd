// Package token provides the opaque-secret primitives used by refresh sessions.
//
// It is the single source of truth for how refresh secrets are generated and
// how they are pre-hashed before the slow one-way hash is applied.
//
// Design goals:
//   - Secrets are URL-safe base64 without padding, so they never contain the
//     composite-credential delimiter ('.').
//   - Optional pepper: when FMS_TOKEN_HMAC_KEY is set, secrets are reduced to
//     HMAC-SHA256(secret, key) before hashing, so a leaked database alone is not
//     enough to brute-force them offline.
//   - Without a key the pre-hash is SHA-256(secret), which keeps the hashed input
//     at a fixed length regardless of the configured secret size.
package token
