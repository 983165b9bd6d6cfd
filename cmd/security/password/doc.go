// Package password provides the slow one-way hash used for passwords and refresh secrets.
//
// It implements Argon2id hashing using a PHC-like encoded string format and includes:
// - Configurable Argon2id parameters (via environment variables)
// - Password policy validation (skipped for machine-generated secrets)
// - Strict hash decoding and verification with anti-DoS bounds
//
// Hash strings are treated as untrusted input during Verify and are validated accordingly.
package password
