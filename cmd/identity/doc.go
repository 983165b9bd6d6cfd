// Package identity is the principal directory consumed by the auth subsystem.
//
// It verifies login credentials, resolves principals by id together with their
// authorization scopes, and answers owner-existence checks for refresh sessions.
// Passwords are hashed with Argon2id (cmd/security/password); bcrypt hashes
// imported from the previous backend are still accepted on verification.
package identity
