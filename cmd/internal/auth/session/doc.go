// Package session implements refresh sessions for the fms backend.
//
// A refresh session is a persisted {id, secret hash, owner, expiry} row. The
// client holds the composite credential "<id>.<secret>"; the secret itself is
// never stored. The Manager creates sessions on login and rotates them on
// refresh: every successful rotation deletes all of the owner's sessions,
// records the retired id in a ledger and mints a new id and secret. A wrong
// secret for a live id, or a retired id presented after the reuse grace
// window, revokes every session of the owner.
//
// Access tokens are short-lived JWT (HS256) or PASETO v4.public tokens issued
// by an AccessTokenIssuer. The Sweeper deletes expired sessions on a cron
// schedule.
//
// Stores: in-memory (tests, single process), PostgreSQL and SQLite.
package session
