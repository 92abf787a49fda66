// Package store provides persistent storage for agentgate using SQLite.
//
// # Data Models
//
//   - Challenge: one-time proof-of-work puzzle with derived lifecycle
//     state (issued, consumed, expired)
//   - Principal: persistent agent identity; only the API key digest is
//     stored, and usernames are permanently unique
//   - ActionToken: short-lived single-use credential bound to a principal
//   - RateWindow: live per-(principal, action, window) counter rolled
//     over from wall-clock time
//   - AuditEntry: record of registrations and administrative actions
//
// # Atomicity
//
// Challenge and token consumption are single conditional UPDATE
// statements keyed on the consumed flag and expiry bound, so concurrent
// attempts on the same entity admit exactly one winner. Rate window
// increments run under BEGIN IMMEDIATE: all ceilings are checked before
// any counter is written, and a blocked request mutates nothing.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Timestamps are stored as fixed-width RFC 3339 UTC text so SQL string
// comparisons on expiry columns are exact.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateName: username already taken
//   - ErrAlreadyConsumed: conditional consume lost to an earlier one
//   - ErrExpired: entity past its expiry at consumption time
//
// All methods accept context.Context.
package store
