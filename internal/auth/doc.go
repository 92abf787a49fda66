// ABOUTME: Package documentation for the authorization protocol core
// ABOUTME: Describes the challenge, registration, token, and gating flow

// Package auth implements the proof-of-work gated authorization protocol.
//
// The protocol has two phases. Registration: an agent requests a register
// challenge, mines a nonce whose SHA-256 digest carries the required run
// of leading zero hex digits, and exchanges the proof plus a unique name
// for an API key. Action: a registered agent mines a cheaper action
// challenge and exchanges the proof for a short-lived single-use token;
// presenting key and token together at the gate admits exactly one write
// action, subject to hourly and daily ceilings.
//
// Services:
//
//   - Challenges issues and spends proof-of-work challenges
//   - Registry registers agents and resolves API keys
//   - Issuer mints action tokens from solved action challenges
//   - Limiter charges rolling hourly and daily windows atomically
//   - Gate is the choke point every write action passes through
//
// Secrets (API keys and action tokens) are returned to the caller exactly
// once and stored only as SHA-256 digests. All single-use artifacts are
// spent by compare-and-set in the store, so concurrent spends admit
// exactly one winner.
package auth
