// ABOUTME: Entity types and sentinel errors for agentgate persistence
// ABOUTME: Defines Challenge, Principal, ActionToken, RateWindow and their lifecycle states

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateName is returned when a principal username collides with an
// existing one. The collision is case-insensitive and applies to inactive
// principals too: names are never reused.
var ErrDuplicateName = errors.New("username already taken")

// ErrAlreadyConsumed is returned when a conditional consume finds the
// entity already consumed.
var ErrAlreadyConsumed = errors.New("already consumed")

// ErrExpired is returned when a conditional consume finds the entity past
// its expiry.
var ErrExpired = errors.New("expired")

// ChallengeKind distinguishes registration challenges from action challenges.
type ChallengeKind string

const (
	KindRegister ChallengeKind = "register"
	KindAction   ChallengeKind = "action"
)

// Valid reports whether k is a known challenge kind.
func (k ChallengeKind) Valid() bool {
	return k == KindRegister || k == KindAction
}

// ConsumableState is the derived lifecycle state of a challenge or token.
// Expiry is computed from timestamps at evaluation time, never from a
// background sweep.
type ConsumableState string

const (
	StateIssued   ConsumableState = "issued"
	StateConsumed ConsumableState = "consumed"
	StateExpired  ConsumableState = "expired"
)

// Challenge is a one-time proof-of-work puzzle. Consumed transitions
// false to true exactly once; after expiry no consumption is legal
// regardless of solution validity.
type Challenge struct {
	ID         string
	Kind       ChallengeKind
	Prefix     string // random, fixed-length hex
	Difficulty int    // required leading zero hex digits
	Algorithm  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Consumed   bool
	ConsumedAt *time.Time
}

// State derives the challenge lifecycle state at the given instant.
// Consumed is terminal absolutely; expired applies only while unconsumed.
func (c *Challenge) State(now time.Time) ConsumableState {
	if c.Consumed {
		return StateConsumed
	}
	if now.After(c.ExpiresAt) {
		return StateExpired
	}
	return StateIssued
}

// Principal is a persistent agent identity. Only the SHA-256 digest of
// the API key secret is stored; the plaintext is returned to the caller
// once at registration and never again.
type Principal struct {
	ID            string
	APIKeyHash    string
	Username      string
	Description   string
	Active        bool
	TotalPosts    int64
	TotalComments int64
	CreatedAt     time.Time
	LastUsedAt    *time.Time
}

// ActionToken is a short-lived, single-use credential bound to a
// principal. Only the token secret's SHA-256 digest is stored. Consumed
// rows are kept for audit rather than deleted on use.
type ActionToken struct {
	TokenHash   string
	PrincipalID string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Consumed    bool
	ConsumedAt  *time.Time
}

// State derives the token lifecycle state at the given instant.
func (t *ActionToken) State(now time.Time) ConsumableState {
	if t.Consumed {
		return StateConsumed
	}
	if now.After(t.ExpiresAt) {
		return StateExpired
	}
	return StateIssued
}

// ActionType is the kind of write a principal is attempting.
type ActionType string

const (
	ActionPost    ActionType = "post"
	ActionComment ActionType = "comment"
	ActionVote    ActionType = "vote" // never rate-counted
)

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	return a == ActionPost || a == ActionComment || a == ActionVote
}

// Counted reports whether the action type participates in rate windows.
func (a ActionType) Counted() bool {
	return a == ActionPost || a == ActionComment
}

// WindowKind identifies a rolling rate-limit window.
type WindowKind string

const (
	WindowHourly WindowKind = "hourly"
	WindowDaily  WindowKind = "daily"
)

// Duration returns the wall-clock span of the window.
func (k WindowKind) Duration() time.Duration {
	if k == WindowDaily {
		return 24 * time.Hour
	}
	return time.Hour
}

// RateWindow is the live counter for one (principal, action, window)
// triple. It rolls over in place when the wall clock passes
// WindowStart + Kind.Duration(); idle principals cost no maintenance.
type RateWindow struct {
	PrincipalID string
	Action      ActionType
	Kind        WindowKind
	WindowStart time.Time
	Count       int
}

// ResetAt returns when the window rolls over.
func (w *RateWindow) ResetAt() time.Time {
	return w.WindowStart.Add(w.Kind.Duration())
}

// WindowCharge is one window's ceiling to enforce during an increment.
type WindowCharge struct {
	Kind  WindowKind
	Limit int
}
