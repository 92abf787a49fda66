// ABOUTME: Error taxonomy for the authorization protocol
// ABOUTME: Sentinel errors and the rate limit error carrying retry metadata

package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrChallengeNotFound indicates the challenge ID is unknown or was
	// issued for a different purpose than it is being spent on.
	ErrChallengeNotFound = errors.New("challenge not found")

	// ErrChallengeExpired indicates the challenge lifetime elapsed before
	// a proof was presented.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrChallengeConsumed indicates the challenge was already spent.
	ErrChallengeConsumed = errors.New("challenge already consumed")

	// ErrInvalidProof indicates the presented nonce does not satisfy the
	// challenge difficulty.
	ErrInvalidProof = errors.New("invalid proof of work")

	// ErrInvalidName indicates the requested agent name fails validation.
	ErrInvalidName = errors.New("invalid agent name")

	// ErrNameTaken indicates the requested agent name is already in use,
	// including by deactivated agents.
	ErrNameTaken = errors.New("agent name already taken")

	// ErrUnauthorized indicates the presented API key does not match any
	// active agent.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenInvalid indicates the action token is unknown or belongs to
	// a different agent.
	ErrTokenInvalid = errors.New("invalid action token")

	// ErrTokenExpired indicates the action token lifetime elapsed before
	// it was spent.
	ErrTokenExpired = errors.New("action token expired")

	// ErrTokenAlreadyUsed indicates the action token was already spent.
	ErrTokenAlreadyUsed = errors.New("action token already used")
)

// RateLimitError reports a refused action together with the window that
// refused it, so callers can tell the agent when to come back.
type RateLimitError struct {
	Action     string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit %d, retry after %s)",
		e.Action, e.Limit, e.RetryAfter.Round(time.Second))
}

// IsRateLimited reports whether err is a rate limit refusal, returning
// the typed error when it is.
func IsRateLimited(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
