// ABOUTME: JSON error responses and the protocol error to HTTP status mapping
// ABOUTME: Rate limit refusals additionally carry Retry-After

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ddudl/agentgate/internal/auth"
)

type errorResponse struct {
	Error string `json:"error"`
}

// sendJSONError writes a JSON error response with the given status code.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message})
}

// sendProtocolError maps a protocol error to its HTTP status and writes
// it. Rate limit refusals get a Retry-After header.
func sendProtocolError(w http.ResponseWriter, err error) {
	if rle, ok := auth.IsRateLimited(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())))
		sendJSONError(w, http.StatusTooManyRequests,
			fmt.Sprintf("rate limit exceeded for %s", rle.Action))
		return
	}

	sendJSONError(w, statusForError(err), err.Error())
}

// statusForError maps the protocol error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidProof),
		errors.Is(err, auth.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrChallengeNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrChallengeConsumed),
		errors.Is(err, auth.ErrTokenAlreadyUsed),
		errors.Is(err, auth.ErrNameTaken):
		return http.StatusConflict
	case errors.Is(err, auth.ErrChallengeExpired),
		errors.Is(err, auth.ErrTokenExpired):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
