package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrInvalidInput is returned for missing or malformed request fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUserNotFound is returned when a user id or username does not resolve.
	ErrUserNotFound = errors.New("user not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrNoQuestions is returned when no question can be served at a difficulty.
	ErrNoQuestions = errors.New("no questions available")
	// ErrStateConflict signals a stale stateVersion; refetch and retry with the same idempotency key.
	ErrStateConflict = errors.New("state version conflict")
	// ErrUsernameTaken is returned by registration for an existing username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrDuplicateAnswer is returned by stores when the idempotency key was already committed.
	ErrDuplicateAnswer = errors.New("answer already recorded")
	// ErrAnswerNotFound is returned by answer log lookups that miss.
	ErrAnswerNotFound = errors.New("answer not found")
	// ErrCommitFailed wraps persistence failures of the atomic answer commit. Retryable.
	ErrCommitFailed = errors.New("answer commit failed")
	// ErrRateLimited matches any *RateLimitError via errors.Is.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// RateLimitError carries the instant after which the caller may retry.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Error codes exposed to API clients.
const (
	CodeInvalidInput = "INVALID_INPUT"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeRateLimited  = "RATE_LIMITED"
	CodeUnavailable  = "UNAVAILABLE"
	CodeInternal     = "INTERNAL"
)

// Code maps an error to its API code and HTTP status.
func Code(err error) (string, int) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput, http.StatusBadRequest
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrQuestionNotFound):
		return CodeNotFound, http.StatusNotFound
	case errors.Is(err, ErrStateConflict), errors.Is(err, ErrUsernameTaken):
		return CodeConflict, http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited, http.StatusTooManyRequests
	case errors.Is(err, ErrNoQuestions):
		return CodeUnavailable, http.StatusServiceUnavailable
	default:
		return CodeInternal, http.StatusInternalServerError
	}
}
