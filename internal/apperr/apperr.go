// Package apperr defines the error taxonomy shared by the session, dialogue
// and report services. Callers match with errors.Is against the sentinels.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks malformed or missing input. Returned before any
	// side effect.
	ErrValidation = errors.New("validation error")

	// ErrNotFoundOrForbidden collapses "does not exist" and "not yours".
	ErrNotFoundOrForbidden = errors.New("not found")

	// ErrStaleRound marks an answer submitted against a round that has
	// already advanced.
	ErrStaleRound = errors.New("stale round")

	// ErrCollaborator marks a failed or timed-out external model call.
	ErrCollaborator = errors.New("collaborator error")

	// ErrSessionNotReady marks a report request for a session that has not
	// completed yet.
	ErrSessionNotReady = errors.New("session not ready")

	// ErrInternal marks storage or infrastructure failures.
	ErrInternal = errors.New("internal error")
)

// Validation returns an ErrValidation with a caller-facing message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns an ErrNotFoundOrForbidden naming the resource kind.
func NotFound(kind string) error {
	return fmt.Errorf("%w: %s", ErrNotFoundOrForbidden, kind)
}

// NotReady returns an ErrSessionNotReady for the given session status.
func NotReady(status string) error {
	return fmt.Errorf("%w: session is %s", ErrSessionNotReady, status)
}

// Collaborator wraps an external model failure.
func Collaborator(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCollaborator, name, err)
}

// Internal wraps a storage or infrastructure failure. The wrapped error is
// kept for logs; HTTPStatus callers show only a generic message.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInternal) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}

// StaleRoundError reports the round the client expected and the round the
// session is actually on.
type StaleRoundError struct {
	Expected int
	Actual   int
}

func (e *StaleRoundError) Error() string {
	return fmt.Sprintf("stale round: expected %d, session is on round %d", e.Expected, e.Actual)
}

func (e *StaleRoundError) Is(target error) bool { return target == ErrStaleRound }

// Classify maps an error to an HTTP status and a stable machine-readable
// code. Unknown errors classify as internal.
func Classify(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, ErrNotFoundOrForbidden):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrStaleRound):
		return http.StatusConflict, "stale_round"
	case errors.Is(err, ErrSessionNotReady):
		return http.StatusConflict, "session_not_ready"
	case errors.Is(err, ErrCollaborator):
		return http.StatusBadGateway, "collaborator_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// PublicMessage returns the message safe to show an end user. Internal
// failures never leak their cause.
func PublicMessage(err error) string {
	status, _ := Classify(err)
	if status >= http.StatusInternalServerError {
		return "something went wrong, please try again later"
	}
	return err.Error()
}
