package songrequest

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel error kinds for the lifecycle service. Handlers map these to HTTP
// status codes with HTTPStatus; internal callers test with errors.Is.
var (
	// ErrValidation marks malformed input (empty id set, unknown decision).
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized marks a missing, invalid, or unrefreshable owner credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound marks a track id the catalog could not resolve.
	ErrNotFound = errors.New("not found")
	// ErrUpstream marks a failed call to Spotify beyond our control.
	ErrUpstream = errors.New("upstream failure")
	// ErrStorage marks an unavailable or failing persistence layer.
	ErrStorage = errors.New("storage failure")
	// ErrConflict marks an illegal state transition on a terminal request.
	ErrConflict = errors.New("conflict")
)

// HTTPStatus maps a lifecycle error to its response status code.
// Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUpstream), errors.Is(err, ErrStorage):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}
