package registry

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnavailable means the registry could not be reached or answered with a 5xx
	ErrUnavailable = errors.New("registry unavailable")
	// ErrRejected means the registry answered with a 4xx
	ErrRejected = errors.New("registry rejected request")
	// ErrNotFound means the requested photo does not exist
	ErrNotFound = errors.New("photo not found")
)

// Error is a non-2xx answer from the registry
type Error struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("registry error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("registry error: %s", e.Status)
}

// Is maps the status code onto the package sentinels
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrRejected:
		return e.StatusCode >= 400 && e.StatusCode < 500
	case ErrUnavailable:
		return e.StatusCode >= 500
	}
	return false
}
