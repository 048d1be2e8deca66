package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a non-2xx response from the data service. Callers can use
// errors.As to inspect it:
//
//	var remoteErr *remote.Error
//	if errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusNotFound { ... }
type Error struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote: %s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the data service.
func IsNotFound(err error) bool {
	var remoteErr *Error
	return errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409 from the data service.
func IsConflict(err error) bool {
	var remoteErr *Error
	return errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusConflict
}
