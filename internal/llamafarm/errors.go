package llamafarm

import (
	"fmt"
	"net/http"
)

// TransportError reports a failed round trip to the model server:
// either the request never got a response (Err set, StatusCode 0) or
// the server answered with a non-2xx status. Body holds the response
// text when there was one, so upstream failures are not hidden.
type TransportError struct {
	Op         string // e.g. "create project"
	Method     string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	msg := fmt.Sprintf("%s failed: %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += " - " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying network or decode error, if any.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// NotFound reports whether the server answered 404.
func (e *TransportError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Conflict reports whether the server answered 409, which is how it
// rejects creating a project that already exists.
func (e *TransportError) Conflict() bool {
	return e.StatusCode == http.StatusConflict
}
