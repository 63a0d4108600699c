package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error kinds. An *APIError unwraps to exactly one of these, so callers
// dispatch with errors.Is instead of inspecting messages.
var (
	ErrAuth       = errors.New("authentication failed")
	ErrPermission = errors.New("permission denied")
	ErrRequest    = errors.New("request rejected")
	ErrServer     = errors.New("processing service error")
	ErrTransport  = errors.New("transport error")
)

// APIError is a classified failure of one remote operation.
type APIError struct {
	Op         string
	StatusCode int
	Attempts   int
	Message    string
	Err        error

	kind error
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.Op, e.kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	switch e.kind {
	case ErrServer:
		b.WriteString("; the remote processing service is temporarily unavailable, wait a few minutes and try again")
	case ErrPermission:
		b.WriteString("; check that the API key is allowed to use this tool and that credits remain")
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause.
func (e *APIError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.Err}
}

// Kind returns the error kind sentinel.
func (e *APIError) Kind() error { return e.kind }

// kindForStatus maps an HTTP status to an error kind. It is the only place
// where status codes are interpreted.
func kindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrAuth
	case status == http.StatusForbidden:
		return ErrPermission
	case status == http.StatusTooManyRequests, status >= 500:
		return ErrServer
	default:
		return ErrRequest
	}
}

func statusError(op string, status int, body []byte) *APIError {
	return &APIError{
		Op:         op,
		StatusCode: status,
		Message:    errorMessage(body),
		kind:       kindForStatus(status),
	}
}

func transportError(op string, err error) *APIError {
	return &APIError{Op: op, Err: err, kind: ErrTransport}
}

func authError(op string, err error) *APIError {
	return &APIError{Op: op, Err: err, kind: ErrAuth}
}

// retryable reports whether err is worth another attempt.
func retryable(err error) bool {
	return errors.Is(err, ErrServer) || errors.Is(err, ErrTransport)
}

// errorMessage pulls a human-readable message out of an error body.
func errorMessage(body []byte) string {
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) == 0 {
		return ""
	}
	var parsed struct {
		Error any    `json:"error"`
		Msg   string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		switch v := parsed.Error.(type) {
		case string:
			return v
		case map[string]any:
			if m, ok := v["message"].(string); ok {
				return m
			}
		}
		if parsed.Msg != "" {
			return parsed.Msg
		}
	}
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
