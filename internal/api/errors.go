package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrNotFound is matched by errors.Is for any 404 response.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the goal server.
type APIError struct {
	Status int
	Method string
	URL    string
	// Detail is the server's human-readable reason, if one could be decoded.
	Detail string
	// Body is the raw response payload.
	Body []byte
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Status, http.StatusText(e.Status))
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Diagnostic renders every detail of the failure for debug display.
func (e *APIError) Diagnostic() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %d %s\n", e.Status, http.StatusText(e.Status))
	if e.Detail != "" {
		fmt.Fprintf(&b, "Detail: %s\n", e.Detail)
	}
	fmt.Fprintf(&b, "Method: %s\n", e.Method)
	fmt.Fprintf(&b, "URL: %s\n", e.URL)
	if len(e.Body) > 0 {
		b.WriteString("Payload:\n")
		var pretty any
		if err := json.Unmarshal(e.Body, &pretty); err == nil {
			out, _ := json.MarshalIndent(pretty, "", "  ")
			b.Write(out)
		} else {
			b.Write(e.Body)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// newAPIError decodes the FastAPI style {"detail": ...} envelope when present.
// Validation errors carry a list under detail; their messages are joined.
func newAPIError(method, url string, status int, body []byte) *APIError {
	e := &APIError{Status: status, Method: method, URL: url, Body: body}

	var env struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return e
	}
	if env.Error != "" {
		e.Detail = env.Error
	}
	if len(env.Detail) == 0 {
		return e
	}

	var s string
	if err := json.Unmarshal(env.Detail, &s); err == nil {
		e.Detail = s
		return e
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(env.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		e.Detail = strings.Join(msgs, "; ")
	}
	return e
}

// IsTransient reports whether err is worth retrying: timeouts, refused or
// reset connections, 429 and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "eof")
}
