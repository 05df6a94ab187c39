package remote

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/envelope"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/retry"
)

// NetworkErrorMarkers are the transient transport failures worth retrying,
// matched as substrings of the error message.
var NetworkErrorMarkers = []string{
	"i/o timeout",
	"Client.Timeout exceeded",
	"connection reset",
	"connection refused",
	"broken pipe",
	"EOF",
}

// maxMessageRunes bounds the server message kept on a StatusError.
const maxMessageRunes = 200

// StatusError is a non-2xx response.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: %s %s returned %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("remote: %s %s returned %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// IsAuth reports 401 or 403.
func (e *StatusError) IsAuth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

func newStatusError(method, path string, status int, body []byte) *StatusError {
	msg := ""
	if env, err := envelope.Decode(body); err == nil {
		msg = env.Message
		if msg == "" {
			msg = env.Error
		}
	}
	if utf8.RuneCountInString(msg) > maxMessageRunes {
		msg = string([]rune(msg)[:maxMessageRunes])
	}
	return &StatusError{Method: method, Path: path, Status: status, Message: msg}
}

// IsAuthError reports whether err carries a 401/403 response.
func IsAuthError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.IsAuth()
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// IsRetryable reports whether err is a transient transport failure. Status
// errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return false
	}
	msg := err.Error()
	for _, marker := range NetworkErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// AuthAware marks auth failures as permanent so they are never retried.
func AuthAware(opts retry.Options) retry.Options {
	opts.Permanent = IsAuthError
	return opts
}

// TransportOnly retries transient transport failures and nothing else. Any
// HTTP response, including a 5xx, is final.
func TransportOnly(opts retry.Options) retry.Options {
	opts.RetryableErrors = nil
	opts.Retryable = IsRetryable
	return AuthAware(opts)
}
