package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotAuthenticated is returned when no local user holds a session token.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSessionExpired signals that the remote API rejected the session token.
	ErrSessionExpired = errors.New("session expired")
	// ErrValidation wraps input validation failures.
	ErrValidation = errors.New("validation failed")
)
