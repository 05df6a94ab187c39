package auth

import "time"

// User is a locally cached identity. The row holding a non-empty token is
// the active session.
type User struct {
	ID           string
	Username     string
	Email        string
	Name         string
	Token        string
	PasswordSalt string
	PasswordHash string
	RawResponse  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session is the resolved identity used to scope queries and authorize
// outbound requests.
type Session struct {
	UserID    string     `json:"user_id"`
	Email     string     `json:"email,omitempty"`
	Name      string     `json:"name,omitempty"`
	Token     string     `json:"-"`
	Offline   bool       `json:"offline"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CanCallRemote reports whether the token can authorize API calls.
func (s Session) CanCallRemote() bool {
	return s.Token != "" && !s.Offline
}

// Credentials are the login inputs.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// LogoutEvent is emitted when the remote API invalidates the session.
type LogoutEvent struct {
	UserID string    `json:"user_id"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}
