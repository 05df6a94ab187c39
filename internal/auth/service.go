package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/envelope"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/remote"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/retry"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

const offlineTokenPrefix = "offline:"

var (
	tokenPaths = []string{"data.token", "token", "data.access_token", "access_token", "data.attributes.token"}
	userPaths  = []string{"data.user", "user", "data.attributes.user", "data"}
)

// API is the slice of the remote client used for login.
type API interface {
	PostJSON(ctx context.Context, path string, body any, token string, headers map[string]string) (*remote.Response, error)
}

// ServiceConfig tunes login behaviour.
type ServiceConfig struct {
	LoginPath string
	Retry     retry.Options
}

// Service resolves the active session and handles login, logout and forced logout.
type Service struct {
	repo      Repository
	api       API
	logger    *slog.Logger
	loginPath string
	retry     retry.Options

	mu       sync.Mutex
	onLogout []func(LogoutEvent)
	onLogin  []func(context.Context, Session)
}

// NewService constructs a new Service.
func NewService(repo Repository, api API, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = retry.Defaults()
	}
	return &Service{
		repo:      repo,
		api:       api,
		logger:    logger.With(slog.String("component", "auth")),
		loginPath: cfg.LoginPath,
		retry:     remote.TransportOnly(cfg.Retry),
	}
}

// OnForceLogout registers a listener for remote session invalidation.
func (s *Service) OnForceLogout(fn func(LogoutEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLogout = append(s.onLogout, fn)
}

// OnLogin registers a listener invoked after every successful login.
func (s *Service) OnLogin(fn func(context.Context, Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLogin = append(s.onLogin, fn)
}

// ============================================================================
// SESSION RESOLUTION
// ============================================================================

// Current resolves the active session from the users table on every call.
func (s *Service) Current(ctx context.Context) (Session, bool, error) {
	user, err := s.repo.FindActive(ctx)
	if errors.Is(err, shared.ErrNotFound) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("resolve session: %w", err)
	}
	return sessionFor(user), true, nil
}

// RequireSession returns the active session or ErrNotAuthenticated.
func (s *Service) RequireSession(ctx context.Context) (Session, error) {
	sess, ok, err := s.Current(ctx)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, shared.ErrNotAuthenticated
	}
	return sess, nil
}

// RequireUserID returns the current user id or ErrNotAuthenticated.
func (s *Service) RequireUserID(ctx context.Context) (string, error) {
	sess, err := s.RequireSession(ctx)
	if err != nil {
		return "", err
	}
	return sess.UserID, nil
}

// RequireToken returns a bearer token usable against the remote API. Offline
// sessions have none.
func (s *Service) RequireToken(ctx context.Context) (string, error) {
	sess, err := s.RequireSession(ctx)
	if err != nil {
		return "", err
	}
	if !sess.CanCallRemote() {
		return "", fmt.Errorf("%w: offline session cannot reach the server", shared.ErrNotAuthenticated)
	}
	return sess.Token, nil
}

// ============================================================================
// LOGIN / LOGOUT
// ============================================================================

// Login authenticates against the remote API and caches the credential for
// offline use. When the API is unreachable it falls back to the cached
// credential and yields an offline session.
func (s *Service) Login(ctx context.Context, creds Credentials) (Session, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	resp, err := retry.DoValue(ctx, s.retry, func(ctx context.Context) (*remote.Response, error) {
		return s.api.PostJSON(ctx, s.loginPath, map[string]string{"email": creds.Email, "password": creds.Password}, "", nil)
	})
	switch {
	case err == nil:
		return s.completeRemoteLogin(ctx, creds, resp)
	case remote.IsAuthError(err), remote.StatusCode(err) == http.StatusUnprocessableEntity:
		return Session{}, shared.ErrInvalidCredentials
	case remote.StatusCode(err) >= 400 && remote.StatusCode(err) < 500:
		return Session{}, fmt.Errorf("login rejected: %w", err)
	default:
		s.logger.Warn("remote login unavailable, trying cached credential", slog.Any("error", err))
		return s.loginOffline(ctx, creds, err)
	}
}

func (s *Service) completeRemoteLogin(ctx context.Context, creds Credentials, resp *remote.Response) (Session, error) {
	env, err := resp.Envelope()
	if err != nil {
		return Session{}, fmt.Errorf("login response: %w", err)
	}
	if env.Kind == envelope.KindFlagged && !env.Success {
		return Session{}, shared.ErrInvalidCredentials
	}
	token := envelope.Extract[string](env.Raw, tokenPaths...)
	if !token.OK || token.Value == "" {
		return Session{}, errors.New("login response carried no token")
	}
	record := envelope.Extract[map[string]any](env.Raw, userPaths...)

	user := User{Email: creds.Email, Token: token.Value}
	if record.OK {
		user.ID = envelope.ID(record.Value)
		user.Username = envelope.String(record.Value, "", "username", "user_name")
		user.Name = envelope.String(record.Value, "", "name", "first_name")
		user.Email = envelope.String(record.Value, creds.Email, "email")
		if raw, err := json.Marshal(record.Value); err == nil {
			user.RawResponse = string(raw)
		}
	}
	if user.ID == "" {
		user.ID = strings.ToLower(user.Email)
	}

	user.PasswordSalt = uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(user.PasswordSalt+creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash credential: %w", err)
	}
	user.PasswordHash = string(hash)

	if err := s.repo.SaveLogin(ctx, user); err != nil {
		return Session{}, fmt.Errorf("save login: %w", err)
	}
	sess := sessionFor(&user)
	s.logger.Info("login succeeded", slog.String("user_id", sess.UserID))
	s.notifyLogin(ctx, sess)
	return sess, nil
}

func (s *Service) loginOffline(ctx context.Context, creds Credentials, cause error) (Session, error) {
	user, err := s.repo.FindByEmail(ctx, creds.Email)
	if errors.Is(err, shared.ErrNotFound) || (err == nil && user.PasswordHash == "") {
		return Session{}, fmt.Errorf("server unreachable and no cached credential: %w", cause)
	}
	if err != nil {
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(user.PasswordSalt+creds.Password)); err != nil {
		return Session{}, shared.ErrInvalidCredentials
	}
	token := offlineTokenPrefix + uuid.NewString()
	if err := s.repo.SetToken(ctx, user.ID, token); err != nil {
		return Session{}, fmt.Errorf("activate offline session: %w", err)
	}
	user.Token = token
	sess := sessionFor(user)
	s.logger.Info("offline login succeeded", slog.String("user_id", sess.UserID))
	s.notifyLogin(ctx, sess)
	return sess, nil
}

// Logout ends the active session, if any.
func (s *Service) Logout(ctx context.Context) error {
	sess, ok, err := s.Current(ctx)
	if err != nil || !ok {
		return err
	}
	return s.repo.ClearToken(ctx, sess.UserID)
}

// ForceLogout clears the token after the server rejected it and notifies
// listeners. It emits nothing when no session is active.
func (s *Service) ForceLogout(ctx context.Context, reason string) error {
	sess, ok, err := s.Current(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := s.repo.ClearToken(ctx, sess.UserID); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	s.logger.Warn("session invalidated by server", slog.String("user_id", sess.UserID), slog.String("reason", reason))

	evt := LogoutEvent{UserID: sess.UserID, Reason: reason, At: time.Now().UTC()}
	s.mu.Lock()
	listeners := append([]func(LogoutEvent){}, s.onLogout...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(evt)
	}
	return nil
}

func (s *Service) notifyLogin(ctx context.Context, sess Session) {
	s.mu.Lock()
	listeners := append([]func(context.Context, Session){}, s.onLogin...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(ctx, sess)
	}
}

func sessionFor(u *User) Session {
	sess := Session{UserID: u.ID, Email: u.Email, Name: u.Name, Token: u.Token}
	if strings.HasPrefix(u.Token, offlineTokenPrefix) {
		sess.Offline = true
		return sess
	}
	sess.ExpiresAt = tokenExpiry(u.Token)
	return sess
}

// tokenExpiry reads exp from JWT bearer tokens. Opaque tokens yield nil.
func tokenExpiry(token string) *time.Time {
	if strings.Count(token, ".") != 2 {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.Time.UTC()
	return &t
}
