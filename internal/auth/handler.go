package auth

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the session lifecycle.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate

	mu         sync.Mutex
	lastLogout *LogoutEvent
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	h := &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
	service.OnForceLogout(func(evt LogoutEvent) {
		h.mu.Lock()
		h.lastLogout = &evt
		h.mu.Unlock()
	})
	service.OnLogin(func(_ context.Context, _ Session) {
		h.mu.Lock()
		h.lastLogout = nil
		h.mu.Unlock()
	})
	return h
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/session", h.handleSession)
}

type sessionResponse struct {
	Authenticated bool         `json:"authenticated"`
	Session       *Session     `json:"session,omitempty"`
	ForcedLogout  *LogoutEvent `json:"forced_logout,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := httpx.DecodeJSON(r, &creds); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(creds); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sess, err := h.service.Login(r.Context(), creds)
	if err != nil {
		h.logger.Warn("login failed", slog.String("email", creds.Email), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sessionResponse{Authenticated: true, Session: &sess})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		h.logger.Error("logout", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok, err := h.service.Current(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := sessionResponse{Authenticated: ok}
	if ok {
		resp.Session = &sess
	}
	h.mu.Lock()
	resp.ForcedLogout = h.lastLogout
	h.mu.Unlock()
	httpx.JSON(w, http.StatusOK, resp)
}
