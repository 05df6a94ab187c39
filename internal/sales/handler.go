package sales

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Handler manages sale and hold endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers sale routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createSale)
	r.Get("/", h.listSales)
	r.Get("/pending", h.listPending)
	r.Get("/unsynced-count", h.unsyncedCount)
	r.Post("/sync", h.syncSales)
	r.Get("/{id}", h.showSale)
}

// MountHoldRoutes registers hold routes.
func (h *Handler) MountHoldRoutes(r chi.Router) {
	r.Post("/", h.createHold)
	r.Get("/", h.listHolds)
	r.Post("/{id}/load", h.loadHold)
	r.Delete("/{id}", h.deleteHold)
}

// ============================================================================
// SALES
// ============================================================================

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	sale, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.respondError(w, "create sale", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	sales, err := h.service.ListByDateRange(r.Context(), from, to)
	if err != nil {
		h.respondError(w, "list sales", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	sales, err := h.service.ListPending(r.Context())
	if err != nil {
		h.respondError(w, "list pending sales", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (h *Handler) unsyncedCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.UnsyncedCount(r.Context())
	if err != nil {
		h.respondError(w, "count unsynced sales", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) syncSales(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.SyncPending(r.Context())
	if err != nil {
		h.respondError(w, "sync sales", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) showSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "show sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

// ============================================================================
// HOLDS
// ============================================================================

func (h *Handler) createHold(w http.ResponseWriter, r *http.Request) {
	var req CreateHoldRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	hold, err := h.service.CreateHold(r.Context(), req)
	if err != nil {
		h.respondError(w, "create hold", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, hold)
}

func (h *Handler) listHolds(w http.ResponseWriter, r *http.Request) {
	holds, err := h.service.ListHolds(r.Context())
	if err != nil {
		h.respondError(w, "list holds", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"holds": holds})
}

func (h *Handler) loadHold(w http.ResponseWriter, r *http.Request) {
	hold, err := h.service.LoadHold(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "load hold", err)
		return
	}
	httpx.JSON(w, http.StatusOK, hold)
}

func (h *Handler) deleteHold(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteHold(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, "delete hold", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrInvalidStatus):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
		return
	case !httpx.IsClientError(err):
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// parseRange reads from/to as dates (to inclusive) or RFC3339 instants.
// Both default to today.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	today := time.Now().Format(time.DateOnly)
	from, _, err := parseBound(defaultIfEmpty(q.Get("from"), today))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, dateOnly, err := parseBound(defaultIfEmpty(q.Get("to"), today))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if dateOnly {
		to = to.AddDate(0, 0, 1)
	}
	return from, to, nil
}

func parseBound(v string) (time.Time, bool, error) {
	if t, err := time.ParseInLocation(time.DateOnly, v, time.Local); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, errors.Join(shared.ErrValidation, err)
	}
	return t, false, nil
}

func defaultIfEmpty(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
