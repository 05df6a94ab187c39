package catalog

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cast"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
)

// Handler exposes product queries and catalog sync commands.
type Handler struct {
	logger  *slog.Logger
	service *Service
	syncer  *Syncer
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, syncer *Syncer) *Handler {
	return &Handler{logger: logger, service: service, syncer: syncer}
}

// MountRoutes registers product routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listProducts)
	r.Get("/search", h.searchProducts)
	r.Get("/{id}", h.getProduct)
}

// MountSyncRoutes registers catalog sync routes.
func (h *Handler) MountSyncRoutes(r chi.Router) {
	r.Post("/sync", h.triggerSync)
	r.Get("/progress", h.progress)
	r.Post("/reset", h.reset)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.service.List(r.Context(), ListFilters{
		Page:     cast.ToInt(q.Get("page")),
		Limit:    cast.ToInt(q.Get("limit")),
		Search:   q.Get("search"),
		Category: q.Get("category"),
		SortBy:   q.Get("sort"),
		SortDir:  q.Get("dir"),
	})
	if err != nil {
		h.logger.Error("list products", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) searchProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	products, err := h.service.Search(r.Context(), q.Get("q"), cast.ToInt(q.Get("limit")))
	if err != nil {
		h.logger.Error("search products", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	started := h.syncer.Start(r.Context())
	status, err := h.syncer.Status(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"started": started, "status": status})
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	status, err := h.syncer.Status(r.Context())
	if err != nil {
		h.logger.Error("catalog progress", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	if err := h.syncer.Reset(r.Context()); err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
