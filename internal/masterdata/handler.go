package masterdata

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
)

// Handler exposes cached reference data and refresh commands.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reference routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listDatasets)
	r.Post("/fetch", h.fetchAll)
	r.Get("/{name}", h.getDataset)
	r.Post("/{name}/fetch", h.fetchDataset)
}

func (h *Handler) listDatasets(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"datasets": h.service.Names()})
}

func (h *Handler) getDataset(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) fetchDataset(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Fetch(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.logger.Warn("reference fetch", slog.String("dataset", chi.URLParam(r, "name")), slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) fetchAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.FetchAll(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrUnknownDataset) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	if httpx.IsClientError(err) {
		httpx.RespondError(w, err)
		return
	}
	httpx.Problem(w, http.StatusBadGateway, "Upstream Error", err.Error())
}
