package masterdata

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tradeledger/tradeledger/internal/platform/httpx"
)

// Handler manages read-only supplier and customer endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers master data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/suppliers", h.list(KindSupplier))
	r.Get("/suppliers/{ref}", h.show(KindSupplier))
	r.Get("/customers", h.list(KindCustomer))
	r.Get("/customers/{ref}", h.show(KindCustomer))
}

func (h *Handler) list(kind PartyKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parties, err := h.service.List(r.Context(), kind)
		if err != nil {
			h.logger.Error("list parties", slog.String("kind", string(kind)), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		if parties == nil {
			parties = []Party{}
		}
		httpx.JSON(w, http.StatusOK, parties)
	}
}

func (h *Handler) show(kind PartyKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		party, err := h.service.Lookup(r.Context(), kind, chi.URLParam(r, "ref"))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
				return
			}
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, party)
	}
}
