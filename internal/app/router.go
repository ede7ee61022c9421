package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tradeledger/tradeledger/internal/billing"
	"github.com/tradeledger/tradeledger/internal/inventory"
	"github.com/tradeledger/tradeledger/internal/masterdata"
	"github.com/tradeledger/tradeledger/internal/observability"
	"github.com/tradeledger/tradeledger/internal/platform/httpx"
	"github.com/tradeledger/tradeledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	BillingHandler    *billing.Handler
	InventoryHandler  *inventory.Handler
	MasterDataHandler *masterdata.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if params.BillingHandler != nil {
		r.Route("/bills", params.BillingHandler.MountRoutes)
	}
	if params.InventoryHandler != nil {
		r.Route("/stock", params.InventoryHandler.MountRoutes)
	}
	if params.MasterDataHandler != nil {
		params.MasterDataHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method)
	})

	return r
}
