package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wasel-ledger/wasel-ledger/internal/commission"
	"github.com/wasel-ledger/wasel-ledger/internal/ledger"
	"github.com/wasel-ledger/wasel-ledger/internal/observability"
	"github.com/wasel-ledger/wasel-ledger/internal/orders"
	"github.com/wasel-ledger/wasel-ledger/internal/remittance"
	"github.com/wasel-ledger/wasel-ledger/internal/statement"
	"github.com/wasel-ledger/wasel-ledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	OrdersHandler     *orders.Handler
	RemittanceHandler *remittance.Handler
	CommissionHandler *commission.Handler
	LedgerHandler     *ledger.Handler
	StatementHandler  *statement.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router.
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
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.OrdersHandler != nil {
			r.Route("/orders", params.OrdersHandler.MountRoutes)
		}
		if params.RemittanceHandler != nil {
			r.Route("/remittances", params.RemittanceHandler.MountRoutes)
		}
		if params.CommissionHandler != nil {
			r.Route("/commissions", params.CommissionHandler.MountRoutes)
		}
		if params.LedgerHandler != nil {
			r.Route("/ledger", params.LedgerHandler.MountRoutes)
		}
		if params.StatementHandler != nil {
			r.Route("/statements", params.StatementHandler.MountRoutes)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
