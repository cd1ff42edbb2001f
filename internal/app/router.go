package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crestline-dms/crestline/internal/budgets"
	"github.com/crestline-dms/crestline/internal/coa"
	"github.com/crestline-dms/crestline/internal/ledger"
	"github.com/crestline-dms/crestline/internal/observability"
	"github.com/crestline-dms/crestline/internal/periods"
	"github.com/crestline-dms/crestline/internal/taxcodes"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Metrics         *observability.Metrics
	AccountsHandler *coa.Handler
	PeriodsHandler  *periods.Handler
	JournalHandler  *ledger.Handler
	BudgetsHandler  *budgets.Handler
	TaxCodesHandler *taxcodes.Handler
	Pool            *pgxpool.Pool
}

// NewRouter wires middleware and module routes.
func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: p.Logger, Config: p.Config, Metrics: p.Metrics}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if p.Pool != nil {
			if err := p.Pool.Ping(req.Context()); err != nil {
				http.Error(w, "database unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/accounts", p.AccountsHandler.MountRoutes)
		api.Route("/periods", p.PeriodsHandler.MountRoutes)
		api.Route("/journal-entries", p.JournalHandler.MountRoutes)
		api.Route("/budgets", p.BudgetsHandler.MountRoutes)
		api.Route("/tax-codes", p.TaxCodesHandler.MountRoutes)
	})

	return r
}
