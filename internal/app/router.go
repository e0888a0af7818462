package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/payments"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/proformas"
	"github.com/meridian-erp/meridian-erp/internal/quotations"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Pool             *pgxpool.Pool
	QuotationHandler *quotations.Handler
	ProformaHandler  *proformas.Handler
	PaymentHandler   *payments.Handler
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if params.Pool != nil {
			if err := params.Pool.Ping(ctx); err != nil {
				httpx.Fail(w, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "database unreachable")
				return
			}
		}
		httpx.OK(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		params.QuotationHandler.MountRoutes(r)
		params.ProformaHandler.MountRoutes(r)
		params.PaymentHandler.MountRoutes(r)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.Fail(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})

	return r
}
