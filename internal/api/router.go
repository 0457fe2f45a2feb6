/**
 * @description
 * HTTP router for the credit core using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new Chi router and registers the credit routes.
func NewRouter(h *Handler, jwtSecret string, internalKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Credit core is healthy"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Post("/draws", h.handleCreateDraw)
		r.Post("/draws/{id}/reject", h.handleRejectDraw)
		r.Post("/collateral/deposits/{id}/revalue", h.handleRevalueCollateral)
		r.Post("/jobs/billing/run", h.handleRunBilling)
		r.Post("/jobs/risk/run", h.handleRunRiskMonitor)
		r.Post("/jobs/liquidation/run", h.handleRunLiquidation)
		r.Get("/jobs/runs", h.handleListJobRuns)
		r.Get("/receivables", h.handleListReceivables)
		r.Get("/receivables/{id}", h.handleGetReceivable)
		r.Post("/receivables/{id}/settle", h.handleSettleReceivable)
	})

	r.Group(func(r chi.Router) {
		r.Use(ConsumerAuthMiddleware(jwtSecret))
		r.Post("/collateral/deposits", h.handleDepositCollateral)
		r.Post("/collateral/deposits/{id}/withdraw", h.handleWithdrawCollateral)
		r.Get("/accounts/me", h.handleGetAccount)
		r.Get("/accounts/me/invoices", h.handleListInvoices)
		r.Get("/accounts/me/transactions", h.handleListTransactions)
		r.Get("/draws/{id}", h.handleGetDraw)
		r.Post("/draws/{id}/approve", h.handleApproveDraw)
		r.Post("/invoices/{id}/repay", h.handleRepay)
	})

	return r
}
