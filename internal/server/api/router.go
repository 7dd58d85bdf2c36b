package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dzintars-a/coldkeeper/internal/server/api/middleware"
)

// NewRouter builds the API routing table.
func NewRouter(h *Handlers, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Metrics())
	r.Use(middleware.RequestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/archive/runs", func(r chi.Router) {
			r.Post("/", h.StartArchive)
			r.Get("/{instanceID}", h.GetArchiveRun)
		})

		r.Post("/retrievals", h.StartRetrieval)
		r.Post("/approvals", h.HandleApproval)
		r.Post("/operations/{operationID}/veto-resolution", h.ResolveVeto)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Post("/preview", h.PreviewRule)
			r.Put("/{ruleID}", h.UpdateRule)
			r.Delete("/{ruleID}", h.DeleteRule)
		})

		r.Post("/tenants/{tenantID}/sites/{siteID}/sync", h.SyncSite)

		r.Route("/tenants/{tenantID}/settings", func(r chi.Router) {
			r.Get("/", h.GetSettings)
			r.Put("/", h.PutSettings)
		})
	})

	return r
}
