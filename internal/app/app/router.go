package app

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"metalink/internal/app/handler"
	middleware2 "metalink/internal/app/middleware"
	"net/http"
)

func (a *App) Router() http.Handler {
	metrics := middleware2.NewMetrics(a.registry)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware2.Log(a.logger))
	r.Use(metrics.Handler)

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		handler.WriteResponse(w, struct {
			Status string `json:"status"`
		}{"ok"}, http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	// api
	api := alice.New(
		middleware2.RateLimit(a.limiter),
		middleware2.Auth(a.session),
	)

	th := handler.NewTransactionHandler(a.transactions, a.syncer)
	ah := handler.NewAccountHandler(a.transactions)

	r.Route("/api", func(r chi.Router) {
		r.Use(api.Then)

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", th.List)
			r.Post("/", th.Create)
			r.Get("/{id}", th.Get)
		})
		r.Post("/transfers", th.Transfer)
		r.Post("/exchanges", th.Exchange)
		r.Get("/rates", ah.Rates)
		r.Get("/balance", ah.Balance)
		r.Get("/network", ah.Network)
	})

	return r
}
