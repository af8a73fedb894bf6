package main

import (
	"log/slog"
	"net/http"

	"github.com/andr-235/fullstack-parser-sub002/internal/api"
	apiMiddleware "github.com/andr-235/fullstack-parser-sub002/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (app *application) setupRouter() http.Handler {
	handler := api.NewCollectionHandler(app.orchestrator, app.manager)
	return newRouter(handler, app.registry, app.logger)
}

// newRouter mounts the collection API and the metrics endpoint.
func newRouter(handler *api.CollectionHandler, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware(logger))

	handler.Routes(r)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError}))

	return r
}
