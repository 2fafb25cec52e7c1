package router

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lewatt23/smi.to/internal/handlers"
	"github.com/lewatt23/smi.to/internal/middleware"
)

// NewRouter создаёт и настраивает маршрутизатор
func NewRouter(handler *handlers.Handler, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.LoggingMiddleware(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.GzipMiddleware)

	r.Post("/", handler.ReceiveURL)
	r.Get("/ping", handler.PingDB)
	r.Get("/{code}", handler.ResponseURL)

	r.Route("/api", func(r chi.Router) {
		r.Post("/shorten", handler.ReceiveShorten)
		r.Get("/stats/{code}", handler.GetStats)
		r.Get("/links", handler.ListLinks)
		r.Delete("/links/{code}", handler.DeleteByCode)
		r.Delete("/links/id/{id}", handler.DeleteByID)
	})
	return r
}
