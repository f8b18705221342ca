package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sevigo/review-pipeline/internal/config"
	"github.com/sevigo/review-pipeline/internal/metrics"
	"github.com/sevigo/review-pipeline/internal/server/handler"
)

// NewRouter creates the HTTP router with middleware, the review API and
// the operational endpoints.
func NewRouter(cfg *config.Config, reviews handler.ReviewService, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1/reviews", func(r chi.Router) {
		reviewsHandler := handler.NewReviewsHandler(cfg, reviews, logger)
		r.Post("/", reviewsHandler.Submit)
		r.Get("/{id}", reviewsHandler.Status)
		r.Post("/{id}/cancel", reviewsHandler.Cancel)
	})

	return r
}
