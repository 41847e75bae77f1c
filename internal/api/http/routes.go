package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veranemoloko/batchdl/internal/validation"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

// NewRouter creates a new HTTP router with configured routes, middleware, and handlers.
// It sets up batch routes, health check, and Prometheus metrics endpoint.
func NewRouter(service BatchService, validator *validation.Validator, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	batchHandler := NewBatchHandler(service, validator, logger)

	r.Route("/batches", func(r chi.Router) {
		r.Post("/", batchHandler.CreateBatch)
		r.Get("/", batchHandler.ListBatches)
		r.Get("/{batchID}", batchHandler.GetBatch)
		r.Delete("/{batchID}", batchHandler.CancelBatch)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestID keeps an incoming request id or assigns a random UUID, and
// stores it where middleware.GetReqID finds it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
