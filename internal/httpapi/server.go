package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chred/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Status(ctx context.Context) (types.StatusResponse, error)
	DebugDump(ctx context.Context) (string, error)
	Ready() bool
	Subscribe(buffer int) (string, <-chan types.EventRecord, func())
}

// NewMux builds the HTTP API router over svc.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(AccessLog)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(InflightMiddleware)
		r.Use(middleware.Compress(5))

		r.Get("/status", handleStatus(svc))
		r.Get("/debug/dump", handleDebugDump(svc))
	})

	r.Get("/events", serveEvents(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("starting"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// handleStatus godoc
// @Summary      Runtime status
// @Description  Snapshot of the event loop, timers, nanoapps and WiFi manager, taken on the loop goroutine.
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Failure      503  {object}  types.ErrorResponse
// @Failure      504  {object}  types.ErrorResponse
// @Router       /status [get]
func handleStatus(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), dumpTimeout)
		defer cancel()
		st, err := svc.Status(ctx)
		if err != nil {
			writeJSONError(w, statusForError(err), err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(st); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	}
}

// handleDebugDump godoc
// @Summary      Debug dump
// @Description  Human-readable state dump, including the WiFi transition queue.
// @Produce      plain
// @Success      200  {string}  string
// @Failure      503  {object}  types.ErrorResponse
// @Failure      504  {object}  types.ErrorResponse
// @Router       /debug/dump [get]
func handleDebugDump(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), dumpTimeout)
		defer cancel()
		dump, err := svc.DebugDump(ctx)
		if err != nil {
			writeJSONError(w, statusForError(err), err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(dump))
	}
}
