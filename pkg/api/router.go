package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opentranscribe/mpo/internal/logger"
	"github.com/opentranscribe/mpo/pkg/api/auth"
	"github.com/opentranscribe/mpo/pkg/api/handlers"
	apiMiddleware "github.com/opentranscribe/mpo/pkg/api/middleware"
	"github.com/opentranscribe/mpo/pkg/recovery"
)

// healthChecker is satisfied by store.Store and broker.Broker.
type healthChecker interface {
	Healthcheck(ctx context.Context) error
}

// sweeper is satisfied by *recovery.Sweeper.
type sweeper interface {
	Sweep(ctx context.Context, opts *recovery.Options) recovery.Stats
}

// fileDeleter is satisfied by *ingest.Coordinator.
type fileDeleter interface {
	DeleteFile(ctx context.Context, fileID string) error
}

// Deps wires the internal operator API to the orchestrator's components.
// Store and Broker may be nil; the readiness probe then reports that
// dependency as unconfigured. Sweeper and Files are called unconditionally
// by their routes. A nil Verifier leaves the recovery and delete routes
// unauthenticated.
type Deps struct {
	Store    healthChecker
	Broker   healthChecker
	Sweeper  sweeper
	Files    fileDeleter
	Verifier *auth.Verifier
}

// NewRouter builds the internal operator HTTP surface: liveness/readiness
// probes, Prometheus metrics, a recovery-sweep trigger, and a file delete,
// the last two authenticated when a Verifier is configured. This is deliberately not a public REST API
// — end-user access to media files, transcripts, or search happens through
// other means out of scope here (spec: "the HTTP/REST surface ... a thin
// façade over the orchestrator" is an external collaborator's concern);
// this surface exists for operators and orchestration tooling only.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Broker)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/internal/recovery", func(r chi.Router) {
		if deps.Verifier != nil {
			r.Use(apiMiddleware.OperatorAuth(deps.Verifier))
		}
		recoveryHandler := handlers.NewRecoveryHandler(deps.Sweeper)
		r.Post("/sweep", recoveryHandler.Trigger)
	})

	r.Route("/internal/files", func(r chi.Router) {
		if deps.Verifier != nil {
			r.Use(apiMiddleware.OperatorAuth(deps.Verifier))
		}
		fileHandler := handlers.NewFileHandler(deps.Files)
		r.Delete("/{id}", fileHandler.Delete)
	})

	return r
}

// requestLogger logs requests using the internal logger: request start at
// Debug, completion (with status and duration) at Info.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
