package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthCheckTimeout bounds how long a dependency health probe may take
// before the liveness/readiness endpoints give up and report unhealthy.
const HealthCheckTimeout = 5 * time.Second

// pinger is satisfied by store.Store and broker.Broker, both of which
// expose a Healthcheck(ctx) error method; kept narrow and unexported so
// this package doesn't need to import either.
type pinger interface {
	Healthcheck(ctx context.Context) error
}

// HealthHandler serves the operator liveness/readiness probes (spec §4's
// operator surface: health/ready/metrics/recovery-trigger).
type HealthHandler struct {
	store  pinger
	broker pinger
}

// NewHealthHandler builds a HealthHandler. Either dependency may be nil, in
// which case readiness treats it as unhealthy.
func NewHealthHandler(store, broker pinger) *HealthHandler {
	return &HealthHandler{store: store, broker: broker}
}

// Liveness handles GET /health — always 200 once the process can serve
// HTTP, independent of any dependency's state.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{"service": "otx-orchestrator"}))
}

// DependencyHealth is the status of one checked dependency.
type DependencyHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// ReadinessResponse lists every dependency checked by Readiness.
type ReadinessResponse struct {
	Dependencies []DependencyHealth `json:"dependencies"`
}

// Readiness handles GET /health/ready — checks the metadata store and
// broker are both reachable, returning 503 if either is not.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
	defer cancel()

	resp := ReadinessResponse{}
	allHealthy := true

	resp.Dependencies = append(resp.Dependencies, h.check(ctx, "metadata_store", h.store))
	resp.Dependencies = append(resp.Dependencies, h.check(ctx, "broker", h.broker))
	for _, dep := range resp.Dependencies {
		if dep.Status != "healthy" {
			allHealthy = false
		}
	}

	if allHealthy {
		writeJSON(w, http.StatusOK, healthyResponse(resp))
	} else {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(resp))
	}
}

func (h *HealthHandler) check(ctx context.Context, name string, dep pinger) DependencyHealth {
	if dep == nil {
		return DependencyHealth{Name: name, Status: "unhealthy", Error: "not configured"}
	}
	start := time.Now()
	err := dep.Healthcheck(ctx)
	latency := time.Since(start).String()
	if err != nil {
		return DependencyHealth{Name: name, Status: "unhealthy", Error: err.Error(), Latency: latency}
	}
	return DependencyHealth{Name: name, Status: "healthy", Latency: latency}
}
