package handlers

import (
	"context"
	"net/http"

	"github.com/opentranscribe/mpo/pkg/recovery"
)

// sweeper is satisfied by *recovery.Sweeper.
type sweeper interface {
	Sweep(ctx context.Context, opts *recovery.Options) recovery.Stats
}

// RecoveryHandler exposes a manual trigger for the reaper sweep (spec
// §4.8), for operators who don't want to wait for the next scheduled pass.
type RecoveryHandler struct {
	sweeper sweeper
}

// NewRecoveryHandler builds a RecoveryHandler.
func NewRecoveryHandler(s sweeper) *RecoveryHandler {
	return &RecoveryHandler{sweeper: s}
}

// TriggerRequest carries the only option a manual sweep accepts, dry_run;
// the sweep's windows are always recovery.Options' defaults.
type TriggerRequest struct {
	DryRun bool `json:"dry_run"`
}

// Trigger handles POST /internal/recovery/sweep. It runs synchronously and
// returns the resulting Stats — sweeps are bounded operations, not
// long-running jobs, so there's no need for an async job handle here.
func (h *RecoveryHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if r.ContentLength != 0 {
		if !decodeJSONBody(w, r, &req) {
			return
		}
	}

	stats := h.sweeper.Sweep(r.Context(), &recovery.Options{DryRun: req.DryRun})
	writeJSON(w, http.StatusOK, healthyResponse(stats))
}
