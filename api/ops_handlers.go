package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// hotPatchTimeout bounds a single hot patch run.
const hotPatchTimeout = 2 * time.Minute

// Status handles GET /status.
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	if a.prober == nil {
		mapError(w, errNotConfigured)
		return
	}
	status, err := a.prober.Status(r.Context())
	if err != nil {
		a.internalError(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HotPatch handles POST /hotpatch. It is reachable without a session only
// from loopback.
func (a *API) HotPatch(w http.ResponseWriter, r *http.Request) {
	if a.patcher == nil {
		mapError(w, errNotConfigured)
		return
	}
	clientIP := a.clientIP(r)
	ctx, cancel := context.WithTimeout(r.Context(), hotPatchTimeout)
	defer cancel()

	out, err := a.patcher.HotPatch(ctx)
	if err != nil {
		a.audit.logFailure(AuditHotPatch, r, clientIP, err.Error())
		a.logger.Error("hot patch failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, HotPatchResponse{Error: "hot patch failed", Output: out})
		return
	}
	a.audit.log(AuditHotPatch, r, clientIP, slog.Int("output_bytes", len(out)))
	writeJSON(w, http.StatusOK, HotPatchResponse{Success: true, Output: out})
}
