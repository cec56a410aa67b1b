package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/flemzord/memsync/internal/reset"
	"github.com/flemzord/memsync/internal/resilience"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime   float64                    `json:"uptime_seconds"`
	Breakers []resilience.BreakerStatus `json:"breakers"`
	Stores   *reset.Summary             `json:"stores,omitempty"`
}

// handleStatus returns an http.HandlerFunc for GET /status. Store counts come
// from a full-scope reset summary, which never fails.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Uptime:   g.now().Sub(g.startedAt).Truncate(time.Second).Seconds(),
			Breakers: g.breakerStatuses(),
		}
		if g.deps.Resetter != nil {
			s := g.deps.Resetter.Summary(r.Context(), reset.Options{Scope: reset.ScopeAll})
			resp.Stores = &s
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
