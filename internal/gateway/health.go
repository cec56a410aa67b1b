package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/flemzord/memsync/internal/resilience"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status   string                     `json:"status"` // "ok" or "degraded"
	Breakers []resilience.BreakerStatus `json:"breakers"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 unless a breaker is OPEN, then 503. HALF_OPEN counts as healthy:
// the breaker is already admitting a trial call.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok", Breakers: g.breakerStatuses()}
		for _, b := range resp.Breakers {
			if b.State == resilience.StateOpen {
				resp.Status = "degraded"
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "degraded" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (g *Gateway) breakerStatuses() []resilience.BreakerStatus {
	out := make([]resilience.BreakerStatus, 0, len(g.deps.Breakers))
	for _, b := range g.deps.Breakers {
		if b != nil {
			out = append(out, b.Status())
		}
	}
	return out
}
