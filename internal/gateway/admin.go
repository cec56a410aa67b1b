package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/reset"
)

// resetRequest is the body of POST /api/reset.
type resetRequest struct {
	Scope    string            `json:"scope"`
	DryRun   bool              `json:"dry_run"`
	Force    bool              `json:"force"`
	Preserve map[string]string `json:"preserve,omitempty"`
}

// handleResetSummary previews a reset: GET /api/reset/summary?scope=ALL&user_id=alice.
// Query parameters other than scope become preserve filters.
func (g *Gateway) handleResetSummary() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		name := q.Get("scope")
		if name == "" {
			name = string(reset.ScopeAll)
		}
		scope, err := reset.ParseScope(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		preserve := memory.Filters{}
		for k := range q {
			if k != "scope" {
				preserve[k] = q.Get(k)
			}
		}
		if err := reset.ValidatePreserve(preserve); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, g.deps.Resetter.Summary(r.Context(), reset.Options{
			Scope:           scope,
			PreserveFilters: preserve,
		}))
	}
}

// handleReset executes a reset. There is no interactive confirmation over
// HTTP, so a destructive run requires force: true.
func (g *Gateway) handleReset() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resetRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		scope, err := reset.ParseScope(req.Scope)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !req.DryRun && !req.Force {
			http.Error(w, "reset requires force or dry_run", http.StatusBadRequest)
			return
		}
		if err := reset.ValidatePreserve(req.Preserve); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		g.logger.Warn("reset requested over http",
			"scope", scope,
			"dry_run", req.DryRun,
			"remote_addr", r.RemoteAddr,
		)
		rep := g.deps.Resetter.Reset(r.Context(), reset.Options{
			Scope:           scope,
			Force:           req.Force,
			DryRun:          req.DryRun,
			PreserveFilters: memory.Filters(req.Preserve),
		})
		code := http.StatusOK
		if !rep.Success {
			code = http.StatusInternalServerError
		}
		writeJSON(w, code, rep)
	}
}
