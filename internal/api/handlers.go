package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"routeworker/internal/buildinfo"
	"routeworker/internal/opt"
	"routeworker/internal/store"
)

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

// ReadyHandler checks the store and the broker connection.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if s.Store != nil {
		if err := s.Store.Ping(ctx); err != nil {
			writeProblem(w, r, 503, "Not Ready", "store: "+err.Error())
			return
		}
	}
	if s.Queue != nil {
		if err := s.Queue.Ping(ctx); err != nil {
			writeProblem(w, r, 503, "Not Ready", "queue: "+err.Error())
			return
		}
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}

func (s *Server) VersionHandler(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
	}
	if s.Config != nil {
		info["config"] = s.Config
	}
	writeJSON(w, 200, info)
}

// SolverConfigHandler serves GET /v1/admin/solver/config. With ?stops=N it also reports
// the generation budget a request of that size gets.
func (s *Server) SolverConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/solver/config" {
		writeProblem(w, r, 404, "Not Found", "")
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	out := map[string]any{"config": s.Solver}
	if v := r.URL.Query().Get("stops"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeProblem(w, r, 400, "Invalid stops", "stops must be a positive integer")
			return
		}
		out["stops"] = n
		out["generationBudget"] = s.Solver.GenerationBudget(n)
	}
	writeJSON(w, 200, out)
}

// SolveMetricsHandler lists stored solve records, newest first.
// Query: correlationId, cursor, limit.
func (s *Server) SolveMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/solve-metrics" || r.Method != http.MethodGet {
		writeProblem(w, r, 404, "Not Found", "")
		return
	}
	if s.Store == nil {
		writeProblem(w, r, 503, "Store unavailable", "")
		return
	}
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeProblem(w, r, 400, "Invalid limit", "")
			return
		}
		limit = n
	}
	items, next, err := s.Store.ListSolveRecords(r.Context(), q.Get("correlationId"), q.Get("cursor"), limit)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, r, 400, "Invalid cursor", "")
		return
	}
	if err != nil {
		writeProblem(w, r, 500, "List solve metrics failed", err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// SolveRunsHandler lists run ids held in memory, newest first.
func (s *Server) SolveRunsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ids := []string{}
	if s.Runs != nil {
		ids = s.Runs.Recent()
	}
	writeJSON(w, 200, map[string]any{"items": ids})
}

// SolveRunByIDHandler serves GET /v1/admin/solve-runs/{id}: the convergence detail of one
// recent run. includeHistory=false drops the per-generation series.
func (s *Server) SolveRunByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/admin/solve-runs/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, r, 404, "Not Found", "missing id")
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.Runs == nil {
		writeProblem(w, r, 404, "Not Found", "")
		return
	}
	m, ok := s.Runs.Get(id)
	if !ok {
		writeProblem(w, r, 404, "Not Found", "run not retained")
		return
	}
	includeHistory := true
	if v := r.URL.Query().Get("includeHistory"); strings.EqualFold(v, "false") || v == "0" {
		includeHistory = false
	}
	writeJSON(w, 200, runJSON(id, m, includeHistory))
}

func runJSON(id string, m opt.Metrics, includeHistory bool) map[string]any {
	snaps := make([]map[string]any, 0, len(m.Snapshots))
	for _, sn := range m.Snapshots {
		snaps = append(snaps, map[string]any{"generation": sn.Generation, "best": sn.Best, "mean": sn.Mean})
	}
	out := map[string]any{
		"runId":       id,
		"population":  m.Population,
		"seed":        m.Seed,
		"generations": m.Generations,
		"evaluations": m.Evaluations,
		"initialBest": m.InitialBest,
		"bestCost":    m.BestCost,
		"snapshots":   snaps,
		"elapsedMs":   m.Elapsed.Milliseconds(),
	}
	if includeHistory {
		out["bestHistory"] = m.BestHistory
	}
	return out
}
