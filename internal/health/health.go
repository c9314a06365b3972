// Package health serves liveness, readiness and progress endpoints for a
// running extraction.
//
//   - /healthz  liveness; always 200 while the process serves HTTP.
//   - /readyz   200 only when every registered [Checker] passes.
//   - /progress JSON snapshot of the [Progress] counters.
//
// Check responses carry a top-level "status" ("ok" or "fail") and a "checks"
// map with the outcome of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Progress tracks how far the pipeline has got. The zero value is ready to
// use and all methods are safe for concurrent use.
type Progress struct {
	framesRead       atomic.Int64
	framesRecognized atomic.Int64
	splits           atomic.Int64
	runs             atomic.Int64
	done             atomic.Bool
}

// ProgressSnapshot is the JSON body of /progress.
type ProgressSnapshot struct {
	FramesRead       int64 `json:"frames_read"`
	FramesRecognized int64 `json:"frames_recognized"`
	Splits           int64 `json:"splits"`
	Runs             int64 `json:"runs"`
	Done             bool  `json:"done"`
}

func (p *Progress) FrameRead() { p.framesRead.Add(1) }
func (p *Progress) FrameRecognized() { p.framesRecognized.Add(1) }
func (p *Progress) Split() { p.splits.Add(1) }
func (p *Progress) SetRuns(n int) { p.runs.Store(int64(n)) }
func (p *Progress) Finish() { p.done.Store(true) }

// Snapshot returns the current counters.
func (p *Progress) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		FramesRead:       p.framesRead.Load(),
		FramesRecognized: p.framesRecognized.Load(),
		Splits:           p.splits.Load(),
		Runs:             p.runs.Load(),
		Done:             p.done.Load(),
	}
}

// Handler serves the health endpoints. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
	progress *Progress
}

// New creates a Handler. progress may be nil, in which case /progress
// reports zeros.
func New(progress *Progress, checkers ...Checker) *Handler {
	if progress == nil {
		progress = &Progress{}
	}
	return &Handler{checkers: append([]Checker(nil), checkers...), progress: progress}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker sequentially, each under its own timeout.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true
	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}
	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// ProgressHandler reports the pipeline counters.
func (h *Handler) ProgressHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.progress.Snapshot())
}

// Register adds the routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /progress", h.ProgressHandler)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
