package api

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"scanbrain/internal/buildinfo"
)

// HealthHandler reports liveness.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": buildinfo.Version})
}

// ReadyHandler pings every readiness dependency.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	checks := map[string]string{}
	ok := true
	for name, p := range s.ready {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ok = false
			continue
		}
		checks[name] = "ok"
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ok, "checks": checks})
}

// DebugJSON reports build metadata and runtime counters.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	ready := make([]string, 0, len(s.ready))
	for name := range s.ready {
		ready = append(ready, name)
	}
	sort.Strings(ready)
	writeJSON(w, http.StatusOK, map[string]any{
		"build":      buildinfo.Info(),
		"time":       s.now().UTC().Format(time.RFC3339),
		"uptime":     s.now().Sub(s.started).Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
		"instances":  len(s.reg.Status(r.Context())),
		"devices":    len(s.devices.list()),
		"ready":      ready,
	})
}
