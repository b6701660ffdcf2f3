package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// liveness responds with 200 OK if the HTTP server is running.
// It is used by Kubernetes to restart the pod if the process is deadlocked.
func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type probeResult struct {
	name string
	err  error
}

// readiness checks all registered dependencies in parallel.
// Returns 200 OK only if every checker passes. Used by Kubernetes to route traffic.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	// Enforce the configured timeout to ensure we respond to Kubernetes in time.
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	results := make(chan probeResult, len(s.checkers))
	for _, checker := range s.checkers {
		go func(c Checker) {
			results <- probeResult{name: c.Name(), err: c.Check(ctx)}
		}(checker)
	}

	statusMap := make(map[string]string, len(s.checkers))
	healthy := true

	for range s.checkers {
		res := <-results
		if res.err != nil {
			// Log as WARN to avoid alerting noise, as Kubernetes will retry.
			s.logger.Warn("health probe failed",
				slog.String("component", res.name),
				slog.String("error", res.err.Error()),
			)
			statusMap[res.name] = fmt.Sprintf("down: %v", res.err)
			healthy = false
		} else {
			statusMap[res.name] = "up"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	// The encoder error is ignored: the status code is already written and
	// the JSON body exists for human debugging only.
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": statusMap,
	})
}
