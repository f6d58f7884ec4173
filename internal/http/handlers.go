package http

import (
	"context"
	"net/http"
	"time"

	"paytrack/internal/log"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	traffic := s.trace.GetMetrics()
	limits := s.limiter.Stats()
	threats := s.detector.GetMetrics()

	NewJSONResponse().Body(map[string]any{
		"status":        "ok",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"uptime":        time.Since(s.started).Round(time.Second).String(),
		"requests":      traffic.TotalRequests,
		"server_errors": traffic.ServerErrors,
		"rate_limited":  limits.Rejected,
		"rate_failures": limits.CounterErrors,
		"blocked":       threats.BlockedRequests,
	}).Write(w)
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.svc.Ready(ctx); err != nil {
			log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
			NewJSONResponse().
				Status(http.StatusServiceUnavailable).
				Body(map[string]string{"status": "not_ready", "error": err.Error()}).
				Write(w)
			return
		}
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}
