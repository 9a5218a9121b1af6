package httpserver

import (
	"net/http"

	"github.com/callanalyzer/tenantconfig/internal/health"
	"github.com/callanalyzer/tenantconfig/internal/version"
)

type statusBody struct {
	health.HealthStatus
	Version string `json:"version"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := health.HealthStatus{Status: health.StatusHealthy}
	if s.health != nil {
		status = s.health.Check(r.Context())
	}
	code := http.StatusOK
	if status.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, statusBody{HealthStatus: status, Version: version.Info()})
}
