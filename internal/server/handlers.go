package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if !s.health.Healthy() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":  status,
		"version": "1.0.0",
		"service": "pulse-valuation",
	})
}

// handleStatus reports per-component run history plus host resource usage.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":     "running",
		"components": s.health.Status(),
		"strategies": s.cfg.Strategies,
		"goroutines": runtime.NumGoroutine(),
	}

	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		response["cpu_percent"] = cpuPercent[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		response["memory"] = map[string]interface{}{
			"used_mb":      vm.Used / 1024 / 1024,
			"total_mb":     vm.Total / 1024 / 1024,
			"used_percent": vm.UsedPercent,
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleView returns one coherent snapshot of a strategy's documents.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	strategy, ok := s.strategyParam(w, r)
	if !ok {
		return
	}

	snap, err := s.reader.Load(r.Context(), strategy)
	if err != nil {
		s.log.Error().Err(err).Str("strategy", strategy).Msg("Failed to load view")
		s.writeError(w, http.StatusBadGateway, "failed to load strategy view")
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleHistory returns recent mirrored valuation records.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	strategy, ok := s.strategyParam(w, r)
	if !ok {
		return
	}

	limit := 500
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 10000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 10000")
			return
		}
		limit = n
	}

	records, err := s.history.Recent(r.Context(), strategy, limit)
	if err != nil {
		s.log.Error().Err(err).Str("strategy", strategy).Msg("Failed to query history")
		s.writeError(w, http.StatusInternalServerError, "failed to query history")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy": strategy,
		"records":  records,
	})
}

// handleSummary returns aggregate return statistics since a given time
// (default: the last 24 hours).
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	strategy, ok := s.strategyParam(w, r)
	if !ok {
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}

	summary, err := s.history.Summarize(r.Context(), strategy, since)
	if err != nil {
		s.log.Error().Err(err).Str("strategy", strategy).Msg("Failed to summarize history")
		s.writeError(w, http.StatusInternalServerError, "failed to summarize history")
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) strategyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	strategy := chi.URLParam(r, "strategy")
	if !slices.Contains(s.cfg.Strategies, strategy) {
		s.writeError(w, http.StatusNotFound, "unknown strategy")
		return "", false
	}
	return strategy, true
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
