package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"packmon/backend/services/monitor-service/internal/service"
)

const (
	defaultCommandsLimit = 20
	maxCommandsLimit     = 200
)

// NewCommandsHandler returns GET /api/commands handler.
func NewCommandsHandler(m Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultCommandsLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = min(n, maxCommandsLimit)
		}

		entries, err := m.RecentLog(r.Context(), limit)
		if err != nil {
			if errors.Is(err, service.ErrAuditDisabled) {
				writeError(w, http.StatusNotFound, "audit log is disabled")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to fetch commands")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"entries": entries,
		})
	}
}
