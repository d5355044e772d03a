package handlers

import "net/http"

// NewTelemetryHandler returns GET /api/telemetry handler.
func NewTelemetryHandler(m Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Snapshot())
	}
}

// NewStatusHandler returns GET /api/status handler.
func NewStatusHandler(m Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Status())
	}
}
