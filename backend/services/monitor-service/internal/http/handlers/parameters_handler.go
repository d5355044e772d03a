package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"packmon/backend/libs/lineproto"
	"packmon/backend/services/monitor-service/internal/http/middleware"
	"packmon/backend/services/monitor-service/internal/service"
	"packmon/backend/services/monitor-service/internal/state"
)

// NewParametersHandler returns GET /api/parameters handler.
func NewParametersHandler(m Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Parameters())
	}
}

// NewSetParameterHandler handles PUT /api/parameters/{key}. The value may be
// sent as a JSON number or as text.
func NewSetParameterHandler(m Monitor, logger *zap.Logger) http.HandlerFunc {
	type request struct {
		Value json.RawMessage `json:"value"`
	}
	type response struct {
		Key        lineproto.ParamKey   `json:"key"`
		Value      float64              `json:"value"`
		Parameters lineproto.Parameters `json:"parameters"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		raw, ok := rawValue(req.Value)
		if !ok {
			writeError(w, http.StatusBadRequest, "value must be a number or a string")
			return
		}

		key, value, err := m.SetParameter(r.PathValue("key"), raw)
		if err != nil {
			switch {
			case errors.Is(err, lineproto.ErrUnknownParameter):
				writeError(w, http.StatusNotFound, err.Error())
			case errors.Is(err, state.ErrInvalidValue):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "failed to set parameter")
			}
			return
		}

		operator, _ := middleware.OperatorFromContext(r.Context())
		logger.Info("parameter updated", zap.String("key", string(key)), zap.Float64("value", value), zap.String("operator", operator))
		writeJSON(w, http.StatusOK, response{Key: key, Value: value, Parameters: m.Parameters()})
	}
}

func rawValue(msg json.RawMessage) (string, bool) {
	trimmed := strings.TrimSpace(string(msg))
	if trimmed == "" || trimmed == "null" {
		return "", false
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return "", false
		}
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(msg, &n); err != nil {
		return "", false
	}
	return n.String(), true
}

// NewCommitParametersHandler handles POST /api/parameters/commit.
func NewCommitParametersHandler(m Monitor, logger *zap.Logger) http.HandlerFunc {
	type response struct {
		Command string `json:"command"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		cmd, err := m.CommitParameters(r.Context())
		if err != nil {
			switch {
			case errors.Is(err, service.ErrNotConnected):
				writeError(w, http.StatusServiceUnavailable, "device is not connected")
			case errors.Is(err, state.ErrThresholdOrder):
				writeError(w, http.StatusUnprocessableEntity, err.Error())
			case errors.Is(err, service.ErrCommandFailed):
				writeError(w, http.StatusBadGateway, "failed to send command to device")
			default:
				writeError(w, http.StatusInternalServerError, "failed to commit parameters")
			}
			return
		}

		operator, _ := middleware.OperatorFromContext(r.Context())
		logger.Info("parameters committed", zap.String("operator", operator))
		writeJSON(w, http.StatusOK, response{Command: cmd})
	}
}
