package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"packmon/backend/services/monitor-service/internal/auth"
)

// NewLoginHandler handles POST /api/auth/login.
func NewLoginHandler(authenticator *auth.Authenticator) http.HandlerFunc {
	type request struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	type response struct {
		Token     string `json:"token"`
		TokenType string `json:"token_type"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "username and password are required")
			return
		}

		token, err := authenticator.Login(req.Username, req.Password)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				writeError(w, http.StatusUnauthorized, "invalid credentials")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to login")
			return
		}

		writeJSON(w, http.StatusOK, response{
			Token:     token,
			TokenType: "Bearer",
		})
	}
}
