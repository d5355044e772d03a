package httpserver

import "net/http"

// Routes groups handlers.
type Routes struct {
	Health           http.HandlerFunc
	Telemetry        http.HandlerFunc
	TelemetryStream  http.HandlerFunc
	Status           http.HandlerFunc
	Parameters       http.HandlerFunc
	SetParameter     http.HandlerFunc
	CommitParameters http.HandlerFunc
	Commands         http.HandlerFunc
	Login            http.HandlerFunc

	// RequireAuth wraps operator write endpoints when set.
	RequireAuth func(http.Handler) http.Handler
}

// NewRouter registers endpoints.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	protect := func(h http.HandlerFunc) http.Handler {
		if routes.RequireAuth == nil {
			return h
		}
		return routes.RequireAuth(h)
	}

	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	if routes.Telemetry != nil {
		mux.Handle("/api/telemetry", method(http.MethodGet, routes.Telemetry))
	}
	if routes.TelemetryStream != nil {
		mux.Handle("/api/telemetry/stream", method(http.MethodGet, routes.TelemetryStream))
	}
	if routes.Status != nil {
		mux.Handle("/api/status", method(http.MethodGet, routes.Status))
	}
	if routes.Parameters != nil {
		mux.Handle("/api/parameters", method(http.MethodGet, routes.Parameters))
	}
	if routes.SetParameter != nil {
		mux.Handle("/api/parameters/{key}", method(http.MethodPut, protect(routes.SetParameter).ServeHTTP))
	}
	if routes.CommitParameters != nil {
		mux.Handle("/api/parameters/commit", method(http.MethodPost, protect(routes.CommitParameters).ServeHTTP))
	}
	if routes.Commands != nil {
		mux.Handle("/api/commands", method(http.MethodGet, routes.Commands))
	}
	if routes.Login != nil {
		mux.Handle("/api/auth/login", method(http.MethodPost, routes.Login))
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
