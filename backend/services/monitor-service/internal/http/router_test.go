package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"packmon/backend/libs/lineproto"
	"packmon/backend/services/monitor-service/internal/auth"
	httpserver "packmon/backend/services/monitor-service/internal/http"
	"packmon/backend/services/monitor-service/internal/http/handlers"
	"packmon/backend/services/monitor-service/internal/http/middleware"
	"packmon/backend/services/monitor-service/internal/repository"
	"packmon/backend/services/monitor-service/internal/service"
	"packmon/backend/services/monitor-service/internal/state"
)

type fakeMonitor struct {
	mu        sync.Mutex
	tel       *state.TelemetryStore
	params    *state.ParameterStore
	link      state.LinkSnapshot
	commitErr error
	commits   int
	log       []repository.LinkLogEntry
	logErr    error
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{
		tel:    state.NewTelemetryStore(4),
		params: state.NewParameterStore(lineproto.Parameters{}),
		link:   state.LinkSnapshot{State: state.StateConnected},
	}
}

func (f *fakeMonitor) Snapshot() state.Snapshot {
	return state.NewSnapshot("pack-1", f.tel.Read(), f.Status())
}

func (f *fakeMonitor) Status() state.LinkSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.link
}

func (f *fakeMonitor) Parameters() lineproto.Parameters { return f.params.Snapshot() }

func (f *fakeMonitor) SetParameter(key, raw string) (lineproto.ParamKey, float64, error) {
	return f.params.SetText(key, raw)
}

func (f *fakeMonitor) CommitParameters(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return "", f.commitErr
	}
	f.commits++
	return lineproto.EncodeParameters(f.params.Snapshot()), nil
}

func (f *fakeMonitor) RecentLog(_ context.Context, limit int) ([]repository.LinkLogEntry, error) {
	if f.logErr != nil {
		return nil, f.logErr
	}
	if limit < len(f.log) {
		return f.log[:limit], nil
	}
	return f.log, nil
}

func newRouter(m handlers.Monitor, authn *auth.Authenticator) http.Handler {
	logger := zap.NewNop()
	routes := httpserver.Routes{
		Health:           handlers.NewHealthHandler(),
		Telemetry:        handlers.NewTelemetryHandler(m),
		TelemetryStream:  handlers.NewStreamHandler(m, 5*time.Millisecond, logger),
		Status:           handlers.NewStatusHandler(m),
		Parameters:       handlers.NewParametersHandler(m),
		SetParameter:     handlers.NewSetParameterHandler(m, logger),
		CommitParameters: handlers.NewCommitParametersHandler(m, logger),
		Commands:         handlers.NewCommandsHandler(m),
	}
	if authn != nil {
		routes.Login = handlers.NewLoginHandler(authn)
		routes.RequireAuth = middleware.AuthMiddleware(authn.Tokens())
	}
	return httpserver.NewRouter(routes)
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), target))
}

func TestHealthAndMethodCheck(t *testing.T) {
	h := newRouter(newFakeMonitor(), nil)

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestTelemetryEndpoint(t *testing.T) {
	m := newFakeMonitor()
	m.tel.Apply(lineproto.NewParser(4).Parse("V=13.2,I=-2,SOC=80,C1=3.3,C2=3.31,C3=3.29,C4=3.3").Updates)
	h := newRouter(m, nil)

	rec := do(t, h, http.MethodGet, "/api/telemetry", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap state.Snapshot
	decode(t, rec, &snap)
	assert.Equal(t, "pack-1", snap.DeviceID)
	assert.Equal(t, 13.2, snap.Telemetry.PackVoltage)
	assert.Equal(t, 3.29, snap.Cells.Min)
	assert.Equal(t, 2, snap.Cells.MinIndex)
	assert.InDelta(t, -26.4, snap.PackPower, 1e-9)
	assert.Equal(t, state.StateConnected, snap.Link.State)

	rec = do(t, h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"connected"`)
}

func TestSetParameter(t *testing.T) {
	m := newFakeMonitor()
	h := newRouter(m, nil)

	rec := do(t, h, http.MethodPut, "/api/parameters/UV", `{"value":"2.8"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPut, "/api/parameters/over_voltage", `{"value":4.2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/parameters", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var params lineproto.Parameters
	decode(t, rec, &params)
	assert.Equal(t, lineproto.Parameters{UnderVoltage: 2.8, OverVoltage: 4.2}, params)
}

func TestSetParameterErrors(t *testing.T) {
	m := newFakeMonitor()
	h := newRouter(m, nil)

	tests := []struct {
		name string
		path string
		body string
		code int
	}{
		{name: "not a number", path: "/api/parameters/UV", body: `{"value":"abc"}`, code: http.StatusBadRequest},
		{name: "missing value", path: "/api/parameters/UV", body: `{}`, code: http.StatusBadRequest},
		{name: "bool value", path: "/api/parameters/UV", body: `{"value":true}`, code: http.StatusBadRequest},
		{name: "bad json", path: "/api/parameters/UV", body: `{`, code: http.StatusBadRequest},
		{name: "unknown key", path: "/api/parameters/SOC", body: `{"value":1}`, code: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
	assert.Equal(t, lineproto.Parameters{}, m.Parameters())
}

func TestCommitParameters(t *testing.T) {
	m := newFakeMonitor()
	h := newRouter(m, nil)
	_, _, _ = m.SetParameter("UV", "2.8")
	_, _, _ = m.SetParameter("OV", "4.2")
	_, _, _ = m.SetParameter("UC", "-50")
	_, _, _ = m.SetParameter("OC", "100")

	rec := do(t, h, http.MethodPost, "/api/parameters/commit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"command":"UV=2.8,OV=4.2,UC=-50,OC=100\n"}`, rec.Body.String())

	failures := []struct {
		err  error
		code int
	}{
		{err: service.ErrNotConnected, code: http.StatusServiceUnavailable},
		{err: service.ErrCommandFailed, code: http.StatusBadGateway},
		{err: state.ErrThresholdOrder, code: http.StatusUnprocessableEntity},
		{err: errors.New("something else"), code: http.StatusInternalServerError},
	}
	for _, f := range failures {
		m.mu.Lock()
		m.commitErr = f.err
		m.mu.Unlock()
		rec := do(t, h, http.MethodPost, "/api/parameters/commit", "")
		assert.Equal(t, f.code, rec.Code, f.err.Error())
	}

	rec = do(t, h, http.MethodGet, "/api/parameters/commit", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCommandsEndpoint(t *testing.T) {
	m := newFakeMonitor()
	m.log = []repository.LinkLogEntry{{ID: 2, Kind: repository.KindCommand}, {ID: 1, Kind: repository.KindSessionStart}}
	h := newRouter(m, nil)

	rec := do(t, h, http.MethodGet, "/api/commands?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Entries []repository.LinkLogEntry `json:"entries"`
	}
	decode(t, rec, &body)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, int64(2), body.Entries[0].ID)

	rec = do(t, h, http.MethodGet, "/api/commands?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	m.logErr = service.ErrAuditDisabled
	rec = do(t, h, http.MethodGet, "/api/commands", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWritesRequireOperatorToken(t *testing.T) {
	checker := auth.NewBcryptChecker(bcrypt.MinCost)
	hash, err := checker.Hash("hunter2")
	require.NoError(t, err)
	authn := auth.NewAuthenticator("alice", hash, checker, auth.NewTokenService("s3cret", time.Minute, "pack-1"))

	m := newFakeMonitor()
	h := newRouter(m, authn)

	rec := do(t, h, http.MethodPut, "/api/parameters/UV", `{"value":1}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/parameters/commit", "", "Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"hunter2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var login struct {
		Token     string `json:"token"`
		TokenType string `json:"token_type"`
	}
	decode(t, rec, &login)
	assert.Equal(t, "Bearer", login.TokenType)

	rec = do(t, h, http.MethodPut, "/api/parameters/UV", `{"value":1}`, "Authorization", "Bearer "+login.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/parameters/commit", "", "Authorization", "Bearer "+login.Token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/parameters", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTelemetryStreamPushesChanges(t *testing.T) {
	m := newFakeMonitor()
	srv := httptest.NewServer(newRouter(m, nil))
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/telemetry/stream", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first state.Snapshot
	require.NoError(t, conn.ReadJSON(&first))
	assert.Zero(t, first.Telemetry.Sequence)

	m.tel.Apply([]lineproto.Update{{Field: lineproto.FieldStateOfCharge, Value: 64}})

	var second state.Snapshot
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, uint64(1), second.Telemetry.Sequence)
	assert.Equal(t, 64.0, second.Telemetry.StateOfCharge)
}
