package app

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"packmon/backend/libs/lineproto"
	"packmon/backend/services/pack-simulator/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		TCP:  config.TCPConfig{Addr: "127.0.0.1:0"},
		HTTP: config.HTTPConfig{Port: "127.0.0.1:0"},
		Pack: config.PackConfig{Cells: 4, Interval: 10 * time.Millisecond, Fragment: true, Seed: 9},
	}
}

func TestAppServesTelemetryAndHealth(t *testing.T) {
	a, err := New(testConfig(), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	conn, err := net.Dial("tcp", a.TCPAddr())
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Len(t, lineproto.NewParser(4).Parse(line).Updates, 8)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 4, body.Cells)
	assert.Equal(t, 1, body.Clients)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
