package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"packmon/backend/services/monitor-service/internal/state"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamPingInterval = 30 * time.Second
	streamPongWait     = 60 * time.Second
)

// NewStreamHandler handles GET /api/telemetry/stream. It upgrades to a
// WebSocket and pushes the snapshot whenever telemetry or link state changes,
// checking every interval.
func NewStreamHandler(m Monitor, interval time.Duration, logger *zap.Logger) http.HandlerFunc {
	if interval <= 0 {
		interval = time.Second
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		closed := make(chan struct{})
		go readPump(conn, closed)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		ping := time.NewTicker(streamPingInterval)
		defer ping.Stop()

		var (
			lastSeq   uint64
			lastState state.ConnState
			sent      bool
		)
		push := func() error {
			snap := m.Snapshot()
			if sent && snap.Telemetry.Sequence == lastSeq && snap.Link.State == lastState {
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				return err
			}
			lastSeq, lastState, sent = snap.Telemetry.Sequence, snap.Link.State, true
			return nil
		}

		if err := push(); err != nil {
			return
		}
		for {
			select {
			case <-r.Context().Done():
				return
			case <-closed:
				return
			case <-ticker.C:
				if err := push(); err != nil {
					logger.Debug("telemetry stream closed", zap.Error(err))
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
					return
				}
			}
		}
	}
}

// readPump drains client frames so control messages are processed, and
// reports when the client goes away.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
