package simulator

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"packmon/backend/libs/lineproto"
)

// Options configure Server.
type Options struct {
	Interval     time.Duration
	Fragment     bool
	WriteTimeout time.Duration
	Seed         int64
}

// Server streams pack telemetry to every connected monitor and applies the
// parameter commands they send.
type Server struct {
	pack   *Pack
	opts   Options
	logger *zap.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]struct{}
	rng     *rand.Rand
}

// NewServer builds Server.
func NewServer(pack *Pack, opts Options, logger *zap.Logger) *Server {
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	return &Server{
		pack:   pack,
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[string]struct{}),
		rng:     rand.New(rand.NewSource(opts.Seed)),
	}
}

// Clients returns the number of connected monitors.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeTCP accepts monitor connections on ln until ctx is cancelled.
func (s *Server) ServeTCP(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.logger.Info("tcp listener started", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.serve(ctx, conn.RemoteAddr().String(), &streamConn{conn: conn, writeTimeout: s.opts.WriteTimeout})
	}
}

// HandleWS is HTTP handler for the WebSocket endpoint.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	s.serve(r.Context(), r.RemoteAddr, &wsConn{conn: conn, writeTimeout: s.opts.WriteTimeout})
}

func (s *Server) serve(ctx context.Context, name string, c clientConn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.Close()

	s.track(name, true)
	defer s.track(name, false)
	s.logger.Info("monitor connected", zap.String("client", name))

	go func() {
		defer cancel()
		err := c.ReadLines(func(line string) { s.handleCommand(name, line) })
		if err != nil && ctx.Err() == nil {
			s.logger.Debug("client read ended", zap.String("client", name), zap.Error(err))
		}
	}()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("monitor disconnected", zap.String("client", name))
			return
		case <-ticker.C:
			line := lineproto.EncodeTelemetry(s.pack.Step(s.opts.Interval))
			for _, chunk := range s.chunks(line) {
				if err := c.WriteChunk(chunk); err != nil {
					s.logger.Info("monitor write failed", zap.String("client", name), zap.Error(err))
					return
				}
			}
		}
	}
}

func (s *Server) handleCommand(client, line string) {
	params, err := lineproto.ParseParameters(line)
	if err != nil {
		s.logger.Warn("ignoring malformed command", zap.String("client", client), zap.String("line", line), zap.Error(err))
		return
	}
	s.pack.ApplyParameters(params)
	s.logger.Info("parameters applied",
		zap.String("client", client),
		zap.Float64("under_voltage", params.UnderVoltage),
		zap.Float64("over_voltage", params.OverVoltage),
		zap.Float64("under_current", params.UnderCurrent),
		zap.Float64("over_current", params.OverCurrent),
	)
}

// chunks splits line at up to two random points when fragmenting, so
// receivers see lines spread over several reads.
func (s *Server) chunks(line string) [][]byte {
	data := []byte(line)
	if !s.opts.Fragment || len(data) < 3 {
		return [][]byte{data}
	}

	s.mu.Lock()
	a := 1 + s.rng.Intn(len(data)-1)
	b := 1 + s.rng.Intn(len(data)-1)
	s.mu.Unlock()
	if a > b {
		a, b = b, a
	}

	var out [][]byte
	prev := 0
	for _, cut := range []int{a, b} {
		if cut > prev {
			out = append(out, data[prev:cut])
			prev = cut
		}
	}
	return append(out, data[prev:])
}

func (s *Server) track(name string, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if connected {
		s.clients[name] = struct{}{}
	} else {
		delete(s.clients, name)
	}
}
