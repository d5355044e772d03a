package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"packmon/backend/libs/lineproto"
	"packmon/backend/services/pack-simulator/internal/config"
	"packmon/backend/services/pack-simulator/internal/simulator"
)

// App wires pack-simulator dependencies.
type App struct {
	cfg      *config.Config
	pack     *simulator.Pack
	sim      *simulator.Server
	listener net.Listener
	http     *http.Server
	logger   *zap.Logger
}

// New binds the listeners so callers can read the chosen addresses before Run.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	pack := simulator.NewPack(cfg.Pack.Cells, cfg.Pack.Seed)
	sim := simulator.NewServer(pack, simulator.Options{
		Interval: cfg.Pack.Interval,
		Fragment: cfg.Pack.Fragment,
		Seed:     cfg.Pack.Seed,
	}, logger)

	ln, err := net.Listen("tcp", cfg.TCP.Addr)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, pack: pack, sim: sim, listener: ln, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.health)
	mux.HandleFunc("/ws", sim.HandleWS)
	a.http = &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

// TCPAddr returns the bound TCP listener address.
func (a *App) TCPAddr() string {
	return a.listener.Addr().String()
}

// Handler exposes the HTTP routes.
func (a *App) Handler() http.Handler {
	return a.http.Handler
}

// Run serves TCP and HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.sim.ServeTCP(gctx, a.listener)
	})
	g.Go(func() error {
		a.logger.Info("http listener started", zap.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.http.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

type healthResponse struct {
	Status     string               `json:"status"`
	Cells      int                  `json:"cells"`
	Clients    int                  `json:"clients"`
	Tripped    bool                 `json:"tripped"`
	Parameters lineproto.Parameters `json:"parameters"`
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:     "ok",
		Cells:      a.pack.Cells(),
		Clients:    a.sim.Clients(),
		Tripped:    a.pack.Tripped(),
		Parameters: a.pack.Parameters(),
	})
}
