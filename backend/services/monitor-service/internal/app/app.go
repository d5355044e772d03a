package app

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	libdb "packmon/backend/libs/db"
	libredis "packmon/backend/libs/redis"
	"packmon/backend/services/monitor-service/internal/auth"
	"packmon/backend/services/monitor-service/internal/config"
	httpserver "packmon/backend/services/monitor-service/internal/http"
	"packmon/backend/services/monitor-service/internal/http/handlers"
	"packmon/backend/services/monitor-service/internal/http/middleware"
	"packmon/backend/services/monitor-service/internal/link"
	"packmon/backend/services/monitor-service/internal/publish"
	"packmon/backend/services/monitor-service/internal/repository"
	"packmon/backend/services/monitor-service/internal/service"
	"packmon/backend/services/monitor-service/internal/state"
)

// App wires monitor-service dependencies.
type App struct {
	server      *httpserver.Server
	monitor     *service.MonitorService
	publisher   *publish.Publisher
	db          *sql.DB
	redisClient *redis.Client
	mqtt        *publish.MQTTPublisher
	logger      *zap.Logger
}

// New constructs the application graph. Optional backends (Postgres, Redis,
// MQTT) are only connected when configured.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	var linkLog service.LinkLog
	if cfg.AuditEnabled() {
		sqlDB, err := libdb.NewPostgresDB(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		a.db = sqlDB
		repo := repository.NewLinkLogRepository(sqlDB)
		if err := repo.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, err
		}
		linkLog = repo
	}

	var sinks []publish.Sink
	if cfg.RedisEnabled() {
		client, err := libredis.NewRedisClient(ctx, cfg.RedisOptions())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redisClient = client
		sinks = append(sinks, publish.NewRedisCache(client, cfg.Redis.TTL))
	}
	if cfg.MQTTEnabled() {
		mq, err := publish.NewMQTTPublisher(ctx, cfg.MQTTOptions())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.mqtt = mq
		sinks = append(sinks, mq)
	}

	endpoint := cfg.Endpoint()
	dial := func(ctx context.Context) (link.Transport, error) {
		return link.Dial(ctx, endpoint)
	}
	a.monitor = service.NewMonitorService(
		dial,
		state.NewTelemetryStore(cfg.Device.Cells),
		state.NewParameterStore(cfg.InitialParameters()),
		state.NewLinkStatus(),
		linkLog,
		service.Options{
			DeviceID:         cfg.Device.ID,
			Endpoint:         endpoint.String(),
			InitialBackoff:   cfg.Reconnect.InitialDelay,
			MaxBackoff:       cfg.Reconnect.MaxDelay,
			ValidateOrdering: cfg.Parameters.ValidateOrdering,
		},
		logger.With(zap.String("device_id", cfg.Device.ID)),
	)
	a.publisher = publish.NewPublisher(a.monitor, sinks, cfg.Publish.Interval, logger)

	routes := httpserver.Routes{
		Health:           handlers.NewHealthHandler(),
		Telemetry:        handlers.NewTelemetryHandler(a.monitor),
		TelemetryStream:  handlers.NewStreamHandler(a.monitor, cfg.Publish.Interval, logger),
		Status:           handlers.NewStatusHandler(a.monitor),
		Parameters:       handlers.NewParametersHandler(a.monitor),
		SetParameter:     handlers.NewSetParameterHandler(a.monitor, logger),
		CommitParameters: handlers.NewCommitParametersHandler(a.monitor, logger),
		Commands:         handlers.NewCommandsHandler(a.monitor),
	}
	if cfg.AuthEnabled() {
		tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Device.ID)
		if err := auth.ValidateHash(cfg.Auth.PasswordHash); err != nil {
			a.Close()
			return nil, err
		}
		authenticator := auth.NewAuthenticator(cfg.Auth.Operator, cfg.Auth.PasswordHash, auth.NewBcryptChecker(0), tokens)
		routes.Login = handlers.NewLoginHandler(authenticator)
		routes.RequireAuth = middleware.AuthMiddleware(tokens)
	}

	a.server = httpserver.NewServer(cfg.HTTPAddress(), httpserver.NewRouter(routes), logger)

	logger.Info("monitor configured",
		zap.String("device_id", cfg.Device.ID),
		zap.String("endpoint", endpoint.String()),
		zap.Int("cells", cfg.Device.Cells),
		zap.Bool("audit", cfg.AuditEnabled()),
		zap.Bool("redis", cfg.RedisEnabled()),
		zap.Bool("mqtt", cfg.MQTTEnabled()),
		zap.Bool("auth", cfg.AuthEnabled()),
	)
	return a, nil
}

// Run starts the HTTP server, the link supervisor and the publisher. It
// returns when ctx is cancelled or any of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(ctx) })
	g.Go(func() error { return a.monitor.Run(ctx) })
	g.Go(func() error { return a.publisher.Run(ctx) })
	return g.Wait()
}

// Close releases resources.
func (a *App) Close() {
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
