package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"packmon/backend/libs/lineproto"
	"packmon/backend/services/monitor-service/internal/ingest"
	"packmon/backend/services/monitor-service/internal/link"
	"packmon/backend/services/monitor-service/internal/repository"
	"packmon/backend/services/monitor-service/internal/state"
)

var (
	// ErrNotConnected is returned by CommitParameters when no session is up.
	ErrNotConnected = errors.New("service: no active link session")
	// ErrCommandFailed wraps a transport error during CommitParameters.
	ErrCommandFailed = errors.New("service: command write failed")
	// ErrAuditDisabled is returned by RecentLog without a link log.
	ErrAuditDisabled = errors.New("service: audit log disabled")
)

const auditTimeout = 3 * time.Second

// DialFunc opens a new transport to the pack.
type DialFunc func(ctx context.Context) (link.Transport, error)

// LinkLog persists outbound commands and session events.
type LinkLog interface {
	Save(ctx context.Context, entry repository.LinkLogEntry) error
	Recent(ctx context.Context, deviceID string, limit int) ([]repository.LinkLogEntry, error)
}

// Options configure MonitorService.
type Options struct {
	DeviceID         string
	Endpoint         string
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	ValidateOrdering bool
}

// MonitorService owns the device link: it keeps a session running, exposes
// the stores to readers and sends parameter commands.
type MonitorService struct {
	dial      DialFunc
	loop      *ingest.Loop
	telemetry *state.TelemetryStore
	params    *state.ParameterStore
	status    *state.LinkStatus
	linkLog   LinkLog
	opts      Options
	logger    *zap.Logger

	mu     sync.Mutex
	active link.Transport
}

// NewMonitorService builds MonitorService. linkLog may be nil.
func NewMonitorService(dial DialFunc, telemetry *state.TelemetryStore, params *state.ParameterStore, status *state.LinkStatus, linkLog LinkLog, opts Options, logger *zap.Logger) *MonitorService {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := lineproto.NewParser(telemetry.Cells())
	return &MonitorService{
		dial:      dial,
		loop:      ingest.NewLoop(parser, telemetry, status, logger),
		telemetry: telemetry,
		params:    params,
		status:    status,
		linkLog:   linkLog,
		opts:      opts,
		logger:    logger,
	}
}

// Run keeps a link session alive until ctx is cancelled, redialing with
// capped exponential backoff.
func (s *MonitorService) Run(ctx context.Context) error {
	backoff := s.opts.InitialBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		s.status.Connecting(s.opts.Endpoint)
		tr, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.status.Disconnected("stopped")
				return nil
			}
			s.status.Failed(err)
			s.logger.Warn("link dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
		} else {
			backoff = s.opts.InitialBackoff
			if err := s.session(ctx, tr); err == nil {
				return nil
			}
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.status.Disconnected("stopped")
			return nil
		case <-timer.C:
		}
		backoff = nextBackoff(backoff, s.opts.MaxBackoff)
	}
}

func (s *MonitorService) session(ctx context.Context, tr link.Transport) error {
	s.telemetry.Reset()
	s.setActive(tr)
	s.audit(ctx, repository.LinkLogEntry{Kind: repository.KindSessionStart, Endpoint: tr.String()})

	err := s.loop.Run(ctx, tr)

	s.clearActive(tr)
	end := repository.LinkLogEntry{Kind: repository.KindSessionEnd, Endpoint: tr.String()}
	if err != nil && !errors.Is(err, ingest.ErrEndOfStream) {
		end.Error = err.Error()
	}
	s.audit(ctx, end)
	return err
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next > limit || next <= 0 {
		return limit
	}
	return next
}

func (s *MonitorService) setActive(tr link.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = tr
}

func (s *MonitorService) clearActive(tr link.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == tr {
		s.active = nil
	}
}

func (s *MonitorService) activeTransport() link.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Telemetry returns the latest telemetry snapshot.
func (s *MonitorService) Telemetry() state.Telemetry {
	return s.telemetry.Read()
}

// Status returns the link status.
func (s *MonitorService) Status() state.LinkSnapshot {
	return s.status.Snapshot()
}

// Snapshot returns telemetry, derived values and link status together.
func (s *MonitorService) Snapshot() state.Snapshot {
	return state.NewSnapshot(s.opts.DeviceID, s.telemetry.Read(), s.status.Snapshot())
}

// DeviceID returns the configured device identifier.
func (s *MonitorService) DeviceID() string {
	return s.opts.DeviceID
}

// Parameters returns the pending thresholds.
func (s *MonitorService) Parameters() lineproto.Parameters {
	return s.params.Snapshot()
}

// SetParameter applies an operator edit. Nothing is sent to the device.
func (s *MonitorService) SetParameter(key, raw string) (lineproto.ParamKey, float64, error) {
	return s.params.SetText(key, raw)
}

// CommitParameters encodes the current thresholds and writes them to the
// active session. A failed write ends that session. The encoded command is
// returned even on write failure.
func (s *MonitorService) CommitParameters(ctx context.Context) (string, error) {
	params := s.params.Snapshot()
	if s.opts.ValidateOrdering {
		if err := state.ValidateOrdering(params); err != nil {
			return "", err
		}
	}
	cmd := lineproto.EncodeParameters(params)

	tr := s.activeTransport()
	if tr == nil {
		return "", ErrNotConnected
	}

	entry := repository.LinkLogEntry{Kind: repository.KindCommand, Endpoint: tr.String(), Payload: cmd}
	if err := tr.WriteLine(ctx, cmd); err != nil {
		_ = tr.Close()
		entry.Error = err.Error()
		s.audit(ctx, entry)
		s.logger.Warn("parameter command failed", zap.String("endpoint", tr.String()), zap.Error(err))
		return cmd, fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	s.audit(ctx, entry)
	s.logger.Info("parameter command sent", zap.String("endpoint", tr.String()), zap.String("command", cmd))
	return cmd, nil
}

// RecentLog returns the newest audit entries for this device.
func (s *MonitorService) RecentLog(ctx context.Context, limit int) ([]repository.LinkLogEntry, error) {
	if s.linkLog == nil {
		return nil, ErrAuditDisabled
	}
	return s.linkLog.Recent(ctx, s.opts.DeviceID, limit)
}

func (s *MonitorService) audit(ctx context.Context, entry repository.LinkLogEntry) {
	if s.linkLog == nil {
		return
	}
	entry.DeviceID = s.opts.DeviceID
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.linkLog.Save(ctx, entry); err != nil {
		s.logger.Warn("failed to write link log", zap.String("kind", entry.Kind), zap.Error(err))
	}
}
