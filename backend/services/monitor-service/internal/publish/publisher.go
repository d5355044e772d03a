package publish

import (
	"context"
	"time"

	"go.uber.org/zap"

	"packmon/backend/services/monitor-service/internal/state"
)

// Source provides the snapshot to publish.
type Source interface {
	Snapshot() state.Snapshot
}

// Sink receives the latest snapshot. Only the newest value matters to a sink;
// nothing is queued or replayed.
type Sink interface {
	Name() string
	Publish(ctx context.Context, snap state.Snapshot) error
}

// Publisher polls the source and pushes changed snapshots to every sink.
type Publisher struct {
	source   Source
	sinks    []Sink
	interval time.Duration
	logger   *zap.Logger

	lastSeq   uint64
	lastState state.ConnState
	published bool
}

// NewPublisher builds Publisher.
func NewPublisher(source Source, sinks []Sink, interval time.Duration, logger *zap.Logger) *Publisher {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{source: source, sinks: sinks, interval: interval, logger: logger}
}

// Run publishes until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	if len(p.sinks) == 0 {
		return nil
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick publishes once if telemetry or link state changed since the last
// successful publish.
func (p *Publisher) Tick(ctx context.Context) {
	snap := p.source.Snapshot()
	if p.published && snap.Telemetry.Sequence == p.lastSeq && snap.Link.State == p.lastState {
		return
	}

	ok := true
	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, snap); err != nil {
			ok = false
			p.logger.Warn("snapshot publish failed", zap.String("sink", sink.Name()), zap.Error(err))
		}
	}
	if ok {
		p.lastSeq = snap.Telemetry.Sequence
		p.lastState = snap.Link.State
		p.published = true
	}
}
