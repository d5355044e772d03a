package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"packmon/backend/libs/lineproto"
	"packmon/backend/services/monitor-service/internal/link"
	"packmon/backend/services/monitor-service/internal/state"
)

// ErrEndOfStream is returned by Run when the device closed the link.
var ErrEndOfStream = errors.New("ingest: end of stream")

// Loop reads lines from a transport, parses them and publishes the result
// into the telemetry store.
type Loop struct {
	parser    *lineproto.Parser
	telemetry *state.TelemetryStore
	status    *state.LinkStatus
	logger    *zap.Logger
}

// NewLoop builds Loop.
func NewLoop(parser *lineproto.Parser, telemetry *state.TelemetryStore, status *state.LinkStatus, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		parser:    parser,
		telemetry: telemetry,
		status:    status,
		logger:    logger,
	}
}

// Run consumes tr until ctx is cancelled (returns nil), the peer closes the
// stream (returns ErrEndOfStream) or a read fails. The transport is always
// closed on return.
func (l *Loop) Run(ctx context.Context, tr link.Transport) error {
	defer tr.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = tr.Close()
	})
	defer stop()

	l.status.Connected(tr.String())
	l.logger.Info("link session started", zap.String("endpoint", tr.String()))

	counter, _ := tr.(overlongCounter)
	reported := 0
	for {
		line, err := tr.ReadLine(ctx)
		if counter != nil {
			n := counter.Overlong()
			l.status.RecordOverlong(n - reported)
			reported = n
		}
		if err != nil {
			return l.finish(ctx, err)
		}

		res := l.parser.Parse(line)
		accepted := l.telemetry.Apply(res.Updates)
		l.status.RecordLine(accepted, res.Dropped)
		if ce := l.logger.Check(zap.DebugLevel, "line parsed"); ce != nil {
			ce.Write(
				zap.Strings("fields", fieldNames(res.Updates)),
				zap.Int("dropped", res.Dropped),
				zap.String("line", line),
			)
		}
	}
}

// overlongCounter is implemented by transports that discard lines over their
// length limit.
type overlongCounter interface {
	Overlong() int
}

func fieldNames(updates []lineproto.Update) []string {
	names := make([]string, 0, len(updates))
	for _, u := range updates {
		if u.Field == lineproto.FieldCell {
			names = append(names, u.Field.String()+strconv.Itoa(u.Cell+1))
			continue
		}
		names = append(names, u.Field.String())
	}
	return names
}

func (l *Loop) finish(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		l.status.Disconnected("stopped")
		l.logger.Info("link session stopped")
		return nil
	case errors.Is(err, io.EOF):
		l.status.Disconnected("end of stream")
		l.logger.Info("link closed by device")
		return ErrEndOfStream
	default:
		l.status.Failed(err)
		l.logger.Warn("link read failed", zap.Error(err))
		return fmt.Errorf("ingest: %w", err)
	}
}
