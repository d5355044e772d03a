package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packmon/backend/libs/lineproto"
	"packmon/backend/services/monitor-service/internal/state"
)

type storeSource struct {
	tel    *state.TelemetryStore
	status *state.LinkStatus
}

func (s storeSource) Snapshot() state.Snapshot {
	return state.NewSnapshot("pack-1", s.tel.Read(), s.status.Snapshot())
}

type recordingSink struct {
	mu   sync.Mutex
	fail error
	got  []state.Snapshot
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Publish(_ context.Context, snap state.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.got = append(r.got, snap)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestPublisherOnlyPublishesChanges(t *testing.T) {
	src := storeSource{tel: state.NewTelemetryStore(2), status: state.NewLinkStatus()}
	sink := &recordingSink{}
	p := NewPublisher(src, []Sink{sink}, time.Second, nil)
	ctx := context.Background()

	p.Tick(ctx)
	p.Tick(ctx)
	assert.Equal(t, 1, sink.count())

	src.tel.Apply([]lineproto.Update{{Field: lineproto.FieldVoltage, Value: 7.4}})
	p.Tick(ctx)
	require.Equal(t, 2, sink.count())
	assert.Equal(t, 7.4, sink.got[1].Telemetry.PackVoltage)
	assert.Equal(t, "pack-1", sink.got[1].DeviceID)

	src.status.Connected("tcp://pack")
	p.Tick(ctx)
	assert.Equal(t, 3, sink.count())
}

func TestPublisherRetriesAfterFailure(t *testing.T) {
	src := storeSource{tel: state.NewTelemetryStore(1), status: state.NewLinkStatus()}
	sink := &recordingSink{fail: errors.New("broker down")}
	p := NewPublisher(src, []Sink{sink}, time.Second, nil)

	p.Tick(context.Background())
	assert.Zero(t, sink.count())

	sink.mu.Lock()
	sink.fail = nil
	sink.mu.Unlock()

	p.Tick(context.Background())
	assert.Equal(t, 1, sink.count())
}

func TestPublisherRunStopsOnCancel(t *testing.T) {
	src := storeSource{tel: state.NewTelemetryStore(1), status: state.NewLinkStatus()}
	sink := &recordingSink{}
	p := NewPublisher(src, []Sink{sink}, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestLatestKeyAndTopic(t *testing.T) {
	assert.Equal(t, "packmon:pack-1:latest", latestKey("pack-1"))

	p := &MQTTPublisher{topic: "site/{device}/bms"}
	assert.Equal(t, "site/pack-1/bms", p.Topic("pack-1"))
}
