package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packmon/backend/libs/lineproto"
	"packmon/backend/services/monitor-service/internal/link"
	"packmon/backend/services/monitor-service/internal/repository"
	"packmon/backend/services/monitor-service/internal/state"
)

// fakeTransport feeds lines from a channel and records writes.
type fakeTransport struct {
	lines    chan string
	writeErr error

	mu      sync.Mutex
	written []string
	closed  chan struct{}
	once    sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{lines: make(chan string, 16), closed: make(chan struct{})}
}

func (f *fakeTransport) ReadLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-f.closed:
		return "", link.ErrClosed
	case line, ok := <-f.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

func (f *fakeTransport) WriteLine(_ context.Context, line string) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, line)
	return nil
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) String() string { return "fake://pack" }

func (f *fakeTransport) Written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

type memLog struct {
	mu      sync.Mutex
	entries []repository.LinkLogEntry
}

func (m *memLog) Save(_ context.Context, e repository.LinkLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memLog) Recent(_ context.Context, deviceID string, limit int) ([]repository.LinkLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.LinkLogEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].DeviceID == deviceID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *memLog) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries {
		out = append(out, e.Kind)
	}
	return out
}

type harness struct {
	svc    *MonitorService
	status *state.LinkStatus
	log    *memLog
	dials  chan link.Transport
}

// newHarness returns a service whose dials are served from h.dials; a nil
// transport on the channel is turned into a dial error.
func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		status: state.NewLinkStatus(),
		log:    &memLog{},
		dials:  make(chan link.Transport, 4),
	}
	dial := func(ctx context.Context) (link.Transport, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case tr := <-h.dials:
			if tr == nil {
				return nil, errors.New("no route to pack")
			}
			return tr, nil
		}
	}
	if opts.DeviceID == "" {
		opts.DeviceID = "pack-1"
	}
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = time.Millisecond
		opts.MaxBackoff = 4 * time.Millisecond
	}
	h.svc = NewMonitorService(dial, state.NewTelemetryStore(4), state.NewParameterStore(lineproto.Parameters{}), h.status, h.log, opts, nil)
	return h
}

func (h *harness) run(t *testing.T) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()
	return cancel, done
}

func waitDone(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestMonitorServiceReconnectsAfterDialFailure(t *testing.T) {
	h := newHarness(t, Options{})
	tr := newFakeTransport()
	h.dials <- nil
	h.dials <- tr

	cancel, done := h.run(t)

	tr.lines <- "V=52.1,C1=3.3"
	require.Eventually(t, func() bool { return h.svc.Telemetry().PackVoltage == 52.1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, state.StateConnected, h.svc.Status().State)
	assert.Equal(t, uint64(1), h.svc.Status().Sessions)

	cancel()
	waitDone(t, done)
	assert.Equal(t, state.StateDisconnected, h.svc.Status().State)
	assert.Equal(t, []string{repository.KindSessionStart, repository.KindSessionEnd}, h.log.kinds())
}

func TestMonitorServiceRedialsAfterEndOfStream(t *testing.T) {
	h := newHarness(t, Options{})
	first, second := newFakeTransport(), newFakeTransport()
	h.dials <- first
	h.dials <- second

	cancel, done := h.run(t)
	defer func() {
		cancel()
		waitDone(t, done)
	}()

	first.lines <- "SOC=10"
	close(first.lines)

	require.Eventually(t, func() bool { return h.svc.Status().Sessions == 2 }, time.Second, 5*time.Millisecond)

	second.lines <- "SOC=11"
	require.Eventually(t, func() bool { return h.svc.Telemetry().StateOfCharge == 11 }, time.Second, 5*time.Millisecond)
}

func TestCommitParametersWithoutSession(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.svc.CommitParameters(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestCommitParametersSendsCommand(t *testing.T) {
	h := newHarness(t, Options{})
	tr := newFakeTransport()
	h.dials <- tr

	cancel, done := h.run(t)
	defer func() {
		cancel()
		waitDone(t, done)
	}()
	require.Eventually(t, func() bool { return h.svc.Status().State == state.StateConnected }, time.Second, 5*time.Millisecond)

	for key, raw := range map[string]string{"UV": "2.8", "OV": "4.2", "UC": "-50", "OC": "100"} {
		_, _, err := h.svc.SetParameter(key, raw)
		require.NoError(t, err)
	}
	assert.Empty(t, tr.Written())

	cmd, err := h.svc.CommitParameters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "UV=2.8,OV=4.2,UC=-50,OC=100\n", cmd)
	assert.Equal(t, []string{cmd}, tr.Written())

	entries, err := h.svc.RecentLog(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, repository.KindCommand, entries[0].Kind)
	assert.Equal(t, cmd, entries[0].Payload)
}

func TestCommitParametersWriteFailureEndsSession(t *testing.T) {
	h := newHarness(t, Options{InitialBackoff: time.Hour, MaxBackoff: time.Hour})
	tr := newFakeTransport()
	tr.writeErr = errors.New("broken pipe")
	h.dials <- tr

	cancel, done := h.run(t)
	defer func() {
		cancel()
		waitDone(t, done)
	}()
	require.Eventually(t, func() bool { return h.svc.Status().State == state.StateConnected }, time.Second, 5*time.Millisecond)

	cmd, err := h.svc.CommitParameters(context.Background())
	require.ErrorIs(t, err, ErrCommandFailed)
	assert.Equal(t, "UV=0,OV=0,UC=0,OC=0\n", cmd)

	require.Eventually(t, func() bool { return h.svc.activeTransport() == nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, state.StateError, h.svc.Status().State)
	_, err = h.svc.CommitParameters(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestCommitParametersOrderingValidation(t *testing.T) {
	h := newHarness(t, Options{ValidateOrdering: true})
	_, _, err := h.svc.SetParameter("UV", "5")
	require.NoError(t, err)

	_, err = h.svc.CommitParameters(context.Background())
	require.ErrorIs(t, err, state.ErrThresholdOrder)
}

func TestSetParameterRejectsBadInput(t *testing.T) {
	h := newHarness(t, Options{})

	_, _, err := h.svc.SetParameter("OV", "4.2")
	require.NoError(t, err)
	_, _, err = h.svc.SetParameter("OV", "high")
	require.ErrorIs(t, err, state.ErrInvalidValue)
	assert.Equal(t, 4.2, h.svc.Parameters().OverVoltage)
}

func TestRecentLogDisabled(t *testing.T) {
	svc := NewMonitorService(nil, state.NewTelemetryStore(1), state.NewParameterStore(lineproto.Parameters{}), state.NewLinkStatus(), nil, Options{}, nil)
	_, err := svc.RecentLog(context.Background(), 10)
	require.ErrorIs(t, err, ErrAuditDisabled)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, 30*time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(20*time.Second, 30*time.Second))
}

func TestSnapshotCombinesState(t *testing.T) {
	h := newHarness(t, Options{DeviceID: "pack-7"})
	snap := h.svc.Snapshot()
	assert.Equal(t, "pack-7", snap.DeviceID)
	assert.Equal(t, "pack-7", h.svc.DeviceID())
	assert.Len(t, snap.Telemetry.CellVoltages, 4)
	assert.Equal(t, state.StateDisconnected, snap.Link.State)
}
