package state

import (
	"sync"
	"time"
)

// ConnState is the link state shown to operators.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	StateError        ConnState = "error"
)

// LinkSnapshot is a copy of the link status.
type LinkSnapshot struct {
	State         ConnState `json:"state"`
	Message       string    `json:"message,omitempty"`
	Endpoint      string    `json:"endpoint,omitempty"`
	Since         time.Time `json:"since"`
	Sessions      uint64    `json:"sessions"`
	LinesAccepted uint64    `json:"lines_accepted"`
	TokensDropped uint64    `json:"tokens_dropped"`
	LinesOverlong uint64    `json:"lines_overlong"`
}

// LinkStatus tracks the state of the device link and per-session counters.
type LinkStatus struct {
	mu   sync.RWMutex
	snap LinkSnapshot
	now  func() time.Time
}

// NewLinkStatus starts in the disconnected state.
func NewLinkStatus() *LinkStatus {
	l := &LinkStatus{now: time.Now}
	l.snap = LinkSnapshot{State: StateDisconnected, Since: l.now().UTC()}
	return l
}

func (l *LinkStatus) transition(state ConnState, msg string) {
	if l.snap.State != state {
		l.snap.Since = l.now().UTC()
	}
	l.snap.State = state
	l.snap.Message = msg
}

// Connecting records a dial attempt. The last error message is kept until
// the link comes up so operators can see why it went down.
func (l *LinkStatus) Connecting(endpoint string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transition(StateConnecting, l.snap.Message)
	l.snap.Endpoint = endpoint
}

// Connected starts a new session and clears its counters.
func (l *LinkStatus) Connected(endpoint string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transition(StateConnected, "")
	l.snap.Endpoint = endpoint
	l.snap.Sessions++
	l.snap.LinesAccepted = 0
	l.snap.TokensDropped = 0
	l.snap.LinesOverlong = 0
}

// Disconnected records an orderly end of session.
func (l *LinkStatus) Disconnected(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transition(StateDisconnected, msg)
}

// Failed records a session or dial failure.
func (l *LinkStatus) Failed(err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transition(StateError, msg)
}

// RecordLine counts the tokens dropped from one line, and the line itself
// when it carried at least one usable value.
func (l *LinkStatus) RecordLine(accepted bool, dropped int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if accepted {
		l.snap.LinesAccepted++
	}
	if dropped > 0 {
		l.snap.TokensDropped += uint64(dropped)
	}
}

// RecordOverlong counts lines the transport discarded for length.
func (l *LinkStatus) RecordOverlong(n int) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap.LinesOverlong += uint64(n)
}

// Snapshot returns a copy of the current status.
func (l *LinkStatus) Snapshot() LinkSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}
