package link

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by operations on a transport after Close.
var ErrClosed = errors.New("link: transport closed")

// ErrUnsupportedKind is returned by Dial for an unknown endpoint kind.
var ErrUnsupportedKind = errors.New("link: unsupported transport kind")

// Transport is a bidirectional line-oriented channel to the pack. ReadLine
// returns io.EOF once the peer has closed the stream.
type Transport interface {
	ReadLine(ctx context.Context) (string, error)
	WriteLine(ctx context.Context, line string) error
	Close() error
	String() string
}

// Kind selects how an Endpoint is reached.
type Kind string

const (
	KindSerial    Kind = "serial"
	KindTCP       Kind = "tcp"
	KindWebSocket Kind = "ws"
)

// Options tune a transport. Zero values fall back to defaults.
type Options struct {
	ReadTimeout  time.Duration
	IdlePoll     time.Duration
	WriteTimeout time.Duration
	MaxLineBytes int
}

const (
	defaultReadTimeout  = 200 * time.Millisecond
	defaultIdlePoll     = 20 * time.Millisecond
	defaultWriteTimeout = 2 * time.Second
	defaultMaxLineBytes = 4096
)

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	if o.IdlePoll <= 0 {
		o.IdlePoll = defaultIdlePoll
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = defaultMaxLineBytes
	}
	return o
}

// Endpoint describes where the pack is.
type Endpoint struct {
	Kind     Kind
	Address  string
	BaudRate int
	Options  Options
}

func (e Endpoint) String() string {
	switch e.Kind {
	case KindSerial:
		return fmt.Sprintf("serial://%s@%d", e.Address, e.BaudRate)
	case KindTCP:
		return "tcp://" + e.Address
	default:
		return e.Address
	}
}

// Dial opens a transport for ep.
func Dial(ctx context.Context, ep Endpoint) (Transport, error) {
	var (
		tr  Transport
		err error
	)
	switch ep.Kind {
	case KindSerial:
		tr, err = OpenSerial(ep.Address, ep.BaudRate, ep.Options)
	case KindTCP:
		tr, err = DialTCP(ctx, ep.Address, ep.Options)
	case KindWebSocket:
		tr, err = DialWebSocket(ctx, ep.Address, ep.Options)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, ep.Kind)
	}
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// writeDeadline picks the earlier of the context deadline and now+timeout.
func writeDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}
