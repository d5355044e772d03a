package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// StreamTransport frames lines over a byte stream such as a serial port or a
// TCP connection. ReadLine must not be called concurrently with itself;
// WriteLine may be called from any goroutine.
type StreamTransport struct {
	rw     io.ReadWriteCloser
	name   string
	opts   Options
	framer *Framer
	buf    []byte
	err    error

	wmu       sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewStreamTransport wraps rw. name is used in logs and status.
func NewStreamTransport(rw io.ReadWriteCloser, name string, opts Options) *StreamTransport {
	opts = opts.withDefaults()
	return &StreamTransport{
		rw:     rw,
		name:   name,
		opts:   opts,
		framer: NewFramer(opts.MaxLineBytes),
		buf:    make([]byte, 1024),
		closed: make(chan struct{}),
	}
}

func (t *StreamTransport) String() string {
	return t.name
}

// Overlong reports how many lines were discarded for length. Call it from
// the goroutine that calls ReadLine.
func (t *StreamTransport) Overlong() int {
	return t.framer.Overlong()
}

// ReadLine blocks until a full line is available. A read that returns no
// data is treated as a poll timeout and retried after IdlePoll.
func (t *StreamTransport) ReadLine(ctx context.Context) (string, error) {
	for {
		if line, ok := t.framer.Next(); ok {
			return line, nil
		}
		if t.err != nil {
			return "", t.err
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if t.isClosed() {
			return "", ErrClosed
		}

		if d, ok := t.rw.(readDeadliner); ok {
			_ = d.SetReadDeadline(time.Now().Add(t.opts.ReadTimeout))
		}
		n, err := t.rw.Read(t.buf)
		if n > 0 {
			t.framer.Feed(t.buf[:n])
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			t.err = t.classify(err)
			continue
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-t.closed:
				return "", ErrClosed
			case <-time.After(t.opts.IdlePoll):
			}
		}
	}
}

func (t *StreamTransport) classify(err error) error {
	switch {
	case errors.Is(err, io.EOF):
		return io.EOF
	case t.isClosed():
		return ErrClosed
	default:
		return fmt.Errorf("link: read %s: %w", t.name, err)
	}
}

// WriteLine writes line in full, bounded by WriteTimeout where the
// underlying stream supports deadlines.
func (t *StreamTransport) WriteLine(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.isClosed() {
		return ErrClosed
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()

	if d, ok := t.rw.(writeDeadliner); ok {
		_ = d.SetWriteDeadline(writeDeadline(ctx, t.opts.WriteTimeout))
	}
	data := []byte(line)
	for len(data) > 0 {
		n, err := t.rw.Write(data)
		if err != nil {
			if t.isClosed() {
				return ErrClosed
			}
			return fmt.Errorf("link: write %s: %w", t.name, err)
		}
		if n == 0 {
			return fmt.Errorf("link: write %s: %w", t.name, io.ErrShortWrite)
		}
		data = data[n:]
	}
	return nil
}

// Close releases the stream. It is safe to call more than once.
func (t *StreamTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.rw.Close()
	})
	return err
}

func (t *StreamTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
