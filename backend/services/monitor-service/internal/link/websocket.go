package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"
)

const wsChunkBytes = 4096

// WSTransport carries lines over a WebSocket. Message boundaries carry no
// meaning: payloads are treated as a byte stream and framed on LF.
type WSTransport struct {
	conn   *websocket.Conn
	name   string
	opts   Options
	framer *Framer
	frames chan []byte

	errMu   sync.Mutex
	readErr error

	wmu       sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// DialWebSocket connects to url and starts the read pump.
func DialWebSocket(ctx context.Context, url string, opts Options) (*WSTransport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("link: dial websocket %s: %w", url, err)
	}
	return NewWSTransport(conn, url, opts), nil
}

// NewWSTransport wraps an established connection.
func NewWSTransport(conn *websocket.Conn, name string, opts Options) *WSTransport {
	opts = opts.withDefaults()
	t := &WSTransport{
		conn:   conn,
		name:   name,
		opts:   opts,
		framer: NewFramer(opts.MaxLineBytes),
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
	go t.readPump()
	return t
}

func (t *WSTransport) String() string {
	return t.name
}

// readPump streams each message to the framer in chunks, so message size is
// unbounded and only the framer's line limit applies.
func (t *WSTransport) readPump() {
	defer close(t.frames)
	for {
		_, r, err := t.conn.NextReader()
		if err != nil {
			t.setReadErr(err)
			return
		}
		for {
			buf := make([]byte, wsChunkBytes)
			n, err := r.Read(buf)
			if n > 0 {
				select {
				case t.frames <- buf[:n]:
				case <-t.closed:
					return
				}
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.setReadErr(err)
				return
			}
		}
	}
}

func (t *WSTransport) setReadErr(err error) {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	switch {
	case t.isClosed():
		t.readErr = ErrClosed
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		t.readErr = io.EOF
	default:
		t.readErr = fmt.Errorf("link: read %s: %w", t.name, err)
	}
}

func (t *WSTransport) getReadErr() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.readErr == nil {
		return ErrClosed
	}
	return t.readErr
}

// Overlong reports how many lines were discarded for length. Call it from
// the goroutine that calls ReadLine.
func (t *WSTransport) Overlong() int {
	return t.framer.Overlong()
}

// ReadLine blocks until a full line arrives, the peer closes or ctx ends.
func (t *WSTransport) ReadLine(ctx context.Context) (string, error) {
	for {
		if line, ok := t.framer.Next(); ok {
			return line, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case data, ok := <-t.frames:
			if !ok {
				return "", t.getReadErr()
			}
			t.framer.Feed(data)
		}
	}
}

// WriteLine sends line as one text message.
func (t *WSTransport) WriteLine(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.isClosed() {
		return ErrClosed
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()

	_ = t.conn.SetWriteDeadline(writeDeadline(ctx, t.opts.WriteTimeout))
	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		if t.isClosed() || errors.Is(err, websocket.ErrCloseSent) {
			return ErrClosed
		}
		return fmt.Errorf("link: write %s: %w", t.name, err)
	}
	return nil
}

// Close sends a close frame and drops the connection.
func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		t.wmu.Lock()
		_ = t.conn.SetWriteDeadline(writeDeadline(context.Background(), t.opts.WriteTimeout))
		_ = t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.wmu.Unlock()
		err = t.conn.Close()
	})
	return err
}

func (t *WSTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}
