package simulator

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// clientConn is one monitor connection, over TCP or WebSocket.
type clientConn interface {
	WriteChunk(p []byte) error
	// ReadLines calls handle for each received line until the peer goes away.
	ReadLines(handle func(line string)) error
	Close() error
}

type streamConn struct {
	conn         net.Conn
	writeTimeout time.Duration
}

func (c *streamConn) WriteChunk(p []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	_, err := c.conn.Write(p)
	return err
}

func (c *streamConn) ReadLines(handle func(string)) error {
	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		handle(scanner.Text())
	}
	return scanner.Err()
}

func (c *streamConn) Close() error {
	return c.conn.Close()
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (c *wsConn) WriteChunk(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, p)
}

func (c *wsConn) ReadLines(handle func(string)) error {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		for _, line := range strings.Split(string(msg), "\n") {
			if strings.TrimSpace(line) != "" {
				handle(line)
			}
		}
	}
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "simulator stopping"),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.conn.Close()
}
