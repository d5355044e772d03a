package link

import (
	"context"
	"fmt"
	"net"
)

// DialTCP connects to a pack bridged over TCP.
func DialTCP(ctx context.Context, addr string, opts Options) (*StreamTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("link: dial tcp %s: %w", addr, err)
	}
	return NewStreamTransport(conn, "tcp://"+addr, opts), nil
}
