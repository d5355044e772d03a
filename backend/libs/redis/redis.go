package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dialTimeout  = 5 * time.Second
	readTimeout  = 3 * time.Second
	writeTimeout = 3 * time.Second
)

// Options selects the redis endpoint. Addr is either host:port or a
// redis:// or rediss:// URL; a URL's password and DB win over the fields.
type Options struct {
	Addr     string
	Password string
	DB       int
}

func (o Options) clientOptions() (*redis.Options, error) {
	addr := strings.TrimSpace(o.Addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		if parsed.Password == "" {
			parsed.Password = o.Password
		}
		parsed.DialTimeout, parsed.ReadTimeout, parsed.WriteTimeout = dialTimeout, readTimeout, writeTimeout
		return parsed, nil
	}
	return &redis.Options{
		Addr:         addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}, nil
}

// NewRedisClient returns a go-redis client after a successful PING.
func NewRedisClient(ctx context.Context, opts Options) (*redis.Client, error) {
	clientOpts, err := opts.clientOptions()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(clientOpts)

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", clientOpts.Addr, err)
	}
	return client, nil
}
