// Package redis backs the ledger's side channels with go-redis/v9: the event
// signal bus, the single-writer lock and the HTTP rate limiter.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client. When URL is
// set it takes precedence over Addr, Password and DB.
type ClientConfig struct {
	URL          string
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
	TLSEnabled   bool
	StreamMaxLen int64
}

// Client wraps a go-redis Client.
type Client struct {
	rdb          *redis.Client
	streamMaxLen int64
}

// New creates a Client and pings the server before returning it.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.TLSEnabled && opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewFromRedis(rdb, cfg.StreamMaxLen), nil
}

// NewFromRedis wraps an existing go-redis client. A non-positive streamMaxLen
// uses the default stream cap.
func NewFromRedis(rdb *redis.Client, streamMaxLen int64) *Client {
	if streamMaxLen <= 0 {
		streamMaxLen = defaultStreamMaxLen
	}
	return &Client{rdb: rdb, streamMaxLen: streamMaxLen}
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
