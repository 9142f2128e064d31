// Package redis implements the domain cache, bus and coordination
// interfaces on go-redis/v9. Every key, channel and stream lives under the
// client's namespace so several deployments can share one database.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	Namespace  string // e.g. "imbalance"; empty writes bare keys
}

// Client owns the connection pool and the key namespace shared by the
// caches, the lock manager, the rate limiter and the signal bus.
type Client struct {
	rdb  *redis.Client
	ks   keyspace
	addr string
}

// New connects to cfg.Addr and verifies the connection with a ping.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return newClient(ctx, redis.NewClient(opts), cfg.Addr, cfg.Namespace)
}

func newClient(ctx context.Context, rdb *redis.Client, addr, namespace string) (*Client, error) {
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return &Client{rdb: rdb, ks: keyspace(strings.Trim(namespace, ":")), addr: addr}, nil
}

// Ping reports whether the server answers. It backs /api/health.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", c.addr, err)
	}
	return nil
}

// Namespace returns the prefix applied to every key.
func (c *Client) Namespace() string { return string(c.ks) }

// Close releases the pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// keyspace joins key parts with ':' under an optional namespace.
type keyspace string

func (ks keyspace) key(parts ...string) string {
	k := strings.Join(parts, ":")
	if ks == "" {
		return k
	}
	return string(ks) + ":" + k
}
