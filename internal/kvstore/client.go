// Package kvstore wraps Redis as the gateway's KV store and
// call-lifecycle event stream. It is grounded on
// original_source/src/redis/manager.py's AzureRedisManager: credentials
// issued by Azure AD expire, so a background loop refreshes the client
// before that happens, and a health check rebuilds the connection if a
// round trip fails.
package kvstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xpanvictor/voxgate/internal/apperr"
	"github.com/xpanvictor/voxgate/internal/config"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

// Client is the gateway's KV store handle. It is safe for concurrent
// use; the underlying *redis.Client (or ClusterClient) can be swapped
// out by the refresh loop without callers observing a nil pointer.
type Client struct {
	cfg    config.RedisConfig
	logger *Logger.Logger

	mu  sync.RWMutex
	rdb redis.UniversalClient

	stopRefresh chan struct{}
	refreshOnce sync.Once
}

// New builds a Client and performs an initial connection. If cfg has no
// AccessKey set, no credential-refresh loop is started (static
// password / no-auth deployments, e.g. local dev).
func New(cfg config.RedisConfig, logger *Logger.Logger) (*Client, error) {
	c := &Client{cfg: cfg, logger: logger, stopRefresh: make(chan struct{})}
	if err := c.rebuild(); err != nil {
		return nil, err
	}
	if cfg.AccessKey != "" {
		go c.refreshLoop()
	}
	return c, nil
}

func (c *Client) rebuild() error {
	opts := &redis.UniversalOptions{
		Addrs:    []string{c.cfg.Addr()},
		Password: c.cfg.AccessKey,
		DB:       c.cfg.DB,
	}
	var rdb redis.UniversalClient
	if c.cfg.UseCluster {
		rdb = redis.NewClusterClient(opts.Cluster())
	} else {
		rdb = redis.NewClient(opts.Simple())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return apperr.Provider("kvstore", fmt.Errorf("initial ping failed: %w", err))
	}

	c.mu.Lock()
	old := c.rdb
	c.rdb = rdb
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// refreshLoop runs a health check every RefreshMargin (default 60 s)
// and rebuilds the client only when that check fails, mirroring
// AzureRedisManager's _health_check round trip. It does not track
// credential expiry and does not rebuild a healthy client.
func (c *Client) refreshLoop() {
	margin := c.cfg.RefreshMargin
	if margin <= 0 {
		margin = 60 * time.Second
	}
	ticker := time.NewTicker(margin)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopRefresh:
			return
		case <-ticker.C:
			if err := c.healthCheck(); err != nil {
				c.logger.Warnw("kvstore health check failed, rebuilding client", "err", err)
				if err := c.rebuild(); err != nil {
					c.logger.Errorw("kvstore rebuild failed", "err", err)
				}
			}
		}
	}
}

// healthCheck performs the PING + SET/GET/DEL round trip
// AzureRedisManager._health_check does.
func (c *Client) healthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	rdb := c.client()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	key := "__voxgate_health__"
	if err := rdb.Set(ctx, key, "1", time.Second).Err(); err != nil {
		return err
	}
	if err := rdb.Get(ctx, key).Err(); err != nil {
		return err
	}
	return rdb.Del(ctx, key).Err()
}

func (c *Client) client() redis.UniversalClient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rdb
}

// Ping is the side-effect-free query a health endpoint (out of this
// gateway's scope) would call.
func (c *Client) Ping(ctx context.Context) error {
	return c.client().Ping(ctx).Err()
}

// Get fetches a raw value.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.client().Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", apperr.State("kvstore", fmt.Errorf("key %q not found", key))
		}
		return "", c.classify(err)
	}
	return v, nil
}

// Set stores a raw value with an optional TTL (0 = no expiry).
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client().Set(ctx, key, value, ttl).Err(); err != nil {
		return c.classify(err)
	}
	return nil
}

// Del deletes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if err := c.client().Del(ctx, keys...).Err(); err != nil {
		return c.classify(err)
	}
	return nil
}

// SetHash stores fields in the Redis hash under key (spec §6's
// set_hash(session_id, map)); existing fields not named in fields keep
// their values.
func (c *Client) SetHash(ctx context.Context, key string, fields map[string]any) error {
	if err := c.client().HSet(ctx, key, fields).Err(); err != nil {
		return c.classify(err)
	}
	return nil
}

// GetHash fetches every field of a Redis hash (spec §6's
// get_hash(session_id)). A missing key returns an empty, non-error
// map, matching HGETALL's own behavior.
func (c *Client) GetHash(ctx context.Context, key string) (map[string]string, error) {
	v, err := c.client().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, c.classify(err)
	}
	return v, nil
}

// UpdateField sets a single field of a Redis hash without touching
// its other fields (spec §6's update_field(session_id, field, value)).
func (c *Client) UpdateField(ctx context.Context, key, field string, value any) error {
	if err := c.client().HSet(ctx, key, field, value).Err(); err != nil {
		return c.classify(err)
	}
	return nil
}

// classify wraps err as a Provider error. On a MOVED/CLUSTERDOWN error
// it first rebuilds the client so the next call uses a fresh
// connection; the failed call itself is not retried.
func (c *Client) classify(err error) error {
	msg := err.Error()
	if strings.HasPrefix(msg, "MOVED") || strings.HasPrefix(msg, "CLUSTERDOWN") {
		if rebuildErr := c.rebuild(); rebuildErr != nil {
			return apperr.Provider("kvstore", fmt.Errorf("redirect rebuild failed: %w", rebuildErr))
		}
		return apperr.Provider("kvstore", fmt.Errorf("redirected, retry: %w", err))
	}
	return apperr.Provider("kvstore", err)
}

// Close stops the refresh loop and closes the underlying client.
func (c *Client) Close() error {
	c.refreshOnce.Do(func() { close(c.stopRefresh) })
	return c.client().Close()
}
