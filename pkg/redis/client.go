// Package redis carries best-effort real-time event notifications
// (mempool first-seen, index-complete) between the background workers
// and the websocket stream. Everything here is advisory: a publish
// failure is logged, never propagated.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/verus-network/vrscx/pkg/utils"
)

// Well-known channels.
const (
	ChannelMempoolSeen   = "vrscx.mempool.seen"
	ChannelIndexComplete = "vrscx.index.complete"
)

// Client wraps the Redis client for pub/sub event notifications.
type Client struct {
	client *redis.Client
	logger *zap.Logger
}

// NewClient creates a new Redis client using environment variables for
// configuration: REDIS_HOST, REDIS_PORT, REDIS_PASSWORD, REDIS_DB.
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := utils.EnvInt("REDIS_DB", 0)

	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis", zap.String("addr", addr), zap.Int("db", db))

	return &Client{client: rdb, logger: logger}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Publish sends a JSON-encoded message to a pub/sub channel.
// Best-effort: errors are logged and swallowed so event delivery can
// never fail a worker.
func (c *Client) Publish(ctx context.Context, channel string, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		c.logger.Warn("failed to encode event", zap.String("channel", channel), zap.Error(err))
		return
	}
	if err := c.client.Publish(ctx, channel, payload).Err(); err != nil {
		c.logger.Warn("failed to publish event", zap.String("channel", channel), zap.Error(err))
	}
}

// Subscribe returns a pub/sub subscription for the given channels; the
// caller owns its lifecycle.
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.client.Subscribe(ctx, channels...)
}
