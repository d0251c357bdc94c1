package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client wraps a Redis connection used to publish transfer progress on an
// optional sideband. Nothing in pkg/xmodem imports this package — a caller
// (typically the CLI) reports progress into it from outside the transfer
// loop.
type Client struct {
	client *redis.Client
	ctx    context.Context
}

// New creates a new Redis client and verifies connectivity with a Ping.
func New(addr string, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &Client{
		client: client,
		ctx:    ctx,
	}, nil
}

// WriteAndPublishString writes a field value into the transfer progress hash
// and publishes the same update on the hash key's channel, so a watching
// client does not need to poll.
func (c *Client) WriteAndPublishString(key, field, value string) error {
	pipe := c.client.Pipeline()
	pipe.HSet(c.ctx, key, field, value)
	pipe.Publish(c.ctx, key, fmt.Sprintf("%s:%s", field, value))
	_, err := pipe.Exec(c.ctx)
	return err
}

// WriteInt writes an integer field into the transfer progress hash without
// publishing, for counters a watcher only needs on demand (e.g. retry count).
func (c *Client) WriteInt(key, field string, value int) error {
	return c.client.HSet(c.ctx, key, field, value).Err()
}

// WriteAndPublishInt writes an integer field and publishes the update, used
// for the bytes-transferred counter during a Send/Receive.
func (c *Client) WriteAndPublishInt(key, field string, value int) error {
	pipe := c.client.Pipeline()
	pipe.HSet(c.ctx, key, field, value)
	pipe.Publish(c.ctx, key, fmt.Sprintf("%s:%d", field, value))
	_, err := pipe.Exec(c.ctx)
	return err
}

// Subscribe subscribes to a Redis channel and returns a channel for messages
// along with a function to close the subscription.
func (c *Client) Subscribe(channel string) (<-chan *redis.Message, func()) {
	pubsub := c.client.Subscribe(c.ctx, channel)
	ch := pubsub.Channel()
	return ch, func() { pubsub.Close() }
}

// Publish publishes a message to a Redis channel.
func (c *Client) Publish(channel string, message string) error {
	return c.client.Publish(c.ctx, channel, message).Err()
}

// Close closes the Redis client connection.
func (c *Client) Close() error {
	return c.client.Close()
}
