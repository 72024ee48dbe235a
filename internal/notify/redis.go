package notify

import (
	"context"
	"fmt"

	"github.com/go-redis/redis"
)

// ChannelPrefix prefixes the Redis pub/sub channel of every session
const ChannelPrefix = "consult:"

// RedisPublisher publishes events on the Redis channel consult:<sessionId>
// so that other gateway replicas and dashboard backends can relay them.
type RedisPublisher struct {
	client *redis.Client
}

// RedisOptions configures the Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates a client and verifies the connection
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}).WithContext(ctx)
	if err := client.Ping().Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// NewRedisPublisher wraps an existing client
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Channel returns the pub/sub channel for a session
func Channel(sessionID string) string {
	return ChannelPrefix + sessionID
}

// Publish implements Publisher
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	data, err := event.Encode()
	if err != nil {
		return err
	}
	if err := p.client.WithContext(ctx).Publish(Channel(event.SessionID), data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", event.Type, err)
	}
	return nil
}

// Ping reports whether Redis is reachable, for readiness checks
func (p *RedisPublisher) Ping(ctx context.Context) (bool, error) {
	if err := p.client.WithContext(ctx).Ping().Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Close closes the underlying client
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
