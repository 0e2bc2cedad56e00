// Package cache keeps short-lived coordination state in Redis: processed
// webhook event ids and the scheduler lease.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/staybook/service-booking/internal/config"
)

// DefaultEventTTL covers the gateway's retry window for webhook deliveries.
const DefaultEventTTL = 72 * time.Hour

// releaseScript deletes a lease only while it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements the webhook event deduplicator and the scheduler lease.
type RedisStore struct {
	client   *redis.Client
	eventTTL time.Duration
	holder   string
}

// NewRedisStore creates a store. The holder id identifies this process as lease owner.
func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}))
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, eventTTL: DefaultEventTTL, holder: uuid.NewString()}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Processed reports whether a gateway event id was already recorded.
func (s *RedisStore) Processed(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, eventKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("check event %s: %w", eventID, err)
	}
	return n > 0, nil
}

// MarkProcessed records a gateway event id for the retry window.
func (s *RedisStore) MarkProcessed(ctx context.Context, eventID string) error {
	if err := s.client.Set(ctx, eventKey(eventID), "1", s.eventTTL).Err(); err != nil {
		return fmt.Errorf("mark event %s: %w", eventID, err)
	}
	return nil
}

// Acquire takes the named lease for ttl. It returns false when another holder owns it.
func (s *RedisStore) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, leaseKey(name), s.holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return ok, nil
}

// Release gives the named lease back if this store still holds it.
func (s *RedisStore) Release(ctx context.Context, name string) error {
	return releaseScript.Run(ctx, s.client, []string{leaseKey(name)}, s.holder).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func eventKey(id string) string {
	return "booking:webhook:event:" + id
}

func leaseKey(name string) string {
	return "booking:lease:" + name
}
