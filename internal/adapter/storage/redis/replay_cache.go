package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ReplayCache implements ports.WebhookReplayCache. It remembers gateway
// references whose deposit already reached a terminal state so repeated
// deliveries are acknowledged without touching the database.
type ReplayCache struct {
	client goredis.UniversalClient
	prefix string
}

// NewReplayCache creates a new Redis-backed webhook replay cache.
func NewReplayCache(client goredis.UniversalClient) *ReplayCache {
	return &ReplayCache{
		client: client,
		prefix: "webhook:settled:",
	}
}

// Seen reports whether reference was remembered and has not expired.
func (c *ReplayCache) Seen(ctx context.Context, reference string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+reference).Result()
	if err != nil {
		return false, fmt.Errorf("redis replay lookup: %w", err)
	}
	return n == 1, nil
}

// Remember records reference for ttl. Remembering an already known reference
// keeps its original expiry.
func (c *ReplayCache) Remember(ctx context.Context, reference string, ttl time.Duration) error {
	err := c.client.SetArgs(ctx, c.prefix+reference, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("redis replay remember: %w", err)
	}
	return nil
}
