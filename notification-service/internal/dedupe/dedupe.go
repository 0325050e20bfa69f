// Package dedupe drops broker messages the notification service has already seen.
package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 24 * time.Hour

// RedisDeduper marks message ids with SETNX. When Redis is unreachable every
// message is treated as new, so an outage can duplicate notifications but never
// lose one.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration, log *slog.Logger) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisDeduper{client: client, ttl: ttl, log: log}
}

// FirstSeen reports whether id has not been marked before, marking it.
func (d *RedisDeduper) FirstSeen(ctx context.Context, id string) bool {
	if id == "" {
		return true
	}
	ok, err := d.client.SetNX(ctx, seenKey(id), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		d.log.WarnContext(ctx, "dedupe check failed, processing message", "message_id", id, "error", err)
		return true
	}
	return ok
}

// Forget clears the mark so a later delivery of id is processed again.
func (d *RedisDeduper) Forget(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := d.client.Del(ctx, seenKey(id)).Err(); err != nil {
		d.log.WarnContext(ctx, "dedupe forget failed", "message_id", id, "error", err)
	}
}

func (d *RedisDeduper) Ping(ctx context.Context) error {
	if err := d.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func seenKey(id string) string {
	return fmt.Sprintf("notification:seen:%s", id)
}
