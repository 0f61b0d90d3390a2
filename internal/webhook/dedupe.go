package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"shopauth/pkg/sentinel"
)

// DefaultDedupeWindow covers Shopify's retry schedule for a failed delivery.
const DefaultDedupeWindow = 24 * time.Hour

const dedupePrefix = "Shopify.Webhook."

// RedisDeduper remembers delivery ids with SET NX so retries are processed once.
type RedisDeduper struct {
	client *redis.Client
	window time.Duration
}

func NewRedisDeduper(client *redis.Client, window time.Duration) *RedisDeduper {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	return &RedisDeduper{client: client, window: window}
}

// Claim reports true the first time id is seen within the window.
func (d *RedisDeduper) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupePrefix+id, time.Now().Unix(), d.window).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w: %w", dedupePrefix+id, sentinel.ErrUnavailable, err)
	}
	return ok, nil
}

// Release forgets id so a redelivery is processed again.
func (d *RedisDeduper) Release(ctx context.Context, id string) error {
	if err := d.client.Del(ctx, dedupePrefix+id).Err(); err != nil {
		return fmt.Errorf("del %s: %w: %w", dedupePrefix+id, sentinel.ErrUnavailable, err)
	}
	return nil
}
