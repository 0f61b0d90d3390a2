package shop

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"shopauth/pkg/sentinel"
)

// SessionPointers maps (user, shop) to the Shopify session id the user
// installed with. Liveness is the Redis TTL alone.
type SessionPointers struct {
	client *redis.Client
	cfg    storeConfig
}

func NewSessionPointers(client *redis.Client, opts ...StoreOption) *SessionPointers {
	return &SessionPointers{client: client, cfg: newStoreConfig(opts)}
}

func (p *SessionPointers) key(userID, shop string) string {
	return sessionPointerPrefix + keySep + userID + keySep + shop
}

func (p *SessionPointers) keys(userIDs []string, shop string) []string {
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, p.key(id, shop))
	}
	return keys
}

// Set stores the pointer, replacing any previous one for the pair.
func (p *SessionPointers) Set(ctx context.Context, userID, shop, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("session pointer ttl must be positive: %w", sentinel.ErrInvalidInput)
	}
	key := p.key(userID, shop)
	ctx, done := p.cfg.begin(ctx, "set")
	err := p.client.Set(ctx, key, sessionID, ttl).Err()
	done(err)
	if err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

// Get returns sentinel.ErrNotFound when the pointer was never set or has expired.
func (p *SessionPointers) Get(ctx context.Context, userID, shop string) (string, error) {
	key := p.key(userID, shop)
	ctx, done := p.cfg.begin(ctx, "get")
	v, err := p.client.Get(ctx, key).Result()
	if isNil(err) {
		done(nil)
		return "", fmt.Errorf("session pointer %s: %w", key, sentinel.ErrNotFound)
	}
	done(err)
	if err != nil {
		return "", unavailable("get", key, err)
	}
	return v, nil
}

// GetMany returns the pointers present for userIDs on shop, skipping absent ones.
func (p *SessionPointers) GetMany(ctx context.Context, userIDs []string, shop string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	keys := p.keys(userIDs, shop)
	ctx, done := p.cfg.begin(ctx, "mget")
	vals, err := p.client.MGet(ctx, keys...).Result()
	done(err)
	if err != nil {
		return nil, unavailable("mget", shop, err)
	}

	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// Delete removes one pointer and reports whether it existed.
func (p *SessionPointers) Delete(ctx context.Context, userID, shop string) (bool, error) {
	key := p.key(userID, shop)
	ctx, done := p.cfg.begin(ctx, "del")
	n, err := p.client.Del(ctx, key).Result()
	done(err)
	if err != nil {
		return false, unavailable("del", key, err)
	}
	return n == 1, nil
}

// DeleteMany removes the pointers of userIDs on shop. Removing fewer keys than
// requested is reported as sentinel.ErrInconsistent so callers can log or retry.
func (p *SessionPointers) DeleteMany(ctx context.Context, userIDs []string, shop string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := p.keys(userIDs, shop)
	ctx, done := p.cfg.begin(ctx, "del")
	n, err := p.client.Del(ctx, keys...).Result()
	done(err)
	if err != nil {
		return unavailable("del", shop, err)
	}
	if int(n) != len(keys) {
		return fmt.Errorf("deleted %d of %d session pointers for %s: %w", n, len(keys), shop, sentinel.ErrInconsistent)
	}
	return nil
}
