package shopifysession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"shopauth/pkg/sentinel"
	"shopauth/pkg/shopify"
)

const keyPrefix = "Shopify.Session."

// RedisStore keeps each session as JSON under Shopify.Session.<id>, expiring
// with the access token.
type RedisStore struct {
	client *redis.Client
	opts   options
}

func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{client: client, opts: newOptions(opts)}
}

func (s *RedisStore) key(id string) string {
	return keyPrefix + id
}

func (s *RedisStore) StoreSession(ctx context.Context, sess *shopify.Session) error {
	if err := validate(sess); err != nil {
		return err
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}

	ctx, cancel := s.opts.scope(ctx)
	defer cancel()
	if err := s.client.Set(ctx, s.key(sess.ID), b, sess.TTL()).Err(); err != nil {
		return fmt.Errorf("set %s: %w: %w", s.key(sess.ID), sentinel.ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) LoadSession(ctx context.Context, id string) (*shopify.Session, error) {
	ctx, cancel := s.opts.scope(ctx)
	defer cancel()

	b, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("shopify session %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w: %w", s.key(id), sentinel.ErrUnavailable, err)
	}

	var sess shopify.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("decode shopify session %s: %w: %w", id, sentinel.ErrInconsistent, err)
	}
	return &sess, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	ctx, cancel := s.opts.scope(ctx)
	defer cancel()

	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("del %s: %w: %w", s.key(id), sentinel.ErrUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("shopify session %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}
