package shop

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// UserIndex is the per-shop set of member user ids.
type UserIndex struct {
	client *redis.Client
	cfg    storeConfig
}

func NewUserIndex(client *redis.Client, opts ...StoreOption) *UserIndex {
	return &UserIndex{client: client, cfg: newStoreConfig(opts)}
}

func (u *UserIndex) key(shop string) string {
	return shopUsersPrefix + keySep + shop
}

// Add puts userID into the shop's set. Adding an existing member succeeds.
func (u *UserIndex) Add(ctx context.Context, shop, userID string) error {
	key := u.key(shop)
	ctx, done := u.cfg.begin(ctx, "sadd")
	err := u.client.SAdd(ctx, key, userID).Err()
	done(err)
	if err != nil {
		return unavailable("sadd", key, err)
	}
	return nil
}

// List returns the shop's members. A shop nobody installed yields an empty slice.
func (u *UserIndex) List(ctx context.Context, shop string) ([]string, error) {
	key := u.key(shop)
	ctx, done := u.cfg.begin(ctx, "smembers")
	members, err := u.client.SMembers(ctx, key).Result()
	done(err)
	if err != nil {
		return nil, unavailable("smembers", key, err)
	}
	return members, nil
}

// Delete drops the whole set and reports whether it existed.
func (u *UserIndex) Delete(ctx context.Context, shop string) (bool, error) {
	key := u.key(shop)
	ctx, done := u.cfg.begin(ctx, "del")
	n, err := u.client.Del(ctx, key).Result()
	done(err)
	if err != nil {
		return false, unavailable("del", key, err)
	}
	return n == 1, nil
}

// RemoveUser drops one member and reports whether it was present.
func (u *UserIndex) RemoveUser(ctx context.Context, shop, userID string) (bool, error) {
	key := u.key(shop)
	ctx, done := u.cfg.begin(ctx, "srem")
	n, err := u.client.SRem(ctx, key, userID).Result()
	done(err)
	if err != nil {
		return false, unavailable("srem", key, err)
	}
	return n == 1, nil
}
