// Package shop keeps the association between application users, Shopify shops
// and Shopify OAuth sessions.
//
// Two Redis structures hold the state:
//
//	User.Shops.<shop>               set of user ids installed on the shop
//	User.ShopSessions.<user>.<shop> Shopify session id, expiring with the token
//
// The set is the authorization boundary. A pointer is only ever consulted for a
// user that is a member of the set, so a stale pointer cannot leak a token.
//
// Writes span several keys and are not transactional. A DeleteShop racing a
// SaveSession for the same user can leave a pointer without membership; it is
// unreachable because reads check membership first, and it expires with its TTL.
package shop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"shopauth/pkg/sentinel"
)

const (
	shopUsersPrefix      = "User.Shops"
	sessionPointerPrefix = "User.ShopSessions"
	keySep               = "."

	// DefaultStoreTimeout bounds a single store call when no timeout is configured.
	DefaultStoreTimeout = 2 * time.Second
)

// Metrics receives store and service observations. A nil Metrics is allowed.
type Metrics interface {
	ObserveStoreCall(op string, d time.Duration, err error)
	ObserveOperation(op, result string)
	IncCascadeFailure(stage string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveStoreCall(string, time.Duration, error) {}
func (nopMetrics) ObserveOperation(string, string)               {}
func (nopMetrics) IncCascadeFailure(string)                      {}

// StoreOption configures UserIndex and SessionPointers.
type StoreOption func(*storeConfig)

// WithStoreTimeout bounds every store call; zero or negative disables the bound.
func WithStoreTimeout(d time.Duration) StoreOption {
	return func(c *storeConfig) { c.timeout = d }
}

// WithStoreMetrics records per-call latency and failures.
func WithStoreMetrics(m Metrics) StoreOption {
	return func(c *storeConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

type storeConfig struct {
	timeout time.Duration
	metrics Metrics
}

func newStoreConfig(opts []StoreOption) storeConfig {
	c := storeConfig{timeout: DefaultStoreTimeout, metrics: nopMetrics{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	return c
}

// begin scopes ctx to one store call. The returned func must be called with the
// call's error (redis.Nil excluded) once the command has returned.
func (c storeConfig) begin(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func(err error) {
		cancel()
		c.metrics.ObserveStoreCall(op, time.Since(start), err)
	}
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, key, sentinel.ErrUnavailable, err)
}

func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
