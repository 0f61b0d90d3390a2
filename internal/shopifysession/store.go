// Package shopifysession persists Shopify OAuth sessions, the records holding
// the actual access tokens. Redis is the default backend; Postgres is available
// for deployments that want sessions to survive a cache flush.
package shopifysession

import (
	"context"
	"fmt"
	"time"

	"shopauth/pkg/sentinel"
	"shopauth/pkg/shopify"
)

// Store is implemented by RedisStore and PostgresStore.
type Store interface {
	StoreSession(ctx context.Context, sess *shopify.Session) error
	LoadSession(ctx context.Context, id string) (*shopify.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

const defaultTimeout = 2 * time.Second

type Option func(*options)

type options struct {
	timeout time.Duration
	now     func() time.Time
}

// WithTimeout bounds each backend call; zero or negative disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{timeout: defaultTimeout, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func (o options) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.timeout)
}

func validate(sess *shopify.Session) error {
	if sess == nil || sess.ID == "" || sess.Shop == "" || sess.AccessToken == "" {
		return fmt.Errorf("session id, shop and access token are required: %w", sentinel.ErrInvalidInput)
	}
	return nil
}
