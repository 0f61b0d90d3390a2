package shopifysession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"shopauth/pkg/sentinel"
	"shopauth/pkg/shopify"
)

// PostgresStore keeps sessions in the shopify_sessions table. Expired rows are
// invisible to LoadSession; PurgeExpired removes them.
type PostgresStore struct {
	db   *pgxpool.Pool
	opts options
}

func NewPostgresStore(db *pgxpool.Pool, opts ...Option) *PostgresStore {
	return &PostgresStore{db: db, opts: newOptions(opts)}
}

func (s *PostgresStore) StoreSession(ctx context.Context, sess *shopify.Session) error {
	if err := validate(sess); err != nil {
		return err
	}

	var info []byte
	if sess.OnlineAccessInfo != nil {
		b, err := json.Marshal(sess.OnlineAccessInfo)
		if err != nil {
			return fmt.Errorf("encode online access info: %w", err)
		}
		info = b
	}

	expires := sess.Expires
	if expires.IsZero() {
		expires = s.opts.now().Add(sess.TTL())
	}

	const q = `
INSERT INTO shopify_sessions (id, shop, state, is_online, scope, access_token, expires_at, online_access_info)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
  shop = EXCLUDED.shop,
  state = EXCLUDED.state,
  is_online = EXCLUDED.is_online,
  scope = EXCLUDED.scope,
  access_token = EXCLUDED.access_token,
  expires_at = EXCLUDED.expires_at,
  online_access_info = EXCLUDED.online_access_info,
  updated_at = NOW()
`
	ctx, cancel := s.opts.scope(ctx)
	defer cancel()
	if _, err := s.db.Exec(ctx, q, sess.ID, sess.Shop, sess.State, sess.IsOnline, sess.Scope, sess.AccessToken, expires, info); err != nil {
		return fmt.Errorf("upsert shopify session %s: %w: %w", sess.ID, sentinel.ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) LoadSession(ctx context.Context, id string) (*shopify.Session, error) {
	const q = `
SELECT id, shop, state, is_online, scope, access_token, expires_at, online_access_info
FROM shopify_sessions
WHERE id = $1
  AND expires_at > $2
`
	ctx, cancel := s.opts.scope(ctx)
	defer cancel()

	var (
		sess shopify.Session
		info []byte
	)
	err := s.db.QueryRow(ctx, q, id, s.opts.now()).Scan(
		&sess.ID, &sess.Shop, &sess.State, &sess.IsOnline, &sess.Scope, &sess.AccessToken, &sess.Expires, &info,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("shopify session %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load shopify session %s: %w: %w", id, sentinel.ErrUnavailable, err)
	}
	if len(info) > 0 {
		var oai shopify.OnlineAccessInfo
		if err := json.Unmarshal(info, &oai); err != nil {
			return nil, fmt.Errorf("decode online access info of %s: %w: %w", id, sentinel.ErrInconsistent, err)
		}
		sess.OnlineAccessInfo = &oai
	}
	return &sess, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	ctx, cancel := s.opts.scope(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx, `DELETE FROM shopify_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete shopify session %s: %w: %w", id, sentinel.ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("shopify session %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

// PurgeExpired deletes rows whose token has expired and returns how many went.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	ctx, cancel := s.opts.scope(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx, `DELETE FROM shopify_sessions WHERE expires_at <= $1`, s.opts.now())
	if err != nil {
		return 0, fmt.Errorf("purge expired shopify sessions: %w: %w", sentinel.ErrUnavailable, err)
	}
	return tag.RowsAffected(), nil
}
