//go:build integration

package shopifysession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"shopauth/pkg/sentinel"
	"shopauth/pkg/shopify"
	"shopauth/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite

	pg    *containers.PostgresContainer
	now   time.Time
	store *PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T(), "file://../../migrations")
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.pg.Pool.Exec(context.Background(), `TRUNCATE shopify_sessions`)
	s.Require().NoError(err)

	s.now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.store = NewPostgresStore(s.pg.Pool, WithClock(func() time.Time { return s.now }))
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	sess := onlineSession(s.now.Add(15 * time.Minute))

	s.Require().NoError(s.store.StoreSession(ctx, sess))

	got, err := s.store.LoadSession(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(sess.AccessToken, got.AccessToken)
	s.True(sess.Expires.Equal(got.Expires))
	s.Require().NotNil(got.OnlineAccessInfo)
	s.Equal("staff@example.com", got.OnlineAccessInfo.AssociatedUser.Email)

	sess.AccessToken = "shpat_rotated"
	s.Require().NoError(s.store.StoreSession(ctx, sess))
	got, err = s.store.LoadSession(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal("shpat_rotated", got.AccessToken)

	s.Require().NoError(s.store.DeleteSession(ctx, sess.ID))
	s.Require().ErrorIs(s.store.DeleteSession(ctx, sess.ID), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestExpiredRowsAreInvisible() {
	ctx := context.Background()
	sess := onlineSession(s.now.Add(-time.Second))
	s.Require().NoError(s.store.StoreSession(ctx, sess))

	_, err := s.store.LoadSession(ctx, sess.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	n, err := s.store.PurgeExpired(ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}

func (s *PostgresStoreSuite) TestOfflineSessionWithoutExpiry() {
	ctx := context.Background()
	sess := &shopify.Session{ID: "offline_shop.myshopify.com", Shop: "shop.myshopify.com", AccessToken: "tok"}
	s.Require().NoError(s.store.StoreSession(ctx, sess))

	got, err := s.store.LoadSession(ctx, sess.ID)
	s.Require().NoError(err)
	s.Nil(got.OnlineAccessInfo)
	s.True(got.Expires.Equal(s.now.Add(time.Hour)))
}
