package shop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopauth/pkg/sentinel"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// failCommand makes one Redis command fail while the rest reach the server.
type failCommand string

func (f failCommand) DialHook(next redis.DialHook) redis.DialHook { return next }

func (f failCommand) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == string(f) {
			err := errors.New("ERR connection reset by peer")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (f failCommand) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

type recordingMetrics struct {
	storeCalls []string
	storeErrs  int
	ops        map[string]string
	cascade    []string
}

func (m *recordingMetrics) ObserveStoreCall(op string, _ time.Duration, err error) {
	m.storeCalls = append(m.storeCalls, op)
	if err != nil {
		m.storeErrs++
	}
}

func (m *recordingMetrics) ObserveOperation(op, result string) {
	if m.ops == nil {
		m.ops = map[string]string{}
	}
	m.ops[op] = result
}

func (m *recordingMetrics) IncCascadeFailure(stage string) {
	m.cascade = append(m.cascade, stage)
}

func TestUserIndex(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	idx := NewUserIndex(client)

	require.NoError(t, idx.Add(ctx, "shop.myshopify.com", "u1"))
	require.NoError(t, idx.Add(ctx, "shop.myshopify.com", "u1"))
	require.NoError(t, idx.Add(ctx, "shop.myshopify.com", "u2"))

	members, err := mr.Members("User.Shops.shop.myshopify.com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, members)

	got, err := idx.List(ctx, "shop.myshopify.com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, got)

	empty, err := idx.List(ctx, "other.myshopify.com")
	require.NoError(t, err)
	assert.Empty(t, empty)

	removed, err := idx.RemoveUser(ctx, "shop.myshopify.com", "u2")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = idx.RemoveUser(ctx, "shop.myshopify.com", "u2")
	require.NoError(t, err)
	assert.False(t, removed)

	existed, err := idx.Delete(ctx, "shop.myshopify.com")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = idx.Delete(ctx, "shop.myshopify.com")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.False(t, mr.Exists("User.Shops.shop.myshopify.com"))
}

func TestUserIndex_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	m := &recordingMetrics{}
	idx := NewUserIndex(client, WithStoreMetrics(m))

	mr.SetError("LOADING dataset in memory")

	err := idx.Add(ctx, "shop.myshopify.com", "u1")
	require.ErrorIs(t, err, sentinel.ErrUnavailable)

	_, err = idx.List(ctx, "shop.myshopify.com")
	require.ErrorIs(t, err, sentinel.ErrUnavailable)

	_, err = idx.Delete(ctx, "shop.myshopify.com")
	require.ErrorIs(t, err, sentinel.ErrUnavailable)

	assert.Equal(t, []string{"sadd", "smembers", "del"}, m.storeCalls)
	assert.Equal(t, 3, m.storeErrs)
}

func TestSessionPointers(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	ptrs := NewSessionPointers(client)

	require.NoError(t, ptrs.Set(ctx, "u1", "shop.com", "sess1", time.Hour))

	raw, err := mr.Get("User.ShopSessions.u1.shop.com")
	require.NoError(t, err)
	assert.Equal(t, "sess1", raw)
	assert.Equal(t, time.Hour, mr.TTL("User.ShopSessions.u1.shop.com"))

	got, err := ptrs.Get(ctx, "u1", "shop.com")
	require.NoError(t, err)
	assert.Equal(t, "sess1", got)

	// Set replaces and refreshes the TTL.
	require.NoError(t, ptrs.Set(ctx, "u1", "shop.com", "sess2", 2*time.Hour))
	got, err = ptrs.Get(ctx, "u1", "shop.com")
	require.NoError(t, err)
	assert.Equal(t, "sess2", got)
	assert.Equal(t, 2*time.Hour, mr.TTL("User.ShopSessions.u1.shop.com"))

	_, err = ptrs.Get(ctx, "u9", "shop.com")
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	existed, err := ptrs.Delete(ctx, "u1", "shop.com")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = ptrs.Delete(ctx, "u1", "shop.com")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestSessionPointers_Expiry(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	ptrs := NewSessionPointers(client)

	require.NoError(t, ptrs.Set(ctx, "u1", "shop.com", "sess1", 3*time.Second))
	mr.FastForward(4 * time.Second)

	_, err := ptrs.Get(ctx, "u1", "shop.com")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestSessionPointers_RejectsNonPositiveTTL(t *testing.T) {
	_, client := newTestRedis(t)
	ptrs := NewSessionPointers(client)

	err := ptrs.Set(context.Background(), "u1", "shop.com", "sess1", 0)
	require.ErrorIs(t, err, sentinel.ErrInvalidInput)
}

func TestSessionPointers_Many(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	ptrs := NewSessionPointers(client)

	require.NoError(t, ptrs.Set(ctx, "u1", "shop.com", "sess1", time.Hour))
	require.NoError(t, ptrs.Set(ctx, "u2", "shop.com", "sess2", time.Hour))

	ids, err := ptrs.GetMany(ctx, []string{"u1", "u2", "u3"}, "shop.com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sess1", "sess2"}, ids)

	ids, err = ptrs.GetMany(ctx, nil, "shop.com")
	require.NoError(t, err)
	assert.Empty(t, ids)

	err = ptrs.DeleteMany(ctx, []string{"u1", "u2", "u3"}, "shop.com")
	require.ErrorIs(t, err, sentinel.ErrInconsistent)

	_, err = ptrs.Get(ctx, "u1", "shop.com")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = ptrs.Get(ctx, "u2", "shop.com")
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, ptrs.DeleteMany(ctx, nil, "shop.com"))
}

func TestSessionPointers_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	ptrs := NewSessionPointers(client)

	mr.SetError("READONLY You can't write against a read only replica")

	require.ErrorIs(t, ptrs.Set(ctx, "u1", "shop.com", "sess1", time.Hour), sentinel.ErrUnavailable)

	_, err := ptrs.Get(ctx, "u1", "shop.com")
	require.ErrorIs(t, err, sentinel.ErrUnavailable)
	require.NotErrorIs(t, err, sentinel.ErrNotFound)

	_, err = ptrs.GetMany(ctx, []string{"u1"}, "shop.com")
	require.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestStoreTimeout(t *testing.T) {
	mr, client := newTestRedis(t)
	idx := NewUserIndex(client, WithStoreTimeout(50*time.Millisecond))

	mr.Close()

	start := time.Now()
	_, err := idx.List(context.Background(), "shop.com")
	require.ErrorIs(t, err, sentinel.ErrUnavailable)
	assert.Less(t, time.Since(start), 5*time.Second)
}
