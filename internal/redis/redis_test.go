package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestPresenceMirror(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	store := NewPresenceStore(client, NewPublisher(client), time.Hour)

	sub := client.Subscribe(ctx, PresenceChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	status, err := store.GetPresence(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, status.IsOnline)
	assert.True(t, status.LastSeen.IsZero())

	require.NoError(t, store.SetOnline(ctx, "alice"))
	status, err = store.GetPresence(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, status.IsOnline)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"userId":"alice","isOnline":true,"lastSeen":"0001-01-01T00:00:00Z"}`, msg.Payload)

	seen := time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)
	require.NoError(t, store.SetOffline(ctx, "alice", seen))
	status, err = store.GetPresence(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, status.IsOnline)
	assert.True(t, seen.Equal(status.LastSeen))

	// reconnecting keeps the previous lastSeen
	require.NoError(t, store.SetOnline(ctx, "alice"))
	status, err = store.GetPresence(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, status.IsOnline)
	assert.True(t, seen.Equal(status.LastSeen))

	n, err := store.GetOnlineCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, store.ResetOnline(ctx))
	n, err = store.GetOnlineCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnreadCounters(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	unread := NewUnreadStore(client)

	for i := 0; i < 3; i++ {
		_, err := unread.Increment(ctx, "bob", "direct:alice:bob")
		require.NoError(t, err)
	}
	n, err := unread.Increment(ctx, "bob", "group:eng")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = unread.Get(ctx, "bob", "direct:alice:bob")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = unread.Decrement(ctx, "bob", "direct:alice:bob")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, unread.Reset(ctx, "bob", "direct:alice:bob"))
	n, err = unread.Decrement(ctx, "bob", "direct:alice:bob")
	require.NoError(t, err)
	assert.Zero(t, n, "never below zero")

	n, err = unread.Get(ctx, "bob", "direct:alice:bob")
	require.NoError(t, err)
	assert.Zero(t, n)

	all, err := unread.All(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"group:eng": 1}, all)
}

func TestRateLimiterWindow(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()
	limiter := NewRateLimiter(client, RateLimitConfig{MessageLimit: 2, MessageWindow: 10 * time.Second})

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	res, err := limiter.AllowMessage(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	// other users are unaffected
	ok, err := limiter.Allow(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(11 * time.Second)
	ok, err = limiter.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, limiter.ResetUser(ctx, "alice"))
}

func TestRequestLimitIsSeparateFromSends(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	limiter := NewRateLimiter(client, RateLimitConfig{
		MessageLimit: 1, MessageWindow: time.Minute,
		RequestLimit: 1, RequestWindow: time.Minute,
	})

	res, err := limiter.AllowRequest(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	res, err = limiter.AllowRequest(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	ok, err := limiter.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	unlimited := NewRateLimiter(client, RateLimitConfig{MessageLimit: 1, MessageWindow: time.Minute})
	res, err = unlimited.AllowRequest(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRosterCache(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()
	cache := NewCacheStore(client, CacheConfig{RosterTTL: time.Minute})

	_, hit, err := cache.GetRoster(ctx, "eng")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.SetRoster(ctx, "eng", []string{"alice", "carol"}))
	members, hit, err := cache.GetRoster(ctx, "eng")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"alice", "carol"}, members)

	mr.FastForward(2 * time.Minute)
	_, hit, err = cache.GetRoster(ctx, "eng")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.SetRoster(ctx, "eng", []string{"alice"}))
	require.NoError(t, cache.InvalidateRoster(ctx, "eng"))
	_, hit, err = cache.GetRoster(ctx, "eng")
	require.NoError(t, err)
	assert.False(t, hit)
}
