package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/advisor/internal/gateway"
)

func newRedisCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisCache(rdb, ttl), mr
}

func TestRedisCache_RoundTrip(t *testing.T) {
	cache, mr := newRedisCache(t, time.Minute)
	ctx := context.Background()

	detail := &gateway.SessionDetail{
		SessionID: "s1",
		Messages:  []gateway.SessionMessage{{ID: 7, Role: "user", Content: json.RawMessage(`{"text":"hi"}`)}},
		Timeline:  json.RawMessage(`{"events":[]}`),
	}
	require.NoError(t, cache.Set(ctx, "user-1", detail))
	assert.True(t, mr.Exists("advisor:detail:user-1:s1"))
	assert.Equal(t, time.Minute, mr.TTL("advisor:detail:user-1:s1"))

	got, err := cache.Get(ctx, "user-1", "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(7), got.Messages[0].ID)
	assert.JSONEq(t, `{"text":"hi"}`, string(got.Messages[0].Content))
	assert.JSONEq(t, `{"events":[]}`, string(got.Timeline))
}

func TestRedisCache_MissAndScope(t *testing.T) {
	cache, _ := newRedisCache(t, time.Minute)
	ctx := context.Background()

	got, err := cache.Get(ctx, "user-1", "absent")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, cache.Set(ctx, "user-1", &gateway.SessionDetail{SessionID: "s1"}))
	got, err = cache.Get(ctx, "user-2", "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCache_Expiry(t *testing.T) {
	cache, mr := newRedisCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "u", &gateway.SessionDetail{SessionID: "s1"}))
	mr.FastForward(2 * time.Minute)

	got, err := cache.Get(ctx, "u", "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCache_Delete(t *testing.T) {
	cache, _ := newRedisCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "u", &gateway.SessionDetail{SessionID: "s1"}))
	require.NoError(t, cache.Delete(ctx, "u", "s1"))

	got, err := cache.Get(ctx, "u", "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	cache, mr := newRedisCache(t, time.Minute)
	require.NoError(t, mr.Set("advisor:detail:u:s1", "not json"))

	_, err := cache.Get(context.Background(), "u", "s1")
	assert.Error(t, err)
}

func TestMemoryCache_Expiry(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "u", &gateway.SessionDetail{SessionID: "s1"}))
	got, err := cache.Get(ctx, "u", "s1")
	require.NoError(t, err)
	require.NotNil(t, got)

	now = now.Add(2 * time.Minute)
	got, err = cache.Get(ctx, "u", "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_ForgetClearsCache(t *testing.T) {
	cache, _ := newRedisCache(t, time.Minute)
	b := &mockBackend{}
	s := NewStore(StoreConfig{Backend: b, Cache: cache, Scope: "u"})
	ctx := context.Background()

	_, err := s.LoadSessionDetail(ctx, "s1", false)
	require.NoError(t, err)
	s.Forget(ctx, "s1")

	_, err = s.LoadSessionDetail(ctx, "s1", false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), b.detailCalls.Load())
}
