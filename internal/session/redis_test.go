package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *RedisStore {
	redisURL := os.Getenv("TABLESTORE_TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TABLESTORE_TEST_REDIS_URL not set, skipping Redis tests")
	}
	client, err := DialRedis(context.Background(), redisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "tablestore:test:"+t.Name()+":")
}

func TestRedisStore_SaveGetDelete(t *testing.T) {
	r := setupRedis(t)
	ctx := context.Background()
	s := newSession(t, time.Hour)

	require.NoError(t, r.Save(ctx, s))

	got, err := r.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.AccountID, got.AccountID)
	assert.Equal(t, "a@x.com", got.User.Email)

	ttl, err := r.client.TTL(ctx, r.key(s.ID)).Result()
	require.NoError(t, err)
	assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 5)

	require.NoError(t, r.Delete(ctx, s.ID))
	_, err = r.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_SaveExpiredDeletes(t *testing.T) {
	r := setupRedis(t)
	ctx := context.Background()
	s := newSession(t, time.Hour)
	require.NoError(t, r.Save(ctx, s))

	s.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, r.Save(ctx, s))

	_, err := r.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDialRedis_BadURL(t *testing.T) {
	_, err := DialRedis(context.Background(), "not-a-url")
	assert.Error(t, err)
}
