package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/dbd-fish/templete-web-system"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return mr, client
}

func TestRedisDenylist_RevokeUntilExpiry(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	clock := newTestClock()

	denylist := auth.NewRedisDenylist(client, clock.Now)

	revoked, err := denylist.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, denylist.Revoke(ctx, "jti-1", clock.Now().Add(time.Minute)))

	revoked, err = denylist.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(61 * time.Second)

	revoked, err = denylist.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRedisDenylist_IgnoresExpiredAndEmpty(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	clock := newTestClock()

	denylist := auth.NewRedisDenylist(client, clock.Now)

	require.NoError(t, denylist.Revoke(ctx, "jti-old", clock.Now().Add(-time.Second)))
	require.NoError(t, denylist.Revoke(ctx, "", clock.Now().Add(time.Hour)))
	assert.Empty(t, mr.Keys())

	revoked, err := denylist.IsRevoked(ctx, "")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRedisDenylist_ServerDown(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	denylist := auth.NewRedisDenylist(client, nil)

	mr.Close()

	_, err := denylist.IsRevoked(ctx, "jti-1")
	assert.Error(t, err)
	assert.Error(t, denylist.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)))
}
