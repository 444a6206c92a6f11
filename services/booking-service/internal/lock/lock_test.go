package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotKey(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.FixedZone("X", 3*3600))
	assert.Equal(t, "staff:s1:2026-03-02T06:00:00Z", SlotKey("s1", start))
	assert.Equal(t, "lowSupervision:2026-03-02T06:00:00Z", SlotKey("", start))
}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLocker(rdb, "test"), mr, rdb
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	l, mr, _ := newRedisLocker(t)

	token, ok, err := l.Acquire(ctx, "staff:s1:x", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)
	assert.True(t, mr.Exists("test:staff:s1:x"))

	_, ok, err = l.Acquire(ctx, "staff:s1:x", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "staff:s1:x", token))
	assert.False(t, mr.Exists("test:staff:s1:x"))

	_, ok, err = l.Acquire(ctx, "staff:s1:x", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockerKeyPrefix(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	key := SlotKey("s1", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	for _, prefix := range []string{"", DefaultPrefix, DefaultPrefix + ":"} {
		l := NewRedisLocker(rdb, prefix)
		token, ok, err := l.Acquire(ctx, key, 5*time.Second)
		require.NoError(t, err)
		require.True(t, ok, prefix)
		assert.True(t, mr.Exists("spabook:lock:staff:s1:2026-03-02T09:00:00Z"), prefix)
		require.NoError(t, l.Release(ctx, key, token))
	}
}

func TestRedisLockerExpiredHolderKeepsNewOwner(t *testing.T) {
	ctx := context.Background()
	l, mr, _ := newRedisLocker(t)
	other := NewRedisLocker(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")

	for name, second := range map[string]*RedisLocker{"same instance": l, "other instance": other} {
		t.Run(name, func(t *testing.T) {
			first, ok, err := l.Acquire(ctx, "k", 5*time.Second)
			require.NoError(t, err)
			require.True(t, ok)

			mr.FastForward(6 * time.Second)

			current, ok, err := second.Acquire(ctx, "k", 5*time.Second)
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, l.Release(ctx, "k", first))
			assert.True(t, mr.Exists("test:k"))

			_, ok, err = l.Acquire(ctx, "k", 5*time.Second)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, second.Release(ctx, "k", current))
			assert.False(t, mr.Exists("test:k"))
		})
	}
}

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLocker()
	l.now = func() time.Time { return now }

	first, ok, _ := l.Acquire(ctx, "k", 5*time.Second)
	assert.True(t, ok)
	_, ok, _ = l.Acquire(ctx, "k", 5*time.Second)
	assert.False(t, ok)

	now = now.Add(5 * time.Second)
	second, ok, _ := l.Acquire(ctx, "k", 5*time.Second)
	assert.True(t, ok)

	// The expired holder's release leaves the new hold in place.
	require.NoError(t, l.Release(ctx, "k", first))
	_, ok, _ = l.Acquire(ctx, "k", 5*time.Second)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "k", second))
	_, ok, _ = l.Acquire(ctx, "k", 5*time.Second)
	assert.True(t, ok)
}

func TestGuardGivesUpWithSystemBusy(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	_, ok, _ := l.Acquire(ctx, "k", time.Minute)
	require.True(t, ok)

	g := NewGuard(l, nil)
	start := time.Now()
	_, err := g.Acquire(ctx, "k", 5*time.Second, 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.SystemBusy))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGuardWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	token, ok, _ := l.Acquire(ctx, "k", time.Minute)
	require.True(t, ok)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = l.Release(ctx, "k", token)
	}()

	release, err := NewGuard(l, nil).Acquire(ctx, "k", 5*time.Second, 2*time.Second)
	require.NoError(t, err)
	release()

	_, ok, _ = l.Acquire(ctx, "k", time.Second)
	assert.True(t, ok)
}

func TestGuardReleaseAfterExpiryKeepsNewOwner(t *testing.T) {
	ctx := context.Background()
	l, mr, _ := newRedisLocker(t)
	g := NewGuard(l, nil)

	releaseFirst, err := g.Acquire(ctx, "k", 5*time.Second, 100*time.Millisecond)
	require.NoError(t, err)
	mr.FastForward(6 * time.Second)

	releaseSecond, err := g.Acquire(ctx, "k", 5*time.Second, 100*time.Millisecond)
	require.NoError(t, err)

	releaseFirst()
	assert.True(t, mr.Exists("test:k"))

	releaseSecond()
	assert.False(t, mr.Exists("test:k"))
}
