package notifications

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestHub_BroadcastReachesEveryConnectionOfUser(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil)
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })

	a1, err := hub.Register("alice", nil)
	require.NoError(t, err)
	a2, err := hub.Register("alice", nil)
	require.NoError(t, err)
	b, err := hub.Register("bob", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, hub.Broadcast("alice", []byte("hi")))
	assert.Equal(t, []byte("hi"), <-a1.Send)
	assert.Equal(t, []byte("hi"), <-a2.Send)
	assert.Empty(t, b.Send)

	assert.Zero(t, hub.Broadcast("nobody", []byte("hi")))
}

func TestHub_PerUserLimit(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil)
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })

	for i := 0; i < maxConnsPerUser; i++ {
		_, err := hub.Register("alice", nil)
		require.NoError(t, err)
	}
	_, err := hub.Register("alice", nil)
	assert.ErrorIs(t, err, ErrUserConnLimit)
	assert.Equal(t, maxConnsPerUser, hub.ConnectionCount("alice"))
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil)
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })

	c, err := hub.Register("alice", nil)
	require.NoError(t, err)

	hub.UnregisterClient(c)
	hub.UnregisterClient(c)
	assert.Zero(t, hub.ConnectionCount("alice"))

	// sending to a closed buffer is swallowed
	assert.False(t, c.TrySend([]byte("late")))
}

func TestHub_FullBufferDropsFrame(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil)
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })

	c, err := hub.Register("alice", nil)
	require.NoError(t, err)
	for i := 0; i < sendBufferSize; i++ {
		require.True(t, c.TrySend([]byte("x")))
	}
	assert.False(t, c.TrySend([]byte("overflow")))
}

func TestHub_ShutdownRefusesNewConnections(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil)

	c, err := hub.Register("alice", nil)
	require.NoError(t, err)
	require.NoError(t, hub.Shutdown(context.Background()))
	require.NoError(t, hub.Shutdown(context.Background()))

	_, ok := <-c.Send
	assert.False(t, ok, "send buffer is closed on shutdown")

	_, err = hub.Register("alice", nil)
	assert.ErrorIs(t, err, ErrHubClosed)
}

func TestPresence_GraceSuppressesOfflineOnRapidReconnect(t *testing.T) {
	t.Parallel()
	var offline int32
	p := NewPresence(nil, PresenceConfig{OfflineGracePeriod: 40 * time.Millisecond})
	p.SetCallbacks(nil, func(string) { atomic.AddInt32(&offline, 1) })
	hub := NewHub(p)
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })

	c, err := hub.Register("alice", nil)
	require.NoError(t, err)
	hub.UnregisterClient(c)
	_, err = hub.Register("alice", nil)
	require.NoError(t, err)

	assert.Never(t, func() bool { return atomic.LoadInt32(&offline) > 0 }, 10*testPollInterval, testPollInterval)
	assert.True(t, hub.IsOnline(context.Background(), "alice"))
}

func TestPresence_LastDisconnectGoesOfflineOnce(t *testing.T) {
	t.Parallel()
	var online, offline int32
	p := NewPresence(nil, PresenceConfig{OfflineGracePeriod: 20 * time.Millisecond})
	p.SetCallbacks(
		func(string) { atomic.AddInt32(&online, 1) },
		func(string) { atomic.AddInt32(&offline, 1) },
	)
	hub := NewHub(p)
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })

	a, err := hub.Register("alice", nil)
	require.NoError(t, err)
	b, err := hub.Register("alice", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&online))

	hub.UnregisterClient(a)
	assert.Never(t, func() bool { return atomic.LoadInt32(&offline) > 0 }, 5*testPollInterval, testPollInterval)

	hub.UnregisterClient(b)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&offline) == 1 }, testEventuallyTimeout, testPollInterval)
	assert.False(t, hub.IsOnline(context.Background(), "alice"))
}

func TestPresence_RedisMirrorsAndReaps(t *testing.T) {
	t.Parallel()
	mr, rdb := newTestRedis(t)
	var offline int32
	p := NewPresence(rdb, PresenceConfig{LastSeenTTL: 30 * time.Second})
	p.SetCallbacks(nil, func(string) { atomic.AddInt32(&offline, 1) })
	t.Cleanup(p.Stop)
	ctx := context.Background()

	p.Register(ctx, "alice")
	assert.True(t, mr.Exists(defaultLastSeenKeyPrefix+"alice"))
	isMember, err := rdb.SIsMember(ctx, defaultOnlineSetKey, "alice").Result()
	require.NoError(t, err)
	assert.True(t, isMember)

	// another instance's user whose marker expired
	require.NoError(t, rdb.SAdd(ctx, defaultOnlineSetKey, "ghost").Err())
	assert.False(t, p.IsOnline(ctx, "ghost"))

	p.reapOnce(ctx)
	isMember, err = rdb.SIsMember(ctx, defaultOnlineSetKey, "ghost").Result()
	require.NoError(t, err)
	assert.False(t, isMember)
	assert.Equal(t, int32(1), atomic.LoadInt32(&offline))

	// a marker written elsewhere counts as online here
	require.NoError(t, rdb.Set(ctx, defaultLastSeenKeyPrefix+"remote", "1", time.Minute).Err())
	assert.True(t, p.IsOnline(ctx, "remote"))
}

func TestPresence_RedisGoesOfflineAfterGraceNotTTL(t *testing.T) {
	t.Parallel()
	mr, rdb := newTestRedis(t)
	var offline int32
	p := NewPresence(rdb, PresenceConfig{
		LastSeenTTL:        time.Minute,
		OfflineGracePeriod: 20 * time.Millisecond,
		ReaperInterval:     time.Hour,
	})
	p.SetCallbacks(nil, func(string) { atomic.AddInt32(&offline, 1) })
	t.Cleanup(p.Stop)
	ctx := context.Background()

	p.Register(ctx, "alice")
	require.True(t, p.IsOnline(ctx, "alice"))

	p.Unregister(ctx, "alice")
	assert.False(t, mr.Exists(defaultLastSeenKeyPrefix+"alice"))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&offline) == 1 }, testEventuallyTimeout, testPollInterval)
	assert.False(t, p.IsOnline(ctx, "alice"))

	isMember, err := rdb.SIsMember(ctx, defaultOnlineSetKey, "alice").Result()
	require.NoError(t, err)
	assert.False(t, isMember)
}

func TestPresence_RedisReconnectInsideGraceStaysOnline(t *testing.T) {
	t.Parallel()
	mr, rdb := newTestRedis(t)
	var online, offline int32
	p := NewPresence(rdb, PresenceConfig{OfflineGracePeriod: 40 * time.Millisecond, ReaperInterval: time.Hour})
	p.SetCallbacks(
		func(string) { atomic.AddInt32(&online, 1) },
		func(string) { atomic.AddInt32(&offline, 1) },
	)
	t.Cleanup(p.Stop)
	ctx := context.Background()

	p.Register(ctx, "alice")
	p.Unregister(ctx, "alice")
	p.Register(ctx, "alice")

	assert.Never(t, func() bool { return atomic.LoadInt32(&offline) > 0 }, 10*testPollInterval, testPollInterval)
	assert.Equal(t, int32(1), atomic.LoadInt32(&online))
	assert.True(t, mr.Exists(defaultLastSeenKeyPrefix+"alice"))
	assert.True(t, p.IsOnline(ctx, "alice"))
}
