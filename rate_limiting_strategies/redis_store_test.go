package rate_limiting_strategies

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, clock *fakeClock) (Store, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{
		Addr: server.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, "", clock.Now), server
}

func TestRedisStore_SetAndGet(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, server := newTestRedisStore(t, clock)

	_, found, err := store.Get(ctx, "203.0.113.9")
	require.NoError(t, err)
	assert.False(t, found)

	entry := Entry{
		Count:      4,
		ResetAt:    clock.Now().Add(time.Minute),
		Blocked:    true,
		BlockUntil: clock.Now().Add(15 * time.Minute),
	}
	require.NoError(t, store.Set(ctx, "203.0.113.9", entry))

	got, found, err := store.Get(ctx, "203.0.113.9")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entry.Count, got.Count)
	assert.True(t, got.Blocked)
	assert.True(t, entry.ResetAt.Equal(got.ResetAt))
	assert.True(t, entry.BlockUntil.Equal(got.BlockUntil))

	// TTL follows the block, which outlives the window
	assert.Equal(t, 15*time.Minute, server.TTL(DefaultKeyPrefix+"203.0.113.9"))
}

func TestRedisStore_UnblockedEntryHasZeroBlockTime(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, server := newTestRedisStore(t, clock)

	require.NoError(t, store.Set(ctx, "k", Entry{Count: 1, ResetAt: clock.Now().Add(time.Minute)}))

	got, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, got.Blocked)
	assert.True(t, got.BlockUntil.IsZero())
	assert.Equal(t, time.Minute, server.TTL(DefaultKeyPrefix+"k"))
}

func TestRedisStore_SetExpiredEntryDeletesKey(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, server := newTestRedisStore(t, clock)

	require.NoError(t, store.Set(ctx, "k", Entry{Count: 1, ResetAt: clock.Now().Add(time.Minute)}))
	require.NoError(t, store.Set(ctx, "k", Entry{Count: 1, ResetAt: clock.Now().Add(-time.Second)}))

	assert.False(t, server.Exists(DefaultKeyPrefix+"k"))
}

func TestRedisStore_GetCorruptEntry(t *testing.T) {
	clock := newFakeClock()
	store, server := newTestRedisStore(t, clock)

	server.HSet(DefaultKeyPrefix+"k", fieldCount, "many")

	_, _, err := store.Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestRedisStore_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, server := newTestRedisStore(t, clock)

	require.NoError(t, store.Set(ctx, "short", Entry{Count: 2, ResetAt: clock.Now().Add(time.Minute)}))
	require.NoError(t, store.Set(ctx, "blocked", Entry{
		Count:      6,
		ResetAt:    clock.Now().Add(time.Minute),
		Blocked:    true,
		BlockUntil: clock.Now().Add(time.Hour),
	}))
	server.HSet(DefaultKeyPrefix+"broken", fieldCount, "x")
	server.Set("unrelated", "value")

	removed, err := store.Sweep(ctx, clock.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.False(t, server.Exists(DefaultKeyPrefix+"short"))
	assert.False(t, server.Exists(DefaultKeyPrefix+"broken"))
	assert.True(t, server.Exists(DefaultKeyPrefix+"blocked"))
	assert.True(t, server.Exists("unrelated"))
}

// afterReadHook calls onRead each time the hooked client finishes an HGETALL,
// which lets a test slip a competing write between a read and its EXEC.
type afterReadHook struct {
	onRead func(ctx context.Context)
}

func (h afterReadHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h afterReadHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if cmd.Name() == "hgetall" {
			h.onRead(ctx)
		}
		return err
	}
}

func (h afterReadHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

// newRacingRedisStores returns a store whose reads are each followed by
// onRead, plus a second store on a separate client for onRead to write with.
func newRacingRedisStores(t *testing.T, clock *fakeClock, onRead func(ctx context.Context, other Store)) (Store, Store, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)

	otherClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { otherClient.Close() })
	other := NewRedisStore(otherClient, "", clock.Now)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	client.AddHook(afterReadHook{onRead: func(ctx context.Context) { onRead(ctx, other) }})

	return NewRedisStore(client, "", clock.Now), other, server
}

func TestRedisStore_Update(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, _ := newTestRedisStore(t, clock)

	err := store.Update(ctx, "k", func(entry Entry, found bool) (Entry, bool) {
		assert.False(t, found)
		return Entry{Count: 1, ResetAt: clock.Now().Add(time.Minute)}, true
	})
	require.NoError(t, err)

	err = store.Update(ctx, "k", func(entry Entry, found bool) (Entry, bool) {
		assert.True(t, found)
		entry.Count++
		return entry, true
	})
	require.NoError(t, err)

	got, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), got.Count)
}

func TestRedisStore_UpdateWithoutWriteLeavesKey(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, server := newTestRedisStore(t, clock)

	require.NoError(t, store.Set(ctx, "k", Entry{Count: 3, ResetAt: clock.Now().Add(time.Minute)}))

	err := store.Update(ctx, "k", func(entry Entry, found bool) (Entry, bool) {
		return Entry{Count: 99, ResetAt: clock.Now().Add(time.Hour)}, false
	})
	require.NoError(t, err)

	got, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Count)
	assert.Equal(t, time.Minute, server.TTL(DefaultKeyPrefix+"k"))
}

func TestRedisStore_UpdateCorruptEntry(t *testing.T) {
	clock := newFakeClock()
	store, server := newTestRedisStore(t, clock)

	server.HSet(DefaultKeyPrefix+"k", fieldCount, "many")

	called := false
	err := store.Update(context.Background(), "k", func(entry Entry, found bool) (Entry, bool) {
		called = true
		return entry, true
	})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestRedisStore_UpdateRetriesOnConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()

	raced := false
	store, _, _ := newRacingRedisStores(t, clock, func(ctx context.Context, other Store) {
		if raced {
			return
		}
		raced = true
		require.NoError(t, other.Set(ctx, "k", Entry{Count: 5, ResetAt: clock.Now().Add(time.Minute)}))
	})

	var seen []int64
	err := store.Update(ctx, "k", func(entry Entry, found bool) (Entry, bool) {
		seen = append(seen, entry.Count)
		entry.Count++
		entry.ResetAt = clock.Now().Add(time.Minute)
		return entry, true
	})
	require.NoError(t, err)

	// the first attempt read an empty key and lost to the competing write
	assert.Equal(t, []int64{0, 5}, seen)

	got, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Count)
}

func TestRedisStore_UpdateGivesUpUnderContention(t *testing.T) {
	clock := newFakeClock()

	var writes int64
	store, _, _ := newRacingRedisStores(t, clock, func(ctx context.Context, other Store) {
		writes++
		require.NoError(t, other.Set(ctx, "k", Entry{Count: writes, ResetAt: clock.Now().Add(time.Minute)}))
	})

	calls := 0
	err := store.Update(context.Background(), "k", func(entry Entry, found bool) (Entry, bool) {
		calls++
		return entry, true
	})
	assert.ErrorIs(t, err, ErrUpdateContention)
	assert.Equal(t, maxUpdateAttempts, calls)
}

func TestRedisStore_SweepKeepsKeyRewrittenDuringSweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()

	var fresh Entry
	rewritten := false
	store, _, server := newRacingRedisStores(t, clock, func(ctx context.Context, other Store) {
		if rewritten {
			return
		}
		rewritten = true
		// a limiter in another process starts a new window for the key
		fresh = Entry{Count: 1, ResetAt: clock.Now().Add(3 * time.Minute)}
		require.NoError(t, other.Set(ctx, "k", fresh))
	})

	require.NoError(t, store.Set(ctx, "k", Entry{Count: 2, ResetAt: clock.Now().Add(time.Minute)}))

	removed, err := store.Sweep(ctx, clock.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	require.True(t, rewritten)

	require.True(t, server.Exists(DefaultKeyPrefix+"k"))
	got, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, fresh.Count, got.Count)
	assert.True(t, fresh.ResetAt.Equal(got.ResetAt))
}
