package presence

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rendezvous/internal/model"
)

const (
	testTTL         = time.Hour
	testActivityTTL = 30 * time.Second
	testHeartbeat   = 30 * time.Second
)

// fakeClock is a manually advanced clock shared by a store under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// harness bundles a store with a way to move its notion of time forward
type harness struct {
	store   Store
	advance func(time.Duration)
}

func memoryHarness(t *testing.T) harness {
	t.Helper()
	clock := newFakeClock()
	return harness{
		store:   NewMemoryStore(testTTL, testActivityTTL, WithClock(clock.Now)),
		advance: clock.Advance,
	}
}

func redisHarness(t *testing.T) harness {
	t.Helper()
	mr := miniredis.RunT(t)
	clock := newFakeClock()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, testTTL, testActivityTTL)
	store.now = clock.Now
	t.Cleanup(func() { store.Close() })

	return harness{
		store: store,
		advance: func(d time.Duration) {
			clock.Advance(d)
			mr.FastForward(d)
		},
	}
}

func harnesses() map[string]func(*testing.T) harness {
	return map[string]func(*testing.T) harness{
		"memory": memoryHarness,
		"redis":  redisHarness,
	}
}

func TestSetOnlineAndCheck(t *testing.T) {
	for name, setup := range harnesses() {
		t.Run(name, func(t *testing.T) {
			h := setup(t)
			ctx := context.Background()

			require.NoError(t, h.store.SetOnline(ctx, "alice"))

			statuses, err := h.store.CheckOnline(ctx, []string{"alice", "nobody"})
			require.NoError(t, err)
			require.Len(t, statuses, 2)

			assert.Equal(t, "alice", statuses[0].UserID)
			assert.True(t, statuses[0].IsOnline)
			assert.NotNil(t, statuses[0].LastSeen)

			assert.Equal(t, "nobody", statuses[1].UserID)
			assert.False(t, statuses[1].IsOnline)
			assert.Nil(t, statuses[1].LastSeen)
		})
	}
}

func TestSetOfflineIdempotent(t *testing.T) {
	for name, setup := range harnesses() {
		t.Run(name, func(t *testing.T) {
			h := setup(t)
			ctx := context.Background()

			require.NoError(t, h.store.SetOnline(ctx, "alice"))
			require.NoError(t, h.store.SetOffline(ctx, "alice"))
			require.NoError(t, h.store.SetOffline(ctx, "alice"))
			require.NoError(t, h.store.SetOffline(ctx, "never-seen"))

			statuses, err := h.store.CheckOnline(ctx, []string{"alice"})
			require.NoError(t, err)
			assert.False(t, statuses[0].IsOnline)
		})
	}
}

func TestCheckOnlineEmpty(t *testing.T) {
	for name, setup := range harnesses() {
		t.Run(name, func(t *testing.T) {
			h := setup(t)

			statuses, err := h.store.CheckOnline(context.Background(), nil)
			require.NoError(t, err)
			assert.Empty(t, statuses)
		})
	}
}

// TestHeartbeatKeepsUserOnline 30秒間隔・TTL 3600秒で1回ハートビートを落としてもオンラインのまま
func TestHeartbeatKeepsUserOnline(t *testing.T) {
	for name, setup := range harnesses() {
		t.Run(name, func(t *testing.T) {
			h := setup(t)
			ctx := context.Background()

			require.NoError(t, h.store.SetOnline(ctx, "bob"))
			first, err := h.store.CheckOnline(ctx, []string{"bob"})
			require.NoError(t, err)

			h.advance(testHeartbeat)
			require.NoError(t, h.store.ExtendTTL(ctx, "bob"))

			// one missed heartbeat
			h.advance(2 * testHeartbeat)

			statuses, err := h.store.CheckOnline(ctx, []string{"bob"})
			require.NoError(t, err)
			assert.True(t, statuses[0].IsOnline)
			// heartbeats do not move last-seen
			assert.True(t, first[0].LastSeen.Equal(*statuses[0].LastSeen))

			// silence for a full TTL window
			h.advance(testTTL)

			statuses, err = h.store.CheckOnline(ctx, []string{"bob"})
			require.NoError(t, err)
			assert.False(t, statuses[0].IsOnline)

			ids, err := h.store.ListOnlineUserIDs(ctx)
			require.NoError(t, err)
			assert.NotContains(t, ids, "bob")
		})
	}
}

func TestExtendTTLRecreatesExpiredEntry(t *testing.T) {
	for name, setup := range harnesses() {
		t.Run(name, func(t *testing.T) {
			h := setup(t)
			ctx := context.Background()

			require.NoError(t, h.store.ExtendTTL(ctx, "carol"))

			statuses, err := h.store.CheckOnline(ctx, []string{"carol"})
			require.NoError(t, err)
			assert.True(t, statuses[0].IsOnline)
		})
	}
}

func TestListOnlineUserIDs(t *testing.T) {
	for name, setup := range harnesses() {
		t.Run(name, func(t *testing.T) {
			h := setup(t)
			ctx := context.Background()

			ids, err := h.store.ListOnlineUserIDs(ctx)
			require.NoError(t, err)
			assert.Empty(t, ids)

			require.NoError(t, h.store.SetOnline(ctx, "a"))
			require.NoError(t, h.store.SetOnline(ctx, "b"))
			require.NoError(t, h.store.SetOnline(ctx, "c"))
			require.NoError(t, h.store.SetOffline(ctx, "b"))

			ids, err = h.store.ListOnlineUserIDs(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a", "c"}, ids)
		})
	}
}

func TestActivitySnapshotExpires(t *testing.T) {
	for name, setup := range harnesses() {
		t.Run(name, func(t *testing.T) {
			h := setup(t)
			ctx := context.Background()

			_, err := h.store.GetActivity(ctx, "dave")
			assert.ErrorIs(t, err, ErrNoActivity)

			activity := model.Activity{
				UserID:   "dave",
				Activity: "viewing_profile",
				Metadata: map[string]any{"profileId": "p1"},
			}
			require.NoError(t, h.store.SetActivity(ctx, "dave", activity))

			got, err := h.store.GetActivity(ctx, "dave")
			require.NoError(t, err)
			assert.Equal(t, "viewing_profile", got.Activity)
			assert.Equal(t, "p1", got.Metadata["profileId"])

			h.advance(testActivityTTL + time.Second)

			_, err = h.store.GetActivity(ctx, "dave")
			assert.ErrorIs(t, err, ErrNoActivity)
		})
	}
}

func TestMemorySweep(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(testTTL, testActivityTTL, WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.SetOnline(ctx, "a"))
	require.NoError(t, store.SetActivity(ctx, "a", model.Activity{Activity: "x"}))
	clock.Advance(10 * time.Minute)
	require.NoError(t, store.SetOnline(ctx, "b"))

	clock.Advance(testTTL - 5*time.Minute)
	assert.Equal(t, 2, store.Sweep())

	ids, err := store.ListOnlineUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

// TestNATSStore NATS_URL が設定されている場合のみ実行
func TestNATSStore(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("Skipping: NATS_URL not set")
	}

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := NewNATSStore(ctx, js, testTTL, testActivityTTL)
	require.NoError(t, err)

	require.NoError(t, store.SetOnline(ctx, "nats-user"))
	require.NoError(t, store.ExtendTTL(ctx, "nats-user"))

	statuses, err := store.CheckOnline(ctx, []string{"nats-user", "nats-missing"})
	require.NoError(t, err)
	assert.True(t, statuses[0].IsOnline)
	assert.False(t, statuses[1].IsOnline)

	ids, err := store.ListOnlineUserIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, "nats-user")

	require.NoError(t, store.SetOffline(ctx, "nats-user"))
	require.NoError(t, store.SetOffline(ctx, "nats-user"))

	statuses, err = store.CheckOnline(ctx, []string{"nats-user"})
	require.NoError(t, err)
	assert.False(t, statuses[0].IsOnline)
	assert.NoError(t, store.Ping(ctx))
}
