package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx, "u-missing")
	assert.ErrorIs(t, err, ErrNotFound)

	snap := Snapshot{UserID: "u1", ParticipantID: "p1", BattleID: "b1"}
	require.NoError(t, s.Save(ctx, snap))
	got, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, snap.ParticipantID, got.ParticipantID)
	assert.Equal(t, snap.BattleID, got.BattleID)
	assert.False(t, got.SavedAt.IsZero())
	assert.False(t, got.Empty())

	require.NoError(t, s.Clear(ctx, "u1"))
	_, err = s.Load(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemoryStore(nil, time.Hour))
}

func TestMemoryStore_Expires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewMemoryStore(clock, time.Minute)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, Snapshot{UserID: "u1", ChallengeID: "c1"}))

	clock.Advance(59 * time.Second)
	_, err := s.Load(ctx, "u1")
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = s.Load(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshot_Empty(t *testing.T) {
	assert.True(t, Snapshot{UserID: "u1"}.Empty())
	assert.False(t, Snapshot{UserID: "u1", ChallengeID: "c1"}.Empty())
}

// Runs against a real server when BARZ_TEST_REDIS_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("BARZ_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BARZ_TEST_REDIS_ADDR not set")
	}
	s, err := NewRedisStore(context.Background(), RedisOptions{Addr: addr, TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exercise(t, s)
}

func TestRedisStore_Unreachable(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisOptions{Addr: "127.0.0.1:1"})
	assert.ErrorContains(t, err, "connect redis")
}

func TestKey(t *testing.T) {
	assert.Equal(t, "barz:session:u1", key("u1"))
}
