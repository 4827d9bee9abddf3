package attempt

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalGuard(t *testing.T) {
	g := NewLocalGuard()
	ctx := context.Background()
	key := guardKey("t1", "alice", "quiz")

	release, err := g.Acquire(ctx, key)
	require.NoError(t, err)
	_, err = g.Acquire(ctx, key)
	assert.ErrorIs(t, err, ErrAttemptAlreadyInProgress)

	other, err := g.Acquire(ctx, guardKey("t1", "bob", "quiz"))
	require.NoError(t, err)
	other()

	release()
	release2, err := g.Acquire(ctx, key)
	require.NoError(t, err)
	release2()
}

func TestRedisGuard(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	g := NewRedisGuard(rdb, 5*time.Second)
	key := guardKey("t1", "alice", "guard-test")
	rdb.Del(ctx, key)

	release, err := g.Acquire(ctx, key)
	require.NoError(t, err)
	_, err = g.Acquire(ctx, key)
	assert.ErrorIs(t, err, ErrAttemptAlreadyInProgress)

	release()
	n, err := rdb.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReleaseKeepsForeignLock(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	g := NewRedisGuard(rdb, 5*time.Second)
	key := guardKey("t1", "alice", "guard-foreign")
	rdb.Del(ctx, key)

	release, err := g.Acquire(ctx, key)
	require.NoError(t, err)
	// lock expired and was taken by another instance
	require.NoError(t, rdb.Set(ctx, key, "someone-else", 5*time.Second).Err())
	release()

	v, err := rdb.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
	rdb.Del(ctx, key)
}
