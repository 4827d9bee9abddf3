package attempt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Guard serializes Start for one (tenant, user, bank). Acquire fails with
// ErrAttemptAlreadyInProgress while another Start for the key is running.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

func guardKey(tenantID, userID, bankID string) string {
	return fmt.Sprintf("qbank:attempt-start:%s:%s:%s", tenantID, userID, bankID)
}

type localGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalGuard guards within a single process.
func NewLocalGuard() Guard {
	return &localGuard{held: map[string]struct{}{}}
}

func (g *localGuard) Acquire(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[key]; busy {
		return nil, ErrAttemptAlreadyInProgress
	}
	g.held[key] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.held, key)
		g.mu.Unlock()
	}, nil
}

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

type redisGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisGuard guards across gateway instances with a SET NX lock. ttl bounds
// how long a crashed holder can block the key.
func NewRedisGuard(rdb *redis.Client, ttl time.Duration) Guard {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &redisGuard{rdb: rdb, ttl: ttl}
}

func (g *redisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := g.rdb.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("attempt guard: %w", err)
	}
	if !ok {
		return nil, ErrAttemptAlreadyInProgress
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, g.rdb, []string{key}, token).Err()
	}, nil
}
