package http

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a per-user token bucket for the high-frequency attempt routes
// (answers, tick, file upload).
type Limiter struct {
	mu      sync.Mutex
	users   map[string]*visitor
	rps     rate.Limit
	burst   int
	now     func() time.Time
	idleTTL time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLimiter(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		users:   map[string]*visitor{},
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		idleTTL: 10 * time.Minute,
	}
}

func (l *Limiter) allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	v, ok := l.users[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.users[key] = v
	}
	v.lastSeen = now
	l.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// Prune drops buckets idle longer than the TTL and returns how many remain.
// The gateway calls it from its sweep loop.
func (l *Limiter) Prune() int {
	cutoff := l.now().Add(-l.idleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range l.users {
		if v.lastSeen.Before(cutoff) {
			delete(l.users, k)
		}
	}
	return len(l.users)
}

// Middleware keys the bucket by tenant and user from the request's actor.
// A nil Limiter lets everything through.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l == nil {
			next.ServeHTTP(w, r)
			return
		}
		a := actor(r)
		if !l.allow(a.TenantID + "/" + a.UserID) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
