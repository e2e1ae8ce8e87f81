package http

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// pruneAbove is the bucket count at which idle callers start being dropped.
	pruneAbove = 500
	idleAfter  = 10 * time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// CallerLimiter throttles participant writes per caller. Callers are keyed by
// identity so classmates behind one NAT do not share a budget; requests that
// reach it without an identity fall back to their IP.
type CallerLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

func NewCallerLimiter(limit rate.Limit, burst int) *CallerLimiter {
	return &CallerLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		burst:   burst,
		now:     time.Now,
	}
}

// Allow spends one token from key's bucket.
func (l *CallerLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.buckets) >= pruneAbove {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > idleAfter {
				delete(l.buckets, k)
			}
		}
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Middleware answers 429 once the caller runs out of tokens. Mount it after
// the Authenticator so the identity is in the request context.
func (l *CallerLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(callerKey(r)) {
			respondJSON(w, http.StatusTooManyRequests, NewAPIError(http.StatusTooManyRequests, ErrCodeRateLimited, http.StatusText(http.StatusTooManyRequests)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerKey(r *http.Request) string {
	if id, ok := IdentityFrom(r.Context()); ok && id.ID != "" {
		return "user:" + id.ID
	}
	// RemoteAddr is already normalized by chi's RealIP
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return "ip:" + ip
}
