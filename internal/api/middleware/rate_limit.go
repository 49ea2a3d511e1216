package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apiContext "stencil/internal/api/context"
	apiErrors "stencil/internal/pkg/errors"
)

const bucketIdleTTL = 10 * time.Minute

// RateLimiter applies a per-client token bucket refilled continuously at
// limit/minute. Buckets are keyed by the authenticated client_id, falling
// back to the remote address when no principal is present. Idle buckets are
// dropped after bucketIdleTTL so the map does not grow with churned clients.
type RateLimiter struct {
	limit   int
	buckets sync.Map // map[string]*bucket
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	lastAccess time.Time
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	rl := &RateLimiter{limit: requestsPerMinute}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(bucketIdleTTL)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		rl.buckets.Range(func(key, value interface{}) bool {
			b := value.(*bucket)
			b.mu.Lock()
			idle := now.Sub(b.lastAccess) > bucketIdleTTL
			b.mu.Unlock()
			if idle {
				rl.buckets.Delete(key)
			}
			return true
		})
	}
}

// Allow consumes one token for key, reporting whether the request may
// proceed.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	val, _ := rl.buckets.LoadOrStore(key, &bucket{
		tokens:     float64(rl.limit),
		lastRefill: now,
		lastAccess: now,
	})
	b := val.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastAccess = now

	elapsed := now.Sub(b.lastRefill)
	b.tokens += elapsed.Seconds() * float64(rl.limit) / 60.0
	if b.tokens > float64(rl.limit) {
		b.tokens = float64(rl.limit)
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if p := apiContext.PrincipalFrom(r.Context()); p != nil {
			key = p.ClientID
		}

		if !rl.Allow(key) {
			zerolog.Ctx(r.Context()).Warn().Str("limit_key", key).Msg("request rate limited")
			w.Header().Set("Retry-After", "60")
			apiErrors.WriteError(w, http.StatusTooManyRequests, apiErrors.ErrCodeRateLimited,
				"rate limit exceeded", apiContext.CorrelationIDFrom(r.Context()), nil)
			return
		}

		next(w, r)
	}
}
