package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig holds the two traffic budgets the API enforces. Requests
// that carry a study claim share a single bucket per study, regardless of
// which client IP they arrive from, so a site running many coordinator
// workstations cannot starve that study's connection pool. Traffic without a
// study claim falls back to a per-IP budget.
type RateLimitConfig struct {
	// Per-IP budget for requests without a study claim.
	RequestsPerSecond float64
	BurstSize         int

	// Shared budget for all clients of one study. Zero means "use the
	// per-IP numbers".
	StudyRequestsPerSecond float64
	StudyBurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond:      100,
		BurstSize:              200,
		StudyRequestsPerSecond: 300,
		StudyBurstSize:         600,
	}
}

func (c RateLimitConfig) studyBudget() (float64, int) {
	if c.StudyRequestsPerSecond <= 0 {
		return c.RequestsPerSecond, c.BurstSize
	}
	return c.StudyRequestsPerSecond, c.StudyBurstSize
}

// tokenBucket implements a token bucket rate limiter.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

// take consumes one token. It reports whether the request may proceed and
// how many whole tokens remain, which the middleware surfaces as
// X-RateLimit-Remaining.
func (b *tokenBucket) take() (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false, 0
	}
	b.tokens--
	return true, int(b.tokens)
}

func (b *tokenBucket) retryAfter() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refillRate <= 0 {
		return 1
	}
	wait := int(math.Ceil((1 - b.tokens) / b.refillRate))
	if wait < 1 {
		wait = 1
	}
	return wait
}

// Buckets that have not been touched for this long are dropped so a churn of
// one-off client IPs cannot grow the store without bound.
const bucketIdleTimeout = 10 * time.Minute

const prunePoint = 4096

// rateLimiterStore holds per-key token buckets.
type rateLimiterStore struct {
	buckets map[string]*tokenBucket
	mu      sync.RWMutex
}

func newRateLimiterStore() *rateLimiterStore {
	return &rateLimiterStore{
		buckets: make(map[string]*tokenBucket),
	}
}

func (s *rateLimiterStore) getBucket(key string, rate float64, burst int) *tokenBucket {
	s.mu.RLock()
	bucket, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return bucket
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock
	if bucket, ok := s.buckets[key]; ok {
		return bucket
	}
	if len(s.buckets) >= prunePoint {
		s.pruneIdle(time.Now())
	}
	bucket = newTokenBucket(rate, burst)
	s.buckets[key] = bucket
	return bucket
}

// pruneIdle drops buckets that have been idle past the timeout. Caller holds
// the write lock.
func (s *rateLimiterStore) pruneIdle(now time.Time) {
	for key, b := range s.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastRefill)
		b.mu.Unlock()
		if idle > bucketIdleTimeout {
			delete(s.buckets, key)
		}
	}
}

// RateLimit returns a rate limiting middleware. The bucket key is the study
// claim when one is present, so every client of a study draws from the same
// budget; otherwise it is the client IP.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newRateLimiterStore()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			rate, burst := cfg.RequestsPerSecond, cfg.BurstSize
			if study, ok := c.Get("jwt_study_id").(string); ok && study != "" {
				key = "study:" + study
				rate, burst = cfg.studyBudget()
			}

			bucket := store.getBucket(key, rate, burst)
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.FormatFloat(rate, 'f', 0, 64))

			allowed, remaining := bucket.take()
			if !allowed {
				h.Set("Retry-After", strconv.Itoa(bucket.retryAfter()))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}

			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			return next(c)
		}
	}
}
