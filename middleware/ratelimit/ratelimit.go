// Package ratelimit throttles credential endpoints per client key with a
// token bucket for each key.
package ratelimit

import (
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

type Config struct {
	// Rate is the sustained request rate per key
	Rate rate.Limit
	// Burst is the bucket size per key
	Burst int
	// KeyFunc picks the bucket. Defaults to the client IP.
	KeyFunc func(c *fiber.Ctx) string
	// CleanupInterval controls how often idle buckets are evicted. Buckets
	// idle for twice this long are dropped.
	CleanupInterval time.Duration
	Logger          *slog.Logger
}

// DefaultConfig allows 10 attempts per minute with a burst of 5
func DefaultConfig() Config {
	return Config{
		Rate:            rate.Limit(10.0 / 60.0),
		Burst:           5,
		CleanupInterval: 5 * time.Minute,
	}
}

type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter tracks one bucket per key
type Limiter struct {
	config Config
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*keyLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Limiter and starts the idle bucket cleanup loop. Call Stop
// to end it.
func New(config Config) *Limiter {
	def := DefaultConfig()
	if config.Rate <= 0 {
		config.Rate = def.Rate
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.KeyFunc == nil {
		config.KeyFunc = func(c *fiber.Ctx) string {
			return c.IP()
		}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	l := &Limiter{
		config:   config,
		now:      time.Now,
		limiters: make(map[string]*keyLimiter),
		stopCh:   make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// Handler rejects requests over the limit with 429 and a Retry-After header
func (l *Limiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := l.config.KeyFunc(c)
		if l.Allow(key) {
			return c.Next()
		}

		l.config.Logger.Warn("rate limit exceeded",
			slog.String("key", key),
			slog.String("path", c.Path()),
		)

		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfterSeconds(l.config.Rate)))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "too many requests",
		})
	}
}

// Allow consumes one token from the bucket for key
func (l *Limiter) Allow(key string) bool {
	return l.limiterFor(key).AllowN(l.now(), 1)
}

// Len reports the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if kl, ok := l.limiters[key]; ok {
		kl.lastAccess = l.now()
		return kl.limiter
	}

	kl := &keyLimiter{
		limiter:    rate.NewLimiter(l.config.Rate, l.config.Burst),
		lastAccess: l.now(),
	}
	l.limiters[key] = kl
	return kl.limiter
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// Cleanup evicts buckets idle for more than twice the cleanup interval
func (l *Limiter) Cleanup() {
	ttl := l.config.CleanupInterval * 2
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, kl := range l.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(l.limiters, key)
		}
	}
}

func retryAfterSeconds(r rate.Limit) int {
	if r <= 0 || r == rate.Inf {
		return 1
	}
	secs := int(math.Ceil(1.0 / float64(r)))
	if secs < 1 {
		return 1
	}
	return secs
}
