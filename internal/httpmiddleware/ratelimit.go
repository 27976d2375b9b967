package httpmiddleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter is a per-key token bucket held in process memory.
type MemoryLimiter struct {
	limit rate.Limit
	burst int
	mu    sync.Mutex
	state map[string]*visitor
}

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewMemoryLimiter allows perMinute requests per key with bursts of burst.
func NewMemoryLimiter(perMinute, burst int) *MemoryLimiter {
	if burst <= 0 {
		burst = perMinute
	}
	return &MemoryLimiter{
		limit: rate.Limit(float64(perMinute) / 60),
		burst: burst,
		state: make(map[string]*visitor),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.state[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.state[key] = v
	}
	v.seen = time.Now()
	return v.limiter.Allow(), nil
}

// Sweep forgets keys idle for longer than idle.
func (l *MemoryLimiter) Sweep(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-idle)
	removed := 0
	for key, v := range l.state {
		if v.seen.Before(cutoff) {
			delete(l.state, key)
			removed++
		}
	}
	return removed
}

// RedisLimiter counts requests per key in fixed one-minute windows shared by
// every API instance.
type RedisLimiter struct {
	client    *redis.Client
	perMinute int
	prefix    string
}

// NewRedisLimiter builds a limiter on client.
func NewRedisLimiter(client *redis.Client, perMinute int, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "classledger:ratelimit"
	}
	return &RedisLimiter{client: client, perMinute: perMinute, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := time.Now().Unix() / 60
	k := fmt.Sprintf("%s:%s:%d", l.prefix, key, window)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(l.perMinute), nil
}

// RateLimit rejects callers over their limit. Authenticated requests are keyed
// by user id, the rest by client IP. Limiter failures let the request through.
func RateLimit(l Limiter, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString("user_id")
		if key == "" {
			key = c.ClientIP()
		}
		if key == "" {
			key = "unknown"
		}
		ok, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable, allowing request")
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit", "code": "rate_limited"})
			return
		}
		c.Next()
	}
}
