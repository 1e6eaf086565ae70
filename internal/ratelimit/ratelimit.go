// Package ratelimit throttles refresh presentations per client key.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Local keeps one token bucket per key in process memory. Idle buckets
// expire after the configured idle period.
type Local struct {
	mu      sync.Mutex
	buckets *gocache.Cache
	limit   rate.Limit
	burst   int
	idle    time.Duration
}

// NewLocal allows perSecond sustained requests per key with the given burst.
func NewLocal(perSecond float64, burst int, idle time.Duration) *Local {
	if burst <= 0 {
		burst = 1
	}
	if idle <= 0 {
		idle = 5 * time.Minute
	}
	return &Local{
		buckets: gocache.New(idle, time.Minute),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    idle,
	}
}

func (l *Local) Allow(_ context.Context, key string) (Result, error) {
	key = normalizeKey(key)

	l.mu.Lock()
	var lim *rate.Limiter
	if v, ok := l.buckets.Get(key); ok {
		lim = v.(*rate.Limiter)
	} else {
		lim = rate.NewLimiter(l.limit, l.burst)
	}
	// refresh the idle deadline on every hit
	l.buckets.Set(key, lim, l.idle)
	l.mu.Unlock()

	r := lim.Reserve()
	if !r.OK() {
		return Result{}, nil
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return Result{Allowed: false, RetryAfter: delay}, nil
	}
	return Result{Allowed: true, Remaining: int64(math.Floor(lim.Tokens()))}, nil
}

// Redis is a fixed window counter shared by every replica.
type Redis struct {
	Client *redis.Client
	Prefix string
	Max    int64
	Window time.Duration
	Now    func() time.Time
}

func NewRedis(client *redis.Client, prefix string, max int, window time.Duration) *Redis {
	if prefix == "" {
		prefix = "rl:refresh:"
	}
	return &Redis{Client: client, Prefix: prefix, Max: int64(max), Window: window, Now: time.Now}
}

func (l *Redis) Allow(ctx context.Context, key string) (Result, error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	winStart := now().UTC().Truncate(l.Window)
	redisKey := fmt.Sprintf("%s%s:%d", l.Prefix, normalizeKey(key), winStart.Unix())

	pipe := l.Client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, l.Window)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit: %w", err)
	}

	hits := incr.Val()
	res := Result{Allowed: hits <= l.Max, Remaining: max(l.Max-hits, 0)}
	if !res.Allowed {
		res.RetryAfter = ttl.Val()
		if res.RetryAfter <= 0 {
			res.RetryAfter = l.Window
		}
	}
	return res, nil
}

func normalizeKey(key string) string {
	key = strings.ReplaceAll(strings.TrimSpace(key), " ", "_")
	if key == "" {
		return "unknown"
	}
	return key
}
