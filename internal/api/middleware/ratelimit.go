package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// RateLimitOptions customise a rate limiter.
type RateLimitOptions struct {
	// Store defaults to an in-process memory store.
	Store limiter.Store
	// Route labels the limiter in OnLimited callbacks and namespaces its
	// counters, so limiters sharing a store keep separate budgets.
	Route string
	// OnLimited is called for every rejected request.
	OnLimited func(route string)
}

// NewRedisLimiterStore returns a limiter store shared by all registry replicas.
func NewRedisLimiterStore(client redis.UniversalClient, prefix string) (limiter.Store, error) {
	if prefix == "" {
		prefix = "vibebiz:ratelimit"
	}
	return sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
}

// NewRateLimiter creates a Gin middleware for per-client rate limiting.
// requests is the number of requests allowed per period.
// period is a duration string (e.g., "1m", "1h", "24h").
func NewRateLimiter(requests int64, period string, opts RateLimitOptions) (gin.HandlerFunc, error) {
	duration, err := time.ParseDuration(period)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit period %q: %w", period, err)
	}
	if requests <= 0 {
		return nil, fmt.Errorf("invalid rate limit %d: must be positive", requests)
	}

	store := opts.Store
	if store == nil {
		store = memory.NewStore()
	}
	instance := limiter.New(store, limiter.Rate{Period: duration, Limit: requests})

	keyGetter := func(c *gin.Context) string { return c.ClientIP() }
	if opts.Route != "" {
		keyGetter = func(c *gin.Context) string { return opts.Route + ":" + c.ClientIP() }
	}

	return mgin.NewMiddleware(instance, mgin.WithKeyGetter(keyGetter), mgin.WithLimitReachedHandler(func(c *gin.Context) {
		c.Header("Retry-After", strconv.Itoa(retryAfter(c.Writer.Header().Get("X-RateLimit-Reset"), time.Now())))
		if opts.OnLimited != nil {
			opts.OnLimited(opts.Route)
		}
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":  "too many requests; retry later",
			"reason": "rate_limited",
		})
	})), nil
}

// retryAfter converts the limiter's reset timestamp into whole seconds.
func retryAfter(reset string, now time.Time) int {
	unix, err := strconv.ParseInt(reset, 10, 64)
	if err != nil {
		return 1
	}
	secs := int(math.Ceil(time.Unix(unix, 0).Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
