package ratelimit

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/feen-dev/feen-gateway/internal/apperr"
	"github.com/feen-dev/feen-gateway/internal/httperr"
)

// GuardConfig configures the coarse, route-agnostic global guard that sits
// in front of the whole proxy surface, independent of any single token's
// fixed-window verdict. Shape grounded on the teacher's ratelimit.Config.
type GuardConfig struct {
	Period        time.Duration
	Limit         int64
	Prefix        string
	ExcludedPaths []string
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Period:        time.Minute,
		Limit:         600,
		Prefix:        "feen:ratelimit:global:",
		ExcludedPaths: []string{"/healthz", "/metrics"},
	}
}

// Guard wraps a ulule/limiter instance backed by Redis, or an in-memory
// store when no Redis client is supplied (used in tests, mirroring the
// teacher's NewManager(cfg, nil) contract).
type Guard struct {
	cfg     GuardConfig
	limiter *limiter.Limiter
}

func NewGuard(cfg GuardConfig, rdb goredis.UniversalClient) (*Guard, error) {
	var store limiter.Store
	var err error
	if rdb != nil {
		store, err = sredis.NewStoreWithOptions(rdb, limiter.StoreOptions{
			Prefix:   cfg.Prefix,
			MaxRetry: 3,
		})
		if err != nil {
			return nil, err
		}
	} else {
		store = memory.NewStore()
	}
	rate := limiter.Rate{Period: cfg.Period, Limit: cfg.Limit}
	return &Guard{cfg: cfg, limiter: limiter.New(store, rate)}, nil
}

// Middleware returns a gin middleware enforcing the global guard, keyed by
// client IP. It never overrides a per-token fixed-window verdict; it is a
// blunt upstream-side throttle in front of the whole surface.
func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, p := range g.cfg.ExcludedPaths {
			if strings.HasPrefix(c.Request.URL.Path, p) {
				c.Next()
				return
			}
		}
		ctx, err := g.limiter.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			// Fail open: a guard outage must not take down the proxy surface.
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.FormatInt(ctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(ctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(ctx.Reset, 10))
		if ctx.Reached {
			httperr.Respond(c, apperr.New(apperr.CodeRateLimited, "global request rate exceeded"))
			c.Abort()
			return
		}
		c.Next()
	}
}
