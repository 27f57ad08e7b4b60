package middleware

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	cachecontrol "go.eigsys.de/gin-cachecontrol/v2"
	"golang.org/x/time/rate"

	constants "github.com/CodeAndHammer/heungbuja/internal/constants"
	util "github.com/CodeAndHammer/heungbuja/internal/util"
)

const apiCSP = "default-src 'none'; media-src 'self'; connect-src 'self'; frame-ancestors 'none'; base-uri 'none'; form-action 'none';"

func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Security-Policy", apiCSP)
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")
		}
		c.Next()
	}
}

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.Request.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(c.Request.Context(), constants.RequestIDKey, reqID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-Id", reqID)
		c.Next()
	}
}

// CacheHeaders lets clients cache the song listing briefly. Everything else
// is live session data and must not be cached.
func CacheHeaders(publicPaths []string, maxAge time.Duration) gin.HandlerFunc {
	public := cachecontrol.New(cachecontrol.Config{
		Public: true,
		MaxAge: cachecontrol.Duration(maxAge),
	})
	noStore := cachecontrol.New(cachecontrol.Config{
		NoStore:        true,
		NoCache:        true,
		MustRevalidate: true,
	})
	return func(c *gin.Context) {
		for _, p := range publicPaths {
			if strings.HasPrefix(c.Request.URL.Path, p) {
				public(c)
				c.Header("Vary", "Accept-Encoding")
				return
			}
		}
		noStore(c)
	}
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	rps   int
	burst int
	ttl   time.Duration

	mu       sync.RWMutex
	limiters map[string]*limiterEntry
}

func NewRateLimiter(rps, burst int, ttl time.Duration) *RateLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{rps: rps, burst: burst, ttl: ttl, limiters: make(map[string]*limiterEntry)}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.RLock()
	entry, ok := rl.limiters[key]
	rl.mu.RUnlock()
	if ok {
		rl.mu.Lock()
		if entry, ok = rl.limiters[key]; ok {
			entry.lastAccess = time.Now()
		}
		rl.mu.Unlock()
		if ok {
			return entry.limiter
		}
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if entry, ok = rl.limiters[key]; ok {
		entry.lastAccess = time.Now()
		return entry.limiter
	}

	if key == "" || key == "::1" {
		util.LogWarn("Rate limiter key is empty or loopback: %q", key)
	}
	lim := rate.NewLimiter(rate.Every(time.Second/time.Duration(rl.rps)), rl.burst)
	rl.limiters[key] = &limiterEntry{limiter: lim, lastAccess: time.Now()}
	return lim
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests. Please slow down.",
				"code":  constants.ErrorCodeRateLimited,
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) Size() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}

// Cleanup drops limiters idle for longer than the TTL. An oversized map is
// halved, oldest first.
func (rl *RateLimiter) Cleanup(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.ttl)
	removed := 0
	for key, entry := range rl.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}

	if len(rl.limiters) > 50000 {
		type limiterInfo struct {
			key        string
			lastAccess time.Time
		}
		infos := make([]limiterInfo, 0, len(rl.limiters))
		for key, entry := range rl.limiters {
			infos = append(infos, limiterInfo{key: key, lastAccess: entry.lastAccess})
		}
		sort.Slice(infos, func(i, j int) bool {
			return infos[i].lastAccess.Before(infos[j].lastAccess)
		})
		for _, info := range infos[:len(infos)/2] {
			delete(rl.limiters, info.key)
			removed++
		}
		util.LogInfo("Rate limiter map too large, removed %d oldest entries", len(infos)/2)
	}

	if removed > 0 {
		util.LogInfo("Cleaned up %d stale rate limiters", removed)
	}
	return removed
}

// Run cleans up on every interval until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.Cleanup(now)
		}
	}
}
