package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	// IdleTTL drops the limiter of a client unseen for this long.
	IdleTTL time.Duration
	// Exempt paths (route templates) are never limited.
	Exempt []string
}

// DefaultRateLimitConfig returns the defaults used by the server.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		IdleTTL:           10 * time.Minute,
		Exempt:            []string{"/health", "/metrics", "/api/stream", "/api/tabs/:id/surface"},
	}
}

// RateLimit creates a per-IP rate limiting middleware.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	return newLimiter(cfg, time.Now).handle
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiter struct {
	cfg    RateLimitConfig
	now    func() time.Time
	exempt map[string]struct{}

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

func newLimiter(cfg RateLimitConfig, now func() time.Time) *limiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultRateLimitConfig().IdleTTL
	}
	l := &limiter{
		cfg:       cfg,
		now:       now,
		exempt:    make(map[string]struct{}, len(cfg.Exempt)),
		clients:   make(map[string]*client),
		lastSweep: now(),
	}
	for _, p := range cfg.Exempt {
		l.exempt[p] = struct{}{}
	}
	return l
}

func (l *limiter) handle(c *gin.Context) {
	if _, ok := l.exempt[c.FullPath()]; ok {
		c.Next()
		return
	}

	lim := l.get(c.ClientIP())
	if !lim.Allow() {
		retry := time.Duration(float64(time.Second) / math.Max(float64(l.cfg.RequestsPerSecond), 1))
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "rate limit exceeded",
		})
		return
	}

	c.Next()
}

func (l *limiter) get(ip string) *rate.Limiter {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.cfg.IdleTTL {
		for key, cl := range l.clients {
			if now.Sub(cl.lastSeen) >= l.cfg.IdleTTL {
				delete(l.clients, key)
			}
		}
		l.lastSweep = now
	}

	cl, ok := l.clients[ip]
	if !ok {
		cl = &client{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.clients[ip] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

func (l *limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
