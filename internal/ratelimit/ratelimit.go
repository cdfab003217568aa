// Package ratelimit throttles API requests with a per-caller token bucket.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/carehub/platform/internal/apperr"
	"github.com/carehub/platform/internal/respond"
)

var rejected = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "carehub_rate_limited_requests_total",
	Help: "Requests rejected by the rate limiter.",
})

func init() {
	prometheus.MustRegister(rejected)
}

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the sustained rate per caller
	RequestsPerMinute int
	// BurstSize allows brief bursts above the rate
	BurstSize int
	// CleanupInterval is how often idle callers are forgotten
	CleanupInterval time.Duration
	// ExemptPrefixes are path prefixes never throttled (provider webhooks, probes)
	ExemptPrefixes []string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 120,
		BurstSize:         30,
		CleanupInterval:   time.Minute,
		ExemptPrefixes:    []string{"/api/webhooks/", "/health", "/metrics"},
	}
}

// Limiter tracks rate limits by key
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*clientState
	stop    chan struct{}
	once    sync.Once
}

type clientState struct {
	tokens    float64
	lastCheck time.Time
}

// New creates a limiter and starts its cleanup loop. Call Stop when done.
func New(cfg Config) *Limiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientState),
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-2 * time.Minute)
			for key, state := range l.clients {
				if state.lastCheck.Before(cutoff) {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Allow checks if a request should be allowed
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	state, exists := l.clients[key]

	if !exists {
		l.clients[key] = &clientState{
			tokens:    float64(l.cfg.BurstSize - 1),
			lastCheck: now,
		}
		return true
	}

	elapsed := now.Sub(state.lastCheck).Seconds()
	state.tokens += elapsed * float64(l.cfg.RequestsPerMinute) / 60.0
	if state.tokens > float64(l.cfg.BurstSize) {
		state.tokens = float64(l.cfg.BurstSize)
	}
	state.lastCheck = now

	if state.tokens >= 1 {
		state.tokens--
		return true
	}
	return false
}

// Middleware throttles by session when the request carries one, else by IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, p := range l.cfg.ExemptPrefixes {
			if strings.HasPrefix(path, p) {
				c.Next()
				return
			}
		}

		if !l.Allow(callerKey(c)) {
			rejected.Inc()
			c.Header("Retry-After", "1")
			respond.Abort(c, apperr.RateLimited("Too many requests. Please slow down."))
			return
		}
		c.Next()
	}
}

// callerKey hashes the credential so tokens never sit in limiter memory.
func callerKey(c *gin.Context) string {
	cred := c.GetHeader("Authorization")
	if cred == "" {
		if cookie, err := c.Cookie("__session"); err == nil {
			cred = cookie
		}
	}
	if cred == "" {
		return "ip:" + c.ClientIP()
	}
	sum := sha256.Sum256([]byte(cred))
	return "session:" + hex.EncodeToString(sum[:8])
}
