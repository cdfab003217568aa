package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carehub/platform/internal/respond"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestLimiterAllow(t *testing.T) {
	limiter := New(Config{RequestsPerMinute: 60, BurstSize: 5, CleanupInterval: time.Minute})
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow("ip"), "request %d within burst", i)
	}
	assert.False(t, limiter.Allow("ip"), "request after burst")

	// 60/min refills one token per second.
	time.Sleep(time.Second)
	assert.True(t, limiter.Allow("ip"))
}

func TestLimiterMultipleClients(t *testing.T) {
	limiter := New(Config{RequestsPerMinute: 60, BurstSize: 3})
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		limiter.Allow("client-a")
	}
	assert.False(t, limiter.Allow("client-a"))
	assert.True(t, limiter.Allow("client-b"))
}

func TestLimiterTokenReplenishment(t *testing.T) {
	limiter := New(Config{RequestsPerMinute: 600, BurstSize: 1})
	defer limiter.Stop()

	require.True(t, limiter.Allow("k"))
	require.False(t, limiter.Allow("k"))

	time.Sleep(110 * time.Millisecond)
	assert.True(t, limiter.Allow("k"))
}

func TestStopIsIdempotent(t *testing.T) {
	limiter := New(DefaultConfig())
	limiter.Stop()
	limiter.Stop()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 120, cfg.RequestsPerMinute)
	assert.Equal(t, 30, cfg.BurstSize)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
	assert.Contains(t, cfg.ExemptPrefixes, "/api/webhooks/")
}

func newRouter(l *Limiter) *gin.Engine {
	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/api/organization", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/api/webhooks/stripe", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestMiddlewareRejectsWithEnvelope(t *testing.T) {
	l := New(Config{RequestsPerMinute: 1, BurstSize: 1, ExemptPrefixes: []string{"/api/webhooks/"}})
	defer l.Stop()
	r := newRouter(l)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/organization", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/organization", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	var env respond.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)
}

func TestMiddlewareKeysBySession(t *testing.T) {
	l := New(Config{RequestsPerMinute: 1, BurstSize: 1})
	defer l.Stop()
	r := newRouter(l)

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/organization", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("cs_alice"))
	assert.Equal(t, http.StatusTooManyRequests, send("cs_alice"))
	// Same IP, different session: separate bucket.
	assert.Equal(t, http.StatusOK, send("cs_bob"))
}

func TestMiddlewareExemptsWebhooks(t *testing.T) {
	l := New(Config{RequestsPerMinute: 1, BurstSize: 1, ExemptPrefixes: []string{"/api/webhooks/"}})
	defer l.Stop()
	r := newRouter(l)

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
