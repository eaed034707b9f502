package webhook

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const headerSecret = "X-Webhook-Secret"

// RequireSecret rejects callbacks whose X-Webhook-Secret does not match.
// An empty secret leaves the endpoint open.
func RequireSecret(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		got := []byte(c.GetHeader(headerSecret))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}
		c.Next()
	}
}

const (
	// limiterIdleTTL is well past the time a full bucket takes to refill, so
	// dropping an idle entry never hands an IP more tokens than it had.
	limiterIdleTTL = 10 * time.Minute
	maxLimiters    = 10000
)

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP. Buckets idle for
// limiterIdleTTL are swept, and the table never holds more than maxLimiters.
type IPRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	lastSweep time.Time
	rate      rate.Limit
	burst     int
	log       *slog.Logger
	clock     func() time.Time
}

// NewIPRateLimiter allows perMinute requests per IP with a burst of the same size.
func NewIPRateLimiter(perMinute int, log *slog.Logger) *IPRateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if log == nil {
		log = slog.Default()
	}
	return &IPRateLimiter{
		limiters: make(map[string]*ipLimiter),
		rate:     rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
		log:      log,
		clock:    time.Now,
	}
}

func (i *IPRateLimiter) allow(ip string) bool {
	now := i.clock()

	i.mu.Lock()
	defer i.mu.Unlock()

	if now.Sub(i.lastSweep) >= limiterIdleTTL {
		i.sweep(now)
	}
	e, ok := i.limiters[ip]
	if !ok {
		if len(i.limiters) >= maxLimiters {
			i.sweep(now)
			if len(i.limiters) >= maxLimiters {
				i.evictOldest()
			}
		}
		e = &ipLimiter{lim: rate.NewLimiter(i.rate, i.burst)}
		i.limiters[ip] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

// sweep drops buckets not seen within limiterIdleTTL. Caller holds mu.
func (i *IPRateLimiter) sweep(now time.Time) {
	for ip, e := range i.limiters {
		if now.Sub(e.lastSeen) >= limiterIdleTTL {
			delete(i.limiters, ip)
		}
	}
	i.lastSweep = now
}

func (i *IPRateLimiter) evictOldest() {
	var (
		oldestIP string
		oldest   time.Time
	)
	for ip, e := range i.limiters {
		if oldestIP == "" || e.lastSeen.Before(oldest) {
			oldestIP, oldest = ip, e.lastSeen
		}
	}
	delete(i.limiters, oldestIP)
}

// Len reports how many client IPs currently hold a bucket.
func (i *IPRateLimiter) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.limiters)
}

func (i *IPRateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !i.allow(ip) {
			i.log.Warn("webhook rate limit exceeded", "ip", ip, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
