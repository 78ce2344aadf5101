package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"datagrid/internal/logger"
	"datagrid/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// requestID reuses a well-formed incoming X-Request-ID or assigns a new one,
// echoes it on the response and stores it in the request context.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// accessLog writes one line per request and records API metrics.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		l := metrics.Labels{"route": route, "status": strconv.Itoa(status)}
		metrics.IncCounter(metrics.APIRequestsTotal, 1, l)
		metrics.ObserveHistogram(metrics.APIRequestDurationSeconds, elapsed.Seconds(), l)

		logger.FromContext(c.Request.Context()).Info("request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"latency", elapsed.Truncate(time.Microsecond),
			"client_ip", c.ClientIP(),
		)
	}
}

// rateLimiter keeps one token bucket per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newRateLimiter(r rate.Limit, burst int) *rateLimiter {
	return &rateLimiter{limiters: make(map[string]*rate.Limiter), rate: r, burst: burst}
}

func (rl *rateLimiter) get(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[ip] = l
	}
	return l
}

// rateLimit rejects clients exceeding requestsPerMinute with 429. A
// non-positive requestsPerMinute disables limiting.
func rateLimit(requestsPerMinute, burst int) gin.HandlerFunc {
	if requestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := newRateLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), burst)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = c.RemoteIP()
		}
		if !limiter.get(ip).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Error: errorDetail{
				Kind:   "rate_limited",
				Detail: "rate limit exceeded",
			}})
			return
		}
		c.Next()
	}
}
