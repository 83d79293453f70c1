package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/agentstation/ratify/internal/server/response"
)

// RateLimiter holds one token bucket per client. Buckets idle for longer
// than the eviction window are dropped.
type RateLimiter struct {
	clients *gocache.Cache
	limit   rate.Limit
	burst   int
	logger  *zerolog.Logger
}

// NewRateLimiter allows each client rps requests per second with bursts of
// up to burst. A burst below one is raised to max(1, rps).
func NewRateLimiter(rps float64, burst int, logger *zerolog.Logger) *RateLimiter {
	if burst < 1 {
		burst = max(1, int(rps))
	}
	return &RateLimiter{
		clients: gocache.New(10*time.Minute, 5*time.Minute),
		limit:   rate.Limit(rps),
		burst:   burst,
		logger:  logger,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	if v, ok := rl.clients.Get(key); ok {
		rl.clients.SetDefault(key, v)
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	if err := rl.clients.Add(key, l, gocache.DefaultExpiration); err != nil {
		// Lost the race; use the winner's bucket.
		if v, ok := rl.clients.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return l
}

// Allow reports whether the client may make a request now.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.limiter(key).Allow()
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	return rl.clients.ItemCount()
}

// ClientKey identifies the caller: the first X-Forwarded-For hop when
// present, otherwise the remote host without its port.
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit rejects requests over the client's budget with 429.
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientKey(r)
			if !rl.Allow(key) {
				rl.logger.Warn().
					Str("client", key).
					Str("path", r.URL.Path).
					Msg("Rate limit exceeded")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter(rl.limit)))
				response.RateLimited(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(l rate.Limit) int {
	if l <= 0 {
		return 60
	}
	secs := int(1 / float64(l))
	return max(1, secs)
}
