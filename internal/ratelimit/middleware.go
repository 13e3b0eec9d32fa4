package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/kuitang/ticketnotes/internal/metrics"
	"github.com/kuitang/ticketnotes/internal/obs"
)

// DefaultRetryAfterSeconds is the Retry-After value sent with a 429.
const DefaultRetryAfterSeconds = 1

// TooManyRequestsMessage is the body message of a rejected request.
const TooManyRequestsMessage = "Too many requests, please try again later"

// Middleware rejects requests over the limit with 429 and a JSON message.
// Requests with an empty key pass through unlimited.
func Middleware(limiter *RateLimiter, keyFn func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			rateLimiter := limiter.GetLimiter(key)
			if !rateLimiter.Allow() {
				metrics.RateLimited.WithLabelValues(r.URL.Path).Inc()
				obs.From(r.Context()).Warn("rate_limited", "pkg", "ratelimit", "path", r.URL.Path)
				w.Header().Set("Retry-After", strconv.Itoa(DefaultRetryAfterSeconds))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"message": TooManyRequestsMessage})
				return
			}

			remaining := int(rateLimiter.Tokens())
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			next.ServeHTTP(w, r)
		})
	}
}

// ByClientIP keys requests by the connection's peer address. Forwarding
// headers are ignored, so a client cannot pick its own bucket.
func ByClientIP(r *http.Request) string {
	return obs.RemoteIP(r)
}

// ByForwardedClientIP keys requests by the first X-Forwarded-For hop. Use it
// only behind a proxy that overwrites that header.
func ByForwardedClientIP(r *http.Request) string {
	return obs.ForwardedClientIP(r)
}

// KeyFunc picks the client key for cfg.
func KeyFunc(cfg Config) func(r *http.Request) string {
	if cfg.TrustProxyHeaders {
		return ByForwardedClientIP
	}
	return ByClientIP
}
