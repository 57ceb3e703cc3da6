package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/foldmarkets/settld/internal/domain"
)

// AccountIDHeader carries the caller's account id for rate-limit keying.
// Authentication happens upstream; the engine trusts this value.
const AccountIDHeader = "X-Account-ID"

// RateLimit returns middleware that applies per-caller rate limiting using
// the provided domain.RateLimiter. Callers are keyed by account id when the
// header is present, otherwise by client IP. Each key is limited to `limit`
// requests per `window` duration.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ratelimit:api:" + callerKey(r)

			allowed, err := limiter.Allow(r.Context(), key, limit, window)
			if err != nil {
				// Fail open on limiter errors so a cache outage never
				// blocks trading.
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// callerKey identifies the caller for rate limiting: account id when
// provided, client IP otherwise.
func callerKey(r *http.Request) string {
	if acct := strings.TrimSpace(r.Header.Get(AccountIDHeader)); acct != "" {
		return "acct:" + acct
	}
	return "ip:" + extractClientIP(r)
}

// extractClientIP attempts to determine the real client IP from standard
// proxy headers, falling back to the direct remote address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		ip := strings.TrimSpace(parts[0])
		if ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
