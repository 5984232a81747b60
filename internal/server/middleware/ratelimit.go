package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kordes/polymirror/internal/domain"
)

// RateLimit throttles each client IP to limit requests per window, sharing
// the Redis sliding-window buckets with the rest of the mirror. The limiter
// key is "api:<ip>", kept separate from the upstream API budgets.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), "api:"+clientIP(r), limit, window)
			if err != nil {
				// Fail open when Redis is unreachable. A read-only status
				// API that stops answering is worse than one that stops
				// throttling.
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

// clientIP resolves the originating address, trusting proxy headers before
// the socket peer.
func clientIP(r *http.Request) string {
	// X-Forwarded-For lists the client first, then each proxy hop.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
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
