package httputil

import (
	"math"
	"net/http"
	"strconv"

	"github.com/bissquit/cafe-storefront/internal/pkg/metrics"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware rejects requests above rps (with the given burst) with 429.
// The limit is shared by all clients. A non-positive rps disables limiting.
func RateLimitMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}

	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	retryAfter := strconv.Itoa(int(math.Ceil(1 / rps)))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				metrics.HTTPRateLimited.Inc()
				w.Header().Set("Retry-After", retryAfter)
				Error(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
