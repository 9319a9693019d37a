package ratelimit

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"
)

// KeyFunc derives the bucket key from a request. Returning "" skips limiting
// for that request.
type KeyFunc func(r *http.Request) string

// Middleware wraps an HTTP handler with per-key rate limiting.
type Middleware struct {
	limiter *Limiter
	keyFunc KeyFunc
	enabled bool
	logger  *log.Logger

	// OnLimited, when set, is invoked once per rejected request.
	OnLimited func(key string)
}

// NewMiddleware creates a rate limiting middleware.
func NewMiddleware(limiter *Limiter, keyFunc KeyFunc, enabled bool, logger *log.Logger) *Middleware {
	return &Middleware{
		limiter: limiter,
		keyFunc: keyFunc,
		enabled: enabled,
		logger:  logger,
	}
}

// Wrap applies rate limiting to an HTTP handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if !m.enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.keyFunc(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !m.limiter.Allow(r.Context(), key) {
			m.addHeaders(w, r, key)
			if m.logger != nil {
				m.logger.Printf("rate limit exceeded: key=%s path=%s", key, r.URL.Path)
			}
			if m.OnLimited != nil {
				m.OnLimited(key)
			}
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		m.addHeaders(w, r, key)
		next.ServeHTTP(w, r)
	})
}

// addHeaders exposes the draft ratelimit headers so embedding frontends can
// back off before hitting 429s.
func (m *Middleware) addHeaders(w http.ResponseWriter, r *http.Request, key string) {
	limit := m.limiter.Capacity()
	remaining := m.limiter.Remaining(r.Context(), key)

	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", remaining))

	if remaining < limit {
		secondsNeeded := (limit - remaining) / m.limiter.RefillRate()
		resetTime := time.Now().Add(time.Duration(secondsNeeded * float64(time.Second)))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
	}
}
