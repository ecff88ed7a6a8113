package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// RateLimitMiddleware provides basic per-client rate limiting
type RateLimitMiddleware struct {
	requests map[string][]int64 // IP -> timestamps
	mu       sync.Mutex
	now      func() time.Time
}

// NewRateLimitMiddleware creates a new rate limiting middleware
func NewRateLimitMiddleware() *RateLimitMiddleware {
	return &RateLimitMiddleware{
		requests: make(map[string][]int64),
		now:      time.Now,
	}
}

// RateLimit allows at most maxRequests per client within a sliding window.
// A non-positive maxRequests disables the limit.
func (m *RateLimitMiddleware) RateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxRequests <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := getClientIP(r)

			now := m.now().UnixNano()
			windowStart := now - window.Nanoseconds()

			m.mu.Lock()
			valid := m.requests[clientIP][:0]
			for _, ts := range m.requests[clientIP] {
				if ts > windowStart {
					valid = append(valid, ts)
				}
			}

			if len(valid) >= maxRequests {
				m.requests[clientIP] = valid
				m.mu.Unlock()
				log.WithFields(log.Fields{"client_ip": clientIP, "path": r.URL.Path}).Warn("Rate limit exceeded")
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}

			m.requests[clientIP] = append(valid, now)
			m.mu.Unlock()

			next.ServeHTTP(w, r)
		})
	}
}

// Prune drops clients with no requests inside window.
func (m *RateLimitMiddleware) Prune(window time.Duration) int {
	cutoff := m.now().UnixNano() - window.Nanoseconds()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for ip, timestamps := range m.requests {
		if len(timestamps) == 0 || timestamps[len(timestamps)-1] <= cutoff {
			delete(m.requests, ip)
			removed++
		}
	}
	return removed
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check for forwarded headers first
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	// Fall back to remote address
	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}
	return ip
}
