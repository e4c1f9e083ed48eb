package core

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"finpulse/internal/types"
)

// defaultRateLimitWindow is the fixed window applied when the configuration
// does not specify one.
const defaultRateLimitWindow = time.Minute

// defaultRateLimitMax is the per-client request budget per window applied
// when the configuration does not specify one.
const defaultRateLimitMax = 120

// RateLimitStore abstracts the backing store for rate limiting. The engine
// runs as a single process, so the default store is in-memory; a shared
// store can be swapped in if the API is ever scaled out.
type RateLimitStore interface {
	// IncrementAndCheck atomically increments the rate limit counter for
	// the given key and checks if the limit has been exceeded within the
	// window.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	// Allowed indicates whether the request is within the rate limit.
	Allowed bool
	// Remaining is the number of requests remaining in the current window.
	Remaining int
	// ResetAt is the time when the current rate limit window resets.
	ResetAt time.Time
}

// RateLimit enforces a per-client-IP request budget over a fixed window.
//
// If no RateLimitStore is configured (e.g., during tests), or the
// configured budget is zero, the middleware passes through without
// limiting. Health and metrics endpoints are exempt so load balancer
// probes and scrapes never consume client budgets.
//
// On every counted request (allowed or not), the middleware sets standard
// rate limit response headers:
//   - X-RateLimit-Limit: The maximum number of requests in the window.
//   - X-RateLimit-Remaining: The number of requests remaining.
//   - X-RateLimit-Reset: Unix timestamp when the window resets.
//
// When rate limited, the middleware also sets:
//   - Retry-After: Seconds until the rate limit window resets.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// If no rate limit store is configured, pass through.
		if s.RateLimits == nil {
			next.ServeHTTP(w, r)
			return
		}

		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		limit, window := s.rateLimitBudget()
		if limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := extractClientIP(r)
		result, err := s.RateLimits.IncrementAndCheck(r.Context(), clientIP, limit, window)
		if err != nil {
			// On store errors, fail open: allow the request through but
			// log the error. A broken limiter must not block all API
			// traffic.
			s.Logger.Error("rate limit store error",
				slog.String("client_ip", clientIP),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		// Set rate limit headers on every response (allowed or denied).
		setRateLimitHeaders(w, limit, result)

		if !result.Allowed {
			s.Logger.Warn("rate limit exceeded",
				slog.String("client_ip", clientIP),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			// Set Retry-After header for 429 responses.
			retryAfter := int(time.Until(result.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			requestID := types.GetRequestID(r.Context())
			resp := APIErrorResponse{
				Error: ErrorDetail{
					Code:      string(types.ErrCodeRateLimited),
					Message:   "Rate limit exceeded. Please retry after the reset time.",
					RequestID: requestID,
				},
			}
			JSON(w, r, http.StatusTooManyRequests, resp)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitBudget returns the configured request budget and window, falling
// back to defaults when the configuration is absent or partial.
func (s *Server) rateLimitBudget() (int, time.Duration) {
	limit := defaultRateLimitMax
	window := defaultRateLimitWindow
	if s.Config != nil {
		limit = s.Config.Security.RateLimitMax
		if s.Config.Security.RateLimitWindow > 0 {
			window = s.Config.Security.RateLimitWindow
		}
	}
	return limit, window
}

// setRateLimitHeaders writes the standard X-RateLimit-* headers to the
// response.
func setRateLimitHeaders(w http.ResponseWriter, limit int, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// extractClientIP extracts the client's IP address from the request.
// It first checks the X-Forwarded-For header (using the first entry, which
// is the original client IP when behind a proxy/load balancer). If that
// header is not present, it falls back to RemoteAddr.
//
// The returned IP is always stripped of the port number if present.
func extractClientIP(r *http.Request) string {
	// Check X-Forwarded-For first (standard for proxied requests).
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs: "client, proxy1,
		// proxy2". The first entry is the original client IP.
		parts := strings.SplitN(xff, ",", 2)
		ip := strings.TrimSpace(parts[0])
		if ip != "" {
			return ip
		}
	}

	// Fall back to RemoteAddr, stripping the port if present.
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr may not have a port (e.g., in tests).
		return r.RemoteAddr
	}
	return ip
}

// maxTrackedClients caps the window map size. When exceeded, expired
// windows are swept out before a new one is inserted.
const maxTrackedClients = 10000

// MemoryRateLimitStore implements RateLimitStore with per-key fixed
// windows held in process memory. Counters reset when their window
// expires; expired windows are pruned lazily once the map grows past
// maxTrackedClients.
type MemoryRateLimitStore struct {
	clock types.Clock

	mu      sync.Mutex
	windows map[string]*rateWindow
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

// NewMemoryRateLimitStore builds an empty in-memory store. A nil clock
// falls back to the real clock; tests inject a fake to step through
// windows.
func NewMemoryRateLimitStore(clock types.Clock) *MemoryRateLimitStore {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MemoryRateLimitStore{
		clock:   clock,
		windows: make(map[string]*rateWindow),
	}
}

// IncrementAndCheck implements RateLimitStore.
func (m *MemoryRateLimitStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		if !ok && len(m.windows) >= maxTrackedClients {
			m.pruneExpiredLocked(now)
		}
		w = &rateWindow{resetAt: now.Add(window)}
		m.windows[key] = w
	}

	w.count++
	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}

	return RateLimitResult{
		Allowed:   w.count <= limit,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}, nil
}

func (m *MemoryRateLimitStore) pruneExpiredLocked(now time.Time) {
	for key, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, key)
		}
	}
}

// Compile-time interface assertion.
var _ RateLimitStore = (*MemoryRateLimitStore)(nil)
