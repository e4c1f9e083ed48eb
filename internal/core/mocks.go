package core

import (
	"context"
	"sync"
	"time"
)

// --- MockRateLimitStore ---

// MockRateLimitStore implements the RateLimitStore interface for testing.
// It allows injecting a predefined result or error to simulate rate
// limiting.
//
// Usage:
//
//	mock := &MockRateLimitStore{
//	    Result: RateLimitResult{Allowed: true, Remaining: 99, ResetAt: time.Now().Add(time.Minute)},
//	}
//
// To simulate rate limit exceeded:
//
//	mock := &MockRateLimitStore{
//	    Result: RateLimitResult{Allowed: false, Remaining: 0, ResetAt: time.Now().Add(30 * time.Second)},
//	}
type MockRateLimitStore struct {
	// Result is the predefined RateLimitResult returned by
	// IncrementAndCheck.
	Result RateLimitResult

	// Err is the error returned by IncrementAndCheck. When set, Result is
	// still returned alongside the error.
	Err error

	// IncrementAndCheckFunc is an optional function that overrides the
	// default behavior. When set, it takes precedence over Result and Err.
	IncrementAndCheckFunc func(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)

	// mu protects Calls for concurrent access.
	mu sync.Mutex

	// Calls records every invocation for assertion purposes.
	Calls []RateLimitCall
}

// RateLimitCall records the arguments of a single IncrementAndCheck
// invocation.
type RateLimitCall struct {
	Key    string
	Limit  int
	Window time.Duration
}

// IncrementAndCheck implements the RateLimitStore interface.
// It records the call, then delegates to IncrementAndCheckFunc if set,
// otherwise returns Result and Err.
func (m *MockRateLimitStore) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RateLimitCall{Key: key, Limit: limit, Window: window})
	m.mu.Unlock()

	if m.IncrementAndCheckFunc != nil {
		return m.IncrementAndCheckFunc(ctx, key, limit, window)
	}
	return m.Result, m.Err
}

// Recorded returns a copy of the recorded calls, safe for inspection while
// the store may still be receiving traffic.
func (m *MockRateLimitStore) Recorded() []RateLimitCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RateLimitCall, len(m.Calls))
	copy(out, m.Calls)
	return out
}

// --- MockMetricsCollector ---

// MockMetricsCollector implements the MetricsCollector interface for
// testing, recording every observation for assertion.
type MockMetricsCollector struct {
	// mu protects Requests for concurrent access.
	mu sync.Mutex

	// Requests records every RecordRequest invocation.
	Requests []RequestRecord
}

// RequestRecord captures the arguments of a single RecordRequest
// invocation.
type RequestRecord struct {
	Method   string
	Endpoint string
	Status   string
	Duration time.Duration
}

// RecordRequest implements the MetricsCollector interface.
func (m *MockMetricsCollector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, RequestRecord{
		Method:   method,
		Endpoint: endpoint,
		Status:   status,
		Duration: duration,
	})
}

// Recorded returns a copy of the recorded requests.
func (m *MockMetricsCollector) Recorded() []RequestRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RequestRecord, len(m.Requests))
	copy(out, m.Requests)
	return out
}

// --- MockHealthProbe ---

// MockHealthProbe implements the HealthProbe interface for testing.
//
// Usage:
//
//	healthy := &MockHealthProbe{ProbeName: "database"}
//	failing := &MockHealthProbe{ProbeName: "telegram", Err: errors.New("api unreachable")}
type MockHealthProbe struct {
	// ProbeName is returned by Name.
	ProbeName string

	// Err is the error returned by Check. Nil means healthy.
	Err error

	// CheckFunc is an optional function that overrides the default
	// behavior. When set, it takes precedence over Err.
	CheckFunc func(ctx context.Context) error

	// mu protects CheckCalls for concurrent access.
	mu sync.Mutex

	// CheckCalls counts Check invocations.
	CheckCalls int
}

// Name implements the HealthProbe interface.
func (m *MockHealthProbe) Name() string {
	return m.ProbeName
}

// Check implements the HealthProbe interface.
func (m *MockHealthProbe) Check(ctx context.Context) error {
	m.mu.Lock()
	m.CheckCalls++
	m.mu.Unlock()

	if m.CheckFunc != nil {
		return m.CheckFunc(ctx)
	}
	return m.Err
}

// Compile-time interface assertions.
var (
	_ RateLimitStore   = (*MockRateLimitStore)(nil)
	_ MetricsCollector = (*MockMetricsCollector)(nil)
	_ HealthProbe      = (*MockHealthProbe)(nil)
)
