// Package scheduler drives the engine's trigger paths: per-user timer chains
// that fire when the next occurrence comes due, and the periodic sweeps that
// pick up whatever the chains miss. Both paths funnel into the catch-up
// service, whose not-yet-due guard makes overlapping triggers safe, so the
// scheduler can afford to fire eagerly and let the walk decide.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"finpulse/internal/types"
)

const (
	// MaxTimerStep caps a single chain delay at 2^31-1 milliseconds, just
	// under 25 days. Due dates routinely sit further out than that (a yearly
	// rule can be eleven months away), so longer waits are walked in bounded
	// steps, with each wake-up re-measuring the remaining distance.
	MaxTimerStep = 2147483647 * time.Millisecond

	// DefaultRetryInterval is how long a chain waits before re-firing after
	// a catch-up that errored or left failing rules behind.
	DefaultRetryInterval = 5 * time.Minute
)

// CatchUpRunner processes every due rule a user owns. Implemented by the
// catch-up service.
type CatchUpRunner interface {
	TriggerCatchUp(ctx context.Context, userID string) (types.SweepResult, error)
}

// ActiveUserLister yields the users that currently need scheduling at all.
type ActiveUserLister interface {
	ListIDsWithActiveRules(ctx context.Context) ([]string, error)
}

// DueReader resolves a user's earliest next_due_date across active rules.
// The second return is false when the user has none.
type DueReader interface {
	EarliestDueForUser(ctx context.Context, userID string) (time.Time, bool, error)
}

// LongHorizonConfig carries the chain scheduler's dependencies. Zero-value
// tuning fields fall back to production defaults.
type LongHorizonConfig struct {
	Runner CatchUpRunner
	Users  ActiveUserLister
	Rules  DueReader

	MaxStep       time.Duration   // zero -> MaxTimerStep
	RetryInterval time.Duration   // zero -> DefaultRetryInterval
	Clock         types.Clock     // nil -> types.RealClock
	Sleep         types.SleepFunc // nil -> types.ContextSleep
	Logger        types.Logger
}

// LongHorizon keeps one in-memory timer chain per user, armed at the user's
// earliest due date. Chains do not survive a restart; ArmAllActive rebuilds
// them from the persisted rule schedule, which is the durable source of
// truth the whole time.
type LongHorizon struct {
	runner CatchUpRunner
	users  ActiveUserLister
	rules  DueReader

	maxStep       time.Duration
	retryInterval time.Duration
	clock         types.Clock
	sleep         types.SleepFunc
	logger        types.Logger

	mu      sync.Mutex
	root    context.Context
	cancel  context.CancelFunc
	chains  map[string]*timerChain
	stopped bool
	wg      sync.WaitGroup
}

type timerChain struct {
	cancel context.CancelFunc
}

// NewLongHorizon builds the chain scheduler. Call Start before arming.
func NewLongHorizon(cfg LongHorizonConfig) *LongHorizon {
	s := &LongHorizon{
		runner:        cfg.Runner,
		users:         cfg.Users,
		rules:         cfg.Rules,
		maxStep:       cfg.MaxStep,
		retryInterval: cfg.RetryInterval,
		clock:         cfg.Clock,
		sleep:         cfg.Sleep,
		logger:        cfg.Logger,
		chains:        make(map[string]*timerChain),
	}
	if s.maxStep <= 0 {
		s.maxStep = MaxTimerStep
	}
	if s.retryInterval <= 0 {
		s.retryInterval = DefaultRetryInterval
	}
	if s.clock == nil {
		s.clock = types.RealClock{}
	}
	if s.sleep == nil {
		s.sleep = types.ContextSleep
	}
	return s
}

// Start binds the scheduler to ctx. Chains spawned by Arm inherit it, so
// canceling ctx winds every chain down.
func (s *LongHorizon) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root != nil {
		return
	}
	s.root, s.cancel = context.WithCancel(ctx)
}

// Stop cancels all chains and waits for them to exit. Safe to call more
// than once.
func (s *LongHorizon) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Arm schedules a catch-up for userID at fireAt, replacing any chain already
// running for that user. A fireAt in the past fires immediately. Arming
// before Start or after Stop drops the request with a log; the hourly sweep
// covers users whose chain was lost this way.
func (s *LongHorizon) Arm(userID string, fireAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil || s.stopped || s.root.Err() != nil {
		s.logger.Warn("scheduler not running, timer chain dropped",
			"user_id", userID, "fire_at", fireAt.Format(time.RFC3339))
		return
	}
	if prev, ok := s.chains[userID]; ok {
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(s.root)
	ch := &timerChain{cancel: cancel}
	s.chains[userID] = ch
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(userID, ch)
		s.runChain(ctx, userID, fireAt)
	}()
	s.logger.Info("timer chain armed",
		"user_id", userID,
		"fire_at", fireAt.Format(time.RFC3339),
		"remaining", fireAt.Sub(s.clock.Now()).String())
}

// ArmAllActive rebuilds every user's chain from the persisted schedule.
// Called once at startup. Users whose earliest due date cannot be resolved
// are logged and skipped; the sweep retries them within the hour. Returns
// the number of chains armed.
func (s *LongHorizon) ArmAllActive(ctx context.Context) (int, error) {
	userIDs, err := s.users.ListIDsWithActiveRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users with active rules: %w", err)
	}
	armed := 0
	for _, userID := range userIDs {
		fireAt, ok, err := s.rules.EarliestDueForUser(ctx, userID)
		if err != nil {
			s.logger.Error("failed to resolve earliest due date",
				"user_id", userID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		s.Arm(userID, fireAt)
		armed++
	}
	s.logger.Info("timer chains restored", "users", len(userIDs), "armed", armed)
	return armed, nil
}

// ChainCount reports how many chains are currently live.
func (s *LongHorizon) ChainCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chains)
}

// runChain waits out fireAt, runs the user's catch-up, and keeps retrying
// at the retry interval until a run comes back clean. A clean run ends the
// chain: the catch-up service re-arms from the freshly persisted schedule,
// which replaces this chain through Arm before the goroutine even returns.
func (s *LongHorizon) runChain(ctx context.Context, userID string, fireAt time.Time) {
	for {
		if !s.waitUntil(ctx, fireAt) {
			return
		}
		res, err := s.runner.TriggerCatchUp(ctx, userID)
		if err != nil {
			s.logger.Error("timer chain catch-up failed",
				"user_id", userID, "error", err)
			fireAt = s.clock.Now().Add(s.retryInterval)
			continue
		}
		if len(res.Failures) > 0 {
			s.logger.Warn("timer chain catch-up left failing rules",
				"user_id", userID,
				"failed_rules", len(res.Failures),
				"materialized", res.MaterializedTotal)
			fireAt = s.clock.Now().Add(s.retryInterval)
			continue
		}
		return
	}
}

// waitUntil blocks until fireAt, sleeping at most maxStep per call and
// re-measuring on every wake-up. Returns false when the chain was canceled
// mid-wait.
func (s *LongHorizon) waitUntil(ctx context.Context, fireAt time.Time) bool {
	for {
		remaining := fireAt.Sub(s.clock.Now())
		if remaining <= 0 {
			return ctx.Err() == nil
		}
		step := remaining
		if step > s.maxStep {
			step = s.maxStep
		}
		if err := s.sleep(ctx, step); err != nil {
			return false
		}
	}
}

// release drops the chain's bookkeeping entry unless Arm already replaced
// it with a newer chain for the same user.
func (s *LongHorizon) release(userID string, ch *timerChain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.chains[userID]; ok && cur == ch {
		delete(s.chains, userID)
	}
}
