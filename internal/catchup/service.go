package catchup

import (
	"context"
	"fmt"
	"time"

	"finpulse/internal/types"
)

// Runner is the single-rule walk the service fans out over. Implemented by
// Processor.
type Runner interface {
	Run(ctx context.Context, ruleID string) types.CatchUpResult
}

// Scheduler re-arms a user's timer chain. Implemented by the long-horizon
// scheduler; a nil Scheduler on the service disables re-arming, which the
// one-shot CLI tooling relies on.
type Scheduler interface {
	Arm(userID string, fireAt time.Time)
}

// Service exposes the two engine operations the rest of the application
// calls: an on-demand catch-up over one user's rules, and the
// recompute-and-rearm pass that follows a rule create or edit.
type Service struct {
	runner    Runner
	rules     RuleStore
	scheduler Scheduler
	clock     types.Clock
	logger    types.Logger
}

// NewService creates a Service. The scheduler is wired separately via
// SetScheduler because it runs its catch-ups through this service and the
// two are constructed in sequence.
func NewService(runner Runner, rules RuleStore, clock types.Clock, logger types.Logger) *Service {
	return &Service{
		runner: runner,
		rules:  rules,
		clock:  clock,
		logger: logger,
	}
}

// SetScheduler attaches the long-horizon scheduler. Must be called during
// wiring, before the service handles requests.
func (s *Service) SetScheduler(sched Scheduler) {
	s.scheduler = sched
}

// TriggerCatchUp runs the walk over every active rule the user owns.
// Per-rule failures are collected in the result, never propagated; the
// returned error is reserved for not being able to list the rules at all.
//
// A fully clean batch re-arms the user's timer chain from the recomputed
// schedule. A batch with failures leaves the chain alone -- the caller
// decides how to retry, and the hourly sweep is the backstop either way.
func (s *Service) TriggerCatchUp(ctx context.Context, userID string) (types.SweepResult, error) {
	res := types.SweepResult{StartedAt: s.clock.Now()}

	rules, err := s.rules.ListByUser(ctx, userID, false)
	if err != nil {
		return res, fmt.Errorf("list active rules for %s: %w", userID, err)
	}

	for _, rule := range rules {
		r := s.runner.Run(ctx, rule.ID)
		res.RulesProcessed++
		res.MaterializedTotal += r.MaterializedCount
		if r.Failed() {
			res.Failures = append(res.Failures, r)
		}
	}
	res.FinishedAt = s.clock.Now()

	s.logger.Info("user catch-up finished",
		"user_id", userID,
		"rules_processed", res.RulesProcessed,
		"materialized", res.MaterializedTotal,
		"failures", len(res.Failures),
	)

	if len(res.Failures) == 0 {
		s.rearm(ctx, userID)
	}
	return res, nil
}

// ScheduleRule is called after a rule is created or edited. It walks the
// rule immediately -- a past-anchored rule backfills right away and the
// walk leaves next_due_date on the first future occurrence -- then re-arms
// the owner's timer chain from the new state.
func (s *Service) ScheduleRule(ctx context.Context, ruleID string) (types.CatchUpResult, error) {
	rule, err := s.rules.GetByID(ctx, ruleID)
	if err != nil {
		return types.CatchUpResult{RuleID: ruleID}, err
	}

	result := s.runner.Run(ctx, ruleID)
	if !result.Failed() {
		s.rearm(ctx, rule.UserID)
	}
	return result, nil
}

// rearm points the user's timer chain at the earliest due date across
// their active rules. Arming at a single rule's date would clobber an
// earlier chain under the scheduler's stop-and-replace bookkeeping.
func (s *Service) rearm(ctx context.Context, userID string) {
	if s.scheduler == nil {
		return
	}

	fireAt, ok, err := s.rules.EarliestDueForUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to resolve earliest due date for re-arm",
			"user_id", userID,
			"error", err.Error(),
		)
		return
	}
	if !ok {
		// No active rules left; any stale chain no-ops on fire.
		return
	}

	s.scheduler.Arm(userID, fireAt)
}
