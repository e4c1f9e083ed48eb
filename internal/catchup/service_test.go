package catchup

import (
	"context"
	"errors"
	"testing"
	"time"

	"finpulse/internal/types"
)

// fakeRunner returns canned per-rule results; rules without one succeed
// with a single materialization.
type fakeRunner struct {
	results map[string]types.CatchUpResult
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, ruleID string) types.CatchUpResult {
	f.calls = append(f.calls, ruleID)
	if r, ok := f.results[ruleID]; ok {
		return r
	}
	return types.CatchUpResult{RuleID: ruleID, MaterializedCount: 1}
}

type armCall struct {
	userID string
	fireAt time.Time
}

type fakeScheduler struct {
	arms []armCall
}

func (f *fakeScheduler) Arm(userID string, fireAt time.Time) {
	f.arms = append(f.arms, armCall{userID, fireAt})
}

type serviceFixture struct {
	runner *fakeRunner
	rules  *fakeRuleStore
	sched  *fakeScheduler
	now    time.Time
	svc    *Service
}

func newServiceFixture(rules ...*types.RecurringRule) *serviceFixture {
	f := &serviceFixture{
		runner: &fakeRunner{results: map[string]types.CatchUpResult{}},
		rules:  &fakeRuleStore{rules: map[string]*types.RecurringRule{}},
		sched:  &fakeScheduler{},
		now:    time.Date(2024, 4, 15, 10, 30, 0, 0, time.UTC),
	}
	for _, r := range rules {
		f.rules.rules[r.ID] = r
	}
	f.rules.earliest = day(2024, time.April, 30)
	f.rules.hasEarliest = true

	f.svc = NewService(f.runner, f.rules, fixedClock{f.now}, nopLogger{})
	f.svc.SetScheduler(f.sched)
	return f
}

func userRule(id string) *types.RecurringRule {
	r := monthlyRule()
	r.ID = id
	return r
}

func TestService_TriggerCatchUpProcessesActiveRules(t *testing.T) {
	f := newServiceFixture(userRule("rule_a"), userRule("rule_b"))

	res, err := f.svc.TriggerCatchUp(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.RulesProcessed != 2 {
		t.Errorf("expected 2 rules processed, got %d", res.RulesProcessed)
	}
	if res.MaterializedTotal != 2 {
		t.Errorf("expected materialized total 2, got %d", res.MaterializedTotal)
	}
	if len(res.Failures) != 0 {
		t.Errorf("expected no failures, got %v", res.Failures)
	}
	if len(f.runner.calls) != 2 {
		t.Errorf("expected runner invoked per rule, got %v", f.runner.calls)
	}
	if res.StartedAt.IsZero() || res.FinishedAt.IsZero() {
		t.Error("expected run window stamped")
	}

	// A clean batch re-arms at the user's earliest due date.
	if len(f.sched.arms) != 1 {
		t.Fatalf("expected one arm call, got %d", len(f.sched.arms))
	}
	if f.sched.arms[0].userID != "usr_1" || !f.sched.arms[0].fireAt.Equal(day(2024, time.April, 30)) {
		t.Errorf("unexpected arm call: %+v", f.sched.arms[0])
	}
}

func TestService_TriggerCatchUpSkipsInactiveRules(t *testing.T) {
	inactive := userRule("rule_old")
	inactive.IsActive = false
	f := newServiceFixture(userRule("rule_a"), inactive)

	res, err := f.svc.TriggerCatchUp(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RulesProcessed != 1 {
		t.Errorf("expected only the active rule processed, got %d", res.RulesProcessed)
	}
}

func TestService_TriggerCatchUpListError(t *testing.T) {
	f := newServiceFixture(userRule("rule_a"))
	f.rules.listErr = types.NewAppError(types.ErrCodeInternalDB, "connection refused", nil)

	_, err := f.svc.TriggerCatchUp(context.Background(), "usr_1")
	if err == nil {
		t.Fatal("expected error when rules cannot be listed")
	}
	if len(f.runner.calls) != 0 {
		t.Error("expected no walks without a rule list")
	}
	if len(f.sched.arms) != 0 {
		t.Error("expected no re-arm on list failure")
	}
}

func TestService_TriggerCatchUpCollectsFailures(t *testing.T) {
	f := newServiceFixture(userRule("rule_a"), userRule("rule_b"))
	f.runner.results["rule_a"] = types.CatchUpResult{
		RuleID: "rule_a",
		Errors: []string{"materialize 2024-02-29: write timeout"},
	}

	res, err := f.svc.TriggerCatchUp(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Both rules ran; one failed.
	if res.RulesProcessed != 2 {
		t.Errorf("expected both rules processed, got %d", res.RulesProcessed)
	}
	if len(res.Failures) != 1 || res.Failures[0].RuleID != "rule_a" {
		t.Fatalf("expected rule_a failure collected, got %+v", res.Failures)
	}

	// Failed batches leave the chain alone; the sweep is the backstop.
	if len(f.sched.arms) != 0 {
		t.Error("expected no re-arm when the batch had failures")
	}
}

func TestService_TriggerCatchUpNoRules(t *testing.T) {
	f := newServiceFixture()
	f.rules.hasEarliest = false

	res, err := f.svc.TriggerCatchUp(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RulesProcessed != 0 || res.MaterializedTotal != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
	if len(f.sched.arms) != 0 {
		t.Error("expected no arm call without active rules")
	}
}

func TestService_ScheduleRuleRunsAndArms(t *testing.T) {
	f := newServiceFixture(userRule("rule_a"))

	result, err := f.svc.ScheduleRule(context.Background(), "rule_a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MaterializedCount != 1 {
		t.Errorf("expected walk result surfaced, got %+v", result)
	}
	if len(f.runner.calls) != 1 || f.runner.calls[0] != "rule_a" {
		t.Errorf("expected one walk of rule_a, got %v", f.runner.calls)
	}
	if len(f.sched.arms) != 1 || f.sched.arms[0].userID != "usr_1" {
		t.Fatalf("expected re-arm for the owner, got %+v", f.sched.arms)
	}
}

func TestService_ScheduleRuleNotFound(t *testing.T) {
	f := newServiceFixture()

	_, err := f.svc.ScheduleRule(context.Background(), "rule_missing")
	if err == nil {
		t.Fatal("expected error for unknown rule")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeNotFoundRule {
		t.Errorf("expected not_found_rule, got %v", err)
	}
	if len(f.runner.calls) != 0 {
		t.Error("expected no walk for an unknown rule")
	}
}

func TestService_ScheduleRuleWalkFailureSkipsArm(t *testing.T) {
	f := newServiceFixture(userRule("rule_a"))
	f.runner.results["rule_a"] = types.CatchUpResult{
		RuleID: "rule_a",
		Errors: []string{"persist schedule: deadlock"},
	}

	result, err := f.svc.ScheduleRule(context.Background(), "rule_a")
	if err != nil {
		t.Fatalf("expected walk errors in the result, not returned: %v", err)
	}
	if !result.Failed() {
		t.Fatal("expected failed result surfaced")
	}
	if len(f.sched.arms) != 0 {
		t.Error("expected no re-arm after a failed walk")
	}
}

func TestService_NilSchedulerSkipsArming(t *testing.T) {
	f := newServiceFixture(userRule("rule_a"))
	f.svc = NewService(f.runner, f.rules, fixedClock{f.now}, nopLogger{})

	if _, err := f.svc.TriggerCatchUp(context.Background(), "usr_1"); err != nil {
		t.Fatalf("unexpected error without a scheduler: %v", err)
	}
	if _, err := f.svc.ScheduleRule(context.Background(), "rule_a"); err != nil {
		t.Fatalf("unexpected error without a scheduler: %v", err)
	}
}

func TestService_RearmErrorIsNonFatal(t *testing.T) {
	f := newServiceFixture(userRule("rule_a"))
	f.rules.earliestErr = types.NewAppError(types.ErrCodeInternalDB, "connection refused", nil)

	res, err := f.svc.TriggerCatchUp(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("expected re-arm failure swallowed, got %v", err)
	}
	if len(res.Failures) != 0 {
		t.Errorf("expected clean result, got %+v", res.Failures)
	}
	if len(f.sched.arms) != 0 {
		t.Error("expected no arm call when the earliest lookup fails")
	}
}
