// Package catchup implements the forward walk that materializes missed
// occurrences for recurring rules. The processor runs one rule at a time:
// it resumes from the rule's last processed date, inserts one occurrence
// per elapsed period up to "now", hands the newly created ones to the
// notification dispatcher, and persists the recomputed schedule fields.
//
// Every trigger path in the engine funnels through Processor.Run -- the
// long-horizon timer chains, the hourly sweep, and the user-initiated
// "process now" action. The not-yet-due guard at the top of Run is what
// makes overlapping triggers safe: a stale timer chain or a redundant
// sweep pass finds next_due_date in the future and no-ops.
package catchup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"finpulse/internal/recurrence"
	"finpulse/internal/types"
)

// RuleStore is the rule persistence surface the processor and service
// depend on. Implemented by db.RuleRepository.
type RuleStore interface {
	GetByID(ctx context.Context, id string) (*types.RecurringRule, error)
	ListByUser(ctx context.Context, userID string, includeInactive bool) ([]*types.RecurringRule, error)
	UpdateSchedule(ctx context.Context, ruleID string, lastProcessed *time.Time, nextDue time.Time, isActive bool) error
	EarliestDueForUser(ctx context.Context, userID string) (time.Time, bool, error)
}

// OccurrenceStore materializes occurrences. InsertIfAbsent must be atomic
// against concurrent walks of the same rule; the constraint-backed insert
// in db.OccurrenceRepository is the reference implementation.
type OccurrenceStore interface {
	InsertIfAbsent(ctx context.Context, o *types.Occurrence) (bool, error)
}

// UserStore resolves rule owners. Implemented by db.UserRepository.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// Dispatcher receives the occurrences a walk actually created, in date
// order. Implemented by core.Dispatcher.
type Dispatcher interface {
	DispatchOccurrences(ctx context.Context, user *types.User, rule *types.RecurringRule, occs []types.Occurrence) error
}

// Processor walks a single rule forward from its last processed date,
// materializing every missed occurrence exactly once.
type Processor struct {
	rules  RuleStore
	occs   OccurrenceStore
	users  UserStore
	disp   Dispatcher
	clock  types.Clock
	logger types.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(rules RuleStore, occs OccurrenceStore, users UserStore, disp Dispatcher, clock types.Clock, logger types.Logger) *Processor {
	return &Processor{
		rules:  rules,
		occs:   occs,
		users:  users,
		disp:   disp,
		clock:  clock,
		logger: logger,
	}
}

// Run processes one rule. Errors are collected into the result rather than
// returned; a batch caller keeps going when one rule fails.
//
// A rule that is inactive or not yet due returns a zero result immediately.
// Otherwise the walk materializes occurrences in strictly ascending date
// order, stops at "now" or at the rule's end date (which deactivates it),
// and always finishes by persisting last_processed, next_due_date, and the
// active flag -- a walk that materialized nothing still leaves the schedule
// pointing at a meaningful next check.
func (p *Processor) Run(ctx context.Context, ruleID string) types.CatchUpResult {
	result := types.CatchUpResult{RuleID: ruleID}

	rule, err := p.rules.GetByID(ctx, ruleID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("load rule: %v", err))
		return result
	}

	now := p.clock.Now()
	if !rule.IsActive || rule.NextDueDate.After(now) {
		return result
	}

	user, err := p.users.GetByID(ctx, rule.UserID)
	if err != nil {
		// Fatal for this rule only; the schedule is left untouched so the
		// next run retries from the same state.
		result.Errors = append(result.Errors, fmt.Sprintf("load user %s: %v", rule.UserID, err))
		return result
	}

	walk := p.walk(ctx, rule, now, &result)
	result.MaterializedCount = len(walk.created)

	if err := p.rules.UpdateSchedule(ctx, rule.ID, walk.lastProcessed, walk.nextDue, walk.active); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("persist schedule: %v", err))
	}

	if len(walk.created) > 0 {
		// Delivery is best-effort. The occurrences are already recorded, so a
		// dispatch failure is reported but never rolls anything back.
		if err := p.disp.DispatchOccurrences(ctx, user, rule, walk.created); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("dispatch notifications: %v", err))
		}
	}

	p.logger.Info("catch-up walk finished",
		"rule_id", rule.ID,
		"user_id", rule.UserID,
		"materialized", result.MaterializedCount,
		"next_due", walk.nextDue.Format("2006-01-02"),
		"active", walk.active,
		"errors", len(result.Errors),
	)

	return result
}

// walkOutcome carries the schedule state a walk ends in.
type walkOutcome struct {
	created       []types.Occurrence
	lastProcessed *time.Time
	nextDue       time.Time
	active        bool
}

// walk iterates occurrence candidates from the resume point up to now.
// The candidate left standing when the loop exits is the next due date:
// the first date past "now" on a clean walk, the date that failed to
// insert when the walk aborted, or the first date past the end date when
// the rule ran out.
func (p *Processor) walk(ctx context.Context, rule *types.RecurringRule, now time.Time, result *types.CatchUpResult) walkOutcome {
	out := walkOutcome{lastProcessed: rule.LastProcessedDate, active: true}

	// The anchor is the first occurrence of every rule; after that the
	// calculator advances one period per step.
	candidate := recurrence.DayStart(rule.AnchorDate)
	if out.lastProcessed != nil {
		candidate = recurrence.Next(rule.AnchorDate, *out.lastProcessed, rule.Frequency)
	}

	for {
		if rule.Ended(candidate) {
			out.active = false
			break
		}
		if candidate.After(now) {
			break
		}

		if !periodElapsed(rule.Frequency, out.lastProcessed, candidate) {
			candidate = recurrence.Next(rule.AnchorDate, candidate, rule.Frequency)
			continue
		}

		occ := p.newOccurrence(rule, candidate)
		created, err := p.occs.InsertIfAbsent(ctx, &occ)
		if err != nil {
			// Stop the walk here; next_due_date stays on this candidate and
			// the next run retries it under the idempotency guard.
			result.Errors = append(result.Errors, fmt.Sprintf("materialize %s: %v", candidate.Format("2006-01-02"), err))
			break
		}

		// Advance bookkeeping whether we created the row or found it already
		// present -- either way the period is accounted for.
		processed := candidate
		out.lastProcessed = &processed
		if created {
			out.created = append(out.created, occ)
		}

		candidate = recurrence.Next(rule.AnchorDate, candidate, rule.Frequency)
	}

	out.nextDue = candidate
	return out
}

// periodElapsed reports whether candidate falls in a strictly later
// calendar period than the last materialized date. Daily and weekly steps
// always open a new period; monthly and yearly rules can be checked more
// often than they are due, and the calendar comparison keeps a second
// check within the same month or year from double-firing.
func periodElapsed(freq types.Frequency, last *time.Time, candidate time.Time) bool {
	if last == nil {
		return true
	}
	switch freq {
	case types.FreqMonthly:
		ly, lm, _ := last.UTC().Date()
		cy, cm, _ := candidate.UTC().Date()
		return cy > ly || (cy == ly && cm > lm)
	case types.FreqYearly:
		return candidate.UTC().Year() > last.UTC().Year()
	default:
		return true
	}
}

func (p *Processor) newOccurrence(rule *types.RecurringRule, on time.Time) types.Occurrence {
	return types.Occurrence{
		ID:         "occ_" + uuid.NewString(),
		RuleID:     rule.ID,
		UserID:     rule.UserID,
		OccurredOn: on,
		Amount:     rule.Amount,
		Currency:   rule.Currency,
		Kind:       rule.Kind,
		Category:   rule.Category,
		CreatedAt:  p.clock.Now(),
	}
}
