package scheduler

import (
	"context"
	"fmt"
	"time"

	"finpulse/internal/recurrence"
	"finpulse/internal/types"
)

// UpcomingRuleReader lists active rules whose next_due_date falls strictly
// after from and at or before to.
type UpcomingRuleReader interface {
	ListDueWithin(ctx context.Context, from, to time.Time) ([]*types.RecurringRule, error)
}

// RuleOwnerReader loads the user a reminder goes to.
type RuleOwnerReader interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// ReminderDispatcher fans a due-soon notice out to the owner's channels.
type ReminderDispatcher interface {
	DispatchReminder(ctx context.Context, user *types.User, rule *types.RecurringRule) error
}

// ReminderScanner finds rules coming due tomorrow and sends each owner a
// heads-up before the money moves.
type ReminderScanner struct {
	rules  UpcomingRuleReader
	users  RuleOwnerReader
	disp   ReminderDispatcher
	logger types.Logger
}

func NewReminderScanner(rules UpcomingRuleReader, users RuleOwnerReader, disp ReminderDispatcher, logger types.Logger) *ReminderScanner {
	return &ReminderScanner{rules: rules, users: users, disp: disp, logger: logger}
}

// Scan dispatches a reminder for every active rule due tomorrow. Due dates
// are midnight-normalized, so a window anchored at today's day start selects
// exactly tomorrow's dates: today's own midnight fails the strictly-after
// bound, and anything later than tomorrow exceeds the upper one. Owner and
// dispatch failures are logged and counted; the scan always finishes the
// list. Returns the number of reminders sent.
func (r *ReminderScanner) Scan(ctx context.Context, now time.Time) (int, error) {
	from := recurrence.DayStart(now)
	to := from.AddDate(0, 0, 1)
	due, err := r.rules.ListDueWithin(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("list rules due soon: %w", err)
	}

	owners := make(map[string]*types.User)
	sent := 0
	failed := 0
	for _, rule := range due {
		user, seen := owners[rule.UserID]
		if !seen {
			u, err := r.users.GetByID(ctx, rule.UserID)
			if err != nil {
				r.logger.Error("reminder owner lookup failed",
					"rule_id", rule.ID, "user_id", rule.UserID, "error", err)
				u = nil
			}
			owners[rule.UserID] = u
			user = u
		}
		if user == nil {
			failed++
			continue
		}
		if err := r.disp.DispatchReminder(ctx, user, rule); err != nil {
			r.logger.Error("reminder dispatch failed",
				"rule_id", rule.ID, "user_id", rule.UserID, "error", err)
			failed++
			continue
		}
		sent++
	}

	if failed > 0 {
		return sent, fmt.Errorf("%d of %d reminders failed", failed, len(due))
	}
	return sent, nil
}
