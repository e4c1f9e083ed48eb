package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"finpulse/internal/types"
)

// Compile-time assertion that PolicyEngineImpl implements PolicyEngine.
var _ PolicyEngine = (*PolicyEngineImpl)(nil)

// PolicyEngineImpl is the production implementation of PolicyEngine.
type PolicyEngineImpl struct {
	clock  types.Clock
	logger types.Logger
}

// NewPolicyEngine creates a PolicyEngineImpl. The clock abstraction allows
// deterministic testing of the time-dependent quiet-hours logic.
func NewPolicyEngine(clock types.Clock, logger types.Logger) *PolicyEngineImpl {
	return &PolicyEngineImpl{
		clock:  clock,
		logger: logger,
	}
}

// Evaluate applies the user's preferences to a notification.
//
// Decision logic (in order of precedence):
//  1. System alerts -> always deliver immediately (operational, never held)
//  2. Upcoming reminders with reminders disabled -> suppress
//  3. Quiet hours enabled and currently active -> defer until the period ends
//  4. Otherwise -> deliver immediately
//
// The user's local time comes from QuietHoursConfig.Timezone. An evaluation
// error (bad timezone, malformed schedule) logs and delivers -- fail open.
func (e *PolicyEngineImpl) Evaluate(ctx context.Context, n *types.Notification, user *types.User) (PolicyResult, error) {
	if n.Kind == types.NoticeSystemAlert {
		return PolicyResult{
			Decision: PolicyDeliverImmediately,
			Reason:   "system alerts are never held",
		}, nil
	}

	var prefs *types.NotificationPreferences
	if user != nil {
		prefs = user.NotificationPrefs
	}

	if n.Kind == types.NoticeUpcomingReminder && !remindersEnabled(prefs) {
		return PolicyResult{
			Decision: PolicySuppress,
			Reason:   "reminders disabled in user preferences",
		}, nil
	}

	if prefs != nil && prefs.QuietHours != nil && prefs.QuietHours.Enabled {
		result, err := e.evaluateQuietHours(prefs.QuietHours)
		if err != nil {
			e.logger.Error("quiet hours evaluation failed, delivering anyway",
				"error", err.Error(),
				"notification_id", n.ID,
				"user_id", n.UserID,
			)
			return PolicyResult{
				Decision: PolicyDeliverImmediately,
				Reason:   "quiet hours evaluation failed, fail-open",
			}, nil
		}
		if result != nil {
			return *result, nil
		}
	}

	return PolicyResult{
		Decision: PolicyDeliverImmediately,
		Reason:   "no policy restrictions apply",
	}, nil
}

// remindersEnabled reports whether upcoming-occurrence reminders are turned
// on. Reminders are opt-in: absent config means disabled.
func remindersEnabled(prefs *types.NotificationPreferences) bool {
	return prefs != nil && prefs.Reminders != nil && prefs.Reminders.Enabled
}

// evaluateQuietHours checks whether the current time falls within any
// configured quiet period. Returns a defer result if so, nil if not.
func (e *PolicyEngineImpl) evaluateQuietHours(config *types.QuietHoursConfig) (*PolicyResult, error) {
	if len(config.Schedule) == 0 {
		return nil, nil
	}

	tz := config.Timezone
	if tz == "" {
		tz = "UTC"
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	now := e.clock.Now().In(loc)

	for _, period := range config.Schedule {
		if !dayMatches(period.Days, now.Weekday()) {
			continue
		}

		startTime, err := parseTimeOfDay(period.Start)
		if err != nil {
			return nil, fmt.Errorf("invalid quiet hours start %q: %w", period.Start, err)
		}

		endTime, err := parseTimeOfDay(period.End)
		if err != nil {
			return nil, fmt.Errorf("invalid quiet hours end %q: %w", period.End, err)
		}

		inQuiet, resumeAt := isInQuietPeriod(now, startTime, endTime)
		if inQuiet {
			return &PolicyResult{
				Decision: PolicyDefer,
				Reason:   fmt.Sprintf("quiet hours active (%s-%s %s)", period.Start, period.End, tz),
				ResumeAt: &resumeAt,
			}, nil
		}
	}

	return nil, nil
}

// timeOfDay represents a wall-clock time with hour and minute components.
type timeOfDay struct {
	hour   int
	minute int
}

// toMinutes converts a timeOfDay to minutes since midnight for comparison.
func (t timeOfDay) toMinutes() int {
	return t.hour*60 + t.minute
}

// parseTimeOfDay parses a "HH:MM" string into a timeOfDay.
func parseTimeOfDay(s string) (timeOfDay, error) {
	var h, m int
	n, err := fmt.Sscanf(s, "%d:%d", &h, &m)
	if err != nil || n != 2 {
		return timeOfDay{}, fmt.Errorf("expected HH:MM format, got %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return timeOfDay{}, fmt.Errorf("time out of range: %q", s)
	}
	return timeOfDay{hour: h, minute: m}, nil
}

// dayMatches checks whether the current weekday appears in the period's day
// list. Day names use the three-letter form ("mon", "tue"). An empty list
// matches every day; unrecognized entries are skipped.
func dayMatches(days []string, current time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		wd, ok := types.ParseDayOfWeek(strings.ToLower(d))
		if ok && wd == current {
			return true
		}
	}
	return false
}

// isInQuietPeriod checks whether now falls within the period defined by
// start and end, handling overnight periods (e.g. 22:00-08:00). Returns
// whether the time is inside the period and when the period ends in the
// same location.
func isInQuietPeriod(now time.Time, start, end timeOfDay) (bool, time.Time) {
	nowMinutes := now.Hour()*60 + now.Minute()
	startMinutes := start.toMinutes()
	endMinutes := end.toMinutes()

	if startMinutes <= endMinutes {
		// Same-day period (e.g. 09:00-17:00)
		if nowMinutes >= startMinutes && nowMinutes < endMinutes {
			resumeAt := time.Date(
				now.Year(), now.Month(), now.Day(),
				end.hour, end.minute, 0, 0, now.Location(),
			)
			return true, resumeAt
		}
		return false, time.Time{}
	}

	// Overnight period (e.g. 22:00-08:00)
	if nowMinutes >= startMinutes {
		// Before midnight -- the period ends tomorrow at the end time.
		tomorrow := now.AddDate(0, 0, 1)
		resumeAt := time.Date(
			tomorrow.Year(), tomorrow.Month(), tomorrow.Day(),
			end.hour, end.minute, 0, 0, now.Location(),
		)
		return true, resumeAt
	}
	if nowMinutes < endMinutes {
		// Past midnight -- the period ends today at the end time.
		resumeAt := time.Date(
			now.Year(), now.Month(), now.Day(),
			end.hour, end.minute, 0, 0, now.Location(),
		)
		return true, resumeAt
	}

	return false, time.Time{}
}
