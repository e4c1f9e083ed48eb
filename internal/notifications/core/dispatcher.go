package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finpulse/internal/fx"
	"finpulse/internal/notifications/digest"
	"finpulse/internal/recurrence"
	"finpulse/internal/types"
)

// DefaultDigestThreshold is the backfill size above which per-occurrence
// notices collapse into a digest when the user has no explicit setting.
const DefaultDigestThreshold = 3

// Dispatcher turns materialized occurrences into delivery jobs. It owns all
// notification decisions -- framing, currency conversion, digest collapse,
// policy deferral -- and has exactly one side effect: Enqueuer.Enqueue. It
// never sends anything itself.
type Dispatcher struct {
	enqueuer  Enqueuer
	policy    PolicyEngine
	converter CurrencyConverter
	digest    *digest.Generator
	clock     types.Clock
	logger    types.Logger

	// Deployment-wide digest defaults; per-user preferences override them.
	digestOn        bool
	digestThreshold int
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(enqueuer Enqueuer, policy PolicyEngine, converter CurrencyConverter, clock types.Clock, logger types.Logger) *Dispatcher {
	return &Dispatcher{
		enqueuer:        enqueuer,
		policy:          policy,
		converter:       converter,
		digest:          digest.NewGenerator(),
		clock:           clock,
		logger:          logger,
		digestOn:        true,
		digestThreshold: DefaultDigestThreshold,
	}
}

// SetDigestDefaults overrides the deployment-wide digest settings, wired
// from configuration at startup. Disabling here is the emergency kill
// switch: users with digests on in their preferences still get
// per-occurrence notices.
func (d *Dispatcher) SetDigestDefaults(enabled bool, threshold int) {
	d.digestOn = enabled
	if threshold <= 0 {
		threshold = DefaultDigestThreshold
	}
	d.digestThreshold = threshold
}

// DispatchOccurrences enqueues notices for the occurrences one catch-up run
// materialized for a single rule, in the run's date order. Runs that
// backfill more than the digest threshold collapse into one summary notice.
// Enqueue failures are logged and collected; delivery is best-effort and the
// caller's walk must not fail because of it.
func (d *Dispatcher) DispatchOccurrences(ctx context.Context, user *types.User, rule *types.RecurringRule, occs []types.Occurrence) error {
	if len(occs) == 0 {
		return nil
	}

	if enabled, threshold := d.digestSettings(user); enabled && len(occs) > threshold {
		return d.dispatchDigest(ctx, user, rule, occs)
	}

	var firstErr error
	for i := range occs {
		n := d.buildOccurrenceNotice(ctx, user, rule, &occs[i])
		if err := d.dispatchNotice(ctx, user, n); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DispatchReminder enqueues an upcoming-occurrence reminder for a rule whose
// next due date falls inside the user's reminder horizon. The policy engine
// suppresses it when the user has reminders disabled.
func (d *Dispatcher) DispatchReminder(ctx context.Context, user *types.User, rule *types.RecurringRule) error {
	formatted := d.displayAmount(ctx, user, rule.Amount, rule.Currency)

	due := rule.NextDueDate
	days := int(due.Sub(recurrence.DayStart(d.clock.Now())).Hours() / 24)
	var when string
	switch {
	case days <= 0:
		when = "today"
	case days == 1:
		when = "tomorrow"
	default:
		when = fmt.Sprintf("in %d days", days)
	}

	n := &types.Notification{
		ID:        noticeID(),
		UserID:    user.ID,
		Kind:      types.NoticeUpcomingReminder,
		Title:     fmt.Sprintf("%s due %s", rule.Name, when),
		Body:      fmt.Sprintf("%s (%s) is due %s.", rule.Name, formatted, when),
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Amount:    formatted,
		DueDate:   &due,
		CreatedAt: d.clock.Now(),
	}

	return d.dispatchNotice(ctx, user, n)
}

// DispatchSystemAlert enqueues an operational notice -- a disabled channel,
// a degraded delivery path -- on whatever channels the user still has
// enabled. System alerts bypass quiet hours in the policy engine, so they
// go out when they happen.
func (d *Dispatcher) DispatchSystemAlert(ctx context.Context, user *types.User, title, body string) error {
	n := &types.Notification{
		ID:        noticeID(),
		UserID:    user.ID,
		Kind:      types.NoticeSystemAlert,
		Title:     title,
		Body:      body,
		CreatedAt: d.clock.Now(),
	}
	return d.dispatchNotice(ctx, user, n)
}

// buildOccurrenceNotice renders one occurrence as a notification. The
// framing is "due" when the occurrence date is today and "processed" when it
// is a backfilled past date.
func (d *Dispatcher) buildOccurrenceNotice(ctx context.Context, user *types.User, rule *types.RecurringRule, occ *types.Occurrence) *types.Notification {
	formatted := d.displayAmount(ctx, user, occ.Amount, occ.Currency)
	now := d.clock.Now()

	n := &types.Notification{
		ID:        noticeID(),
		UserID:    user.ID,
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Amount:    formatted,
		DueDate:   &occ.OccurredOn,
		CreatedAt: now,
	}

	if recurrence.SameDay(occ.OccurredOn, now) {
		n.Kind = types.NoticeOccurrenceDue
		n.Title = fmt.Sprintf("%s due today", rule.Name)
		n.Body = fmt.Sprintf("%s (%s) is due today.", rule.Name, formatted)
	} else {
		n.Kind = types.NoticeOccurrenceProcessed
		n.Title = fmt.Sprintf("%s processed", rule.Name)
		n.Body = fmt.Sprintf("%s (%s) was recorded for %s.", rule.Name, formatted, occ.OccurredOn.Format("Jan 2, 2006"))
	}

	return n
}

// dispatchDigest collapses a backfill run into one summary notice. All
// occurrences of a rule share one amount and currency, so the total converts
// in a single call.
func (d *Dispatcher) dispatchDigest(ctx context.Context, user *types.User, rule *types.RecurringRule, occs []types.Occurrence) error {
	total := decimal.Zero
	for i := range occs {
		total = total.Add(occs[i].Amount)
	}
	formatted := d.displayAmount(ctx, user, total, occs[0].Currency)

	n, err := d.digest.Generate(rule, occs, formatted)
	if err != nil {
		if errors.Is(err, digest.ErrEmpty) {
			return nil
		}
		return fmt.Errorf("dispatch digest: %w", err)
	}

	n.ID = noticeID()
	n.UserID = user.ID
	n.CreatedAt = d.clock.Now()

	d.logger.Info("catch-up digest generated",
		"user_id", user.ID,
		"rule_id", rule.ID,
		"occurrences", len(occs),
	)

	return d.dispatchNotice(ctx, user, n)
}

// dispatchNotice evaluates policy once for the notice and enqueues one job
// per enabled channel. A deferred decision stamps NotBefore on every job; the
// queue holds them until that time passes.
func (d *Dispatcher) dispatchNotice(ctx context.Context, user *types.User, n *types.Notification) error {
	result, err := d.policy.Evaluate(ctx, n, user)
	if err != nil {
		// Evaluate fails open internally; an error here means the engine
		// could not decide at all. Deliver rather than silently drop.
		d.logger.Error("policy evaluation failed, delivering",
			"error", err.Error(),
			"notification_id", n.ID,
		)
		result = PolicyResult{Decision: PolicyDeliverImmediately, Reason: "policy error, fail-open"}
	}

	if result.Decision == PolicySuppress {
		d.logger.Info("notification suppressed",
			"notification_id", n.ID,
			"user_id", user.ID,
			"reason", result.Reason,
		)
		return nil
	}

	var notBefore time.Time
	if result.Decision == PolicyDefer && result.ResumeAt != nil {
		notBefore = *result.ResumeAt
		d.logger.Info("notification deferred",
			"notification_id", n.ID,
			"user_id", user.ID,
			"resume_at", notBefore.Format(time.RFC3339),
			"reason", result.Reason,
		)
	}

	enqueued := 0
	var firstErr error
	for _, ch := range user.Channels {
		if !ch.Enabled {
			continue
		}

		job := &types.NotificationJob{
			ID:            fmt.Sprintf("job_%s_%s", n.ID, ch.ID),
			UserID:        user.ID,
			ChannelID:     ch.ID,
			ChannelType:   ch.Type,
			ChannelConfig: ch.Config,
			Notice:        n,
			State:         types.JobStatePending,
			NotBefore:     notBefore,
			EnqueuedAt:    d.clock.Now(),
			TraceID:       types.GetRequestID(ctx),
		}

		if err := d.enqueuer.Enqueue(job); err != nil {
			d.logger.Error("notification enqueue failed",
				"job_id", job.ID,
				"channel_type", string(ch.Type),
				"error", err.Error(),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		enqueued++
	}

	if enqueued == 0 && firstErr == nil {
		d.logger.Info("no enabled channels, notification not delivered",
			"notification_id", n.ID,
			"user_id", user.ID,
		)
	}

	return firstErr
}

// displayAmount converts an amount to the user's display currency and
// formats it. On conversion failure the original amount and currency come
// back formatted instead, which is visible but never wrong.
func (d *Dispatcher) displayAmount(ctx context.Context, user *types.User, amount decimal.Decimal, currency string) string {
	converted, code := d.converter.Convert(ctx, amount, currency, user.Currency)
	return fx.Format(converted, code)
}

// digestSettings resolves the effective digest setting: the deployment
// kill switch wins, then the user's preference, then the configured
// defaults. Digests default on -- they exist to keep an offline period from
// flooding every channel.
func (d *Dispatcher) digestSettings(user *types.User) (enabled bool, threshold int) {
	if !d.digestOn {
		return false, 0
	}
	if user.NotificationPrefs == nil || user.NotificationPrefs.Digest == nil {
		return true, d.digestThreshold
	}
	cfg := user.NotificationPrefs.Digest
	if !cfg.Enabled {
		return false, 0
	}
	if cfg.Threshold <= 0 {
		return true, d.digestThreshold
	}
	return true, cfg.Threshold
}

func noticeID() string {
	return "ntf_" + uuid.NewString()
}
