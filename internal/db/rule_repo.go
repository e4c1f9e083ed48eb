package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"finpulse/internal/types"
)

// RuleRepository provides data access for the recurring_rules table.
//
// The next_due_date column is the engine's work queue: the periodic sweep
// selects rules where next_due_date <= now, and the long-horizon scheduler
// arms timers from MIN(next_due_date). Both read paths depend on the catch-up
// processor recomputing the column at the end of every walk.
type RuleRepository struct {
	db DBTX
}

// NewRuleRepository creates a new RuleRepository backed by the given
// database connection (pool or transaction).
func NewRuleRepository(db DBTX) *RuleRepository {
	return &RuleRepository{db: db}
}

// ruleColumns is the standard column set for rule queries. Scan order in
// scanRule must match.
const ruleColumns = `r.id, r.user_id, r.name, r.kind, r.amount, r.currency,
	r.base_amount, r.base_currency,
	r.category, r.frequency, r.anchor_date, r.end_date, r.is_active,
	r.last_processed_date, r.next_due_date, r.config_version,
	r.created_at, r.updated_at`

// scanRule scans a single rule row. pgx.Rows satisfies pgx.Row, so this
// works for both QueryRow and Query result sets.
func scanRule(row pgx.Row) (*types.RecurringRule, error) {
	var r types.RecurringRule
	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.Name,
		&r.Kind,
		&r.Amount,
		&r.Currency,
		&r.BaseAmount,
		&r.BaseCurrency,
		&r.Category,
		&r.Frequency,
		&r.AnchorDate,
		&r.EndDate,
		&r.IsActive,
		&r.LastProcessedDate,
		&r.NextDueDate,
		&r.ConfigVersion,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Create inserts a new rule. The caller is responsible for computing the
// initial next_due_date (normally the anchor date).
func (r *RuleRepository) Create(ctx context.Context, rule *types.RecurringRule) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO recurring_rules (
			id, user_id, name, kind, amount, currency,
			base_amount, base_currency,
			category, frequency, anchor_date, end_date, is_active,
			last_processed_date, next_due_date, config_version,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16,
			COALESCE($17, NOW()), COALESCE($18, NOW())
		)`,
		rule.ID,
		rule.UserID,
		rule.Name,
		rule.Kind,
		rule.Amount,
		rule.Currency,
		rule.BaseAmount,
		rule.BaseCurrency,
		rule.Category,
		rule.Frequency,
		rule.AnchorDate,
		rule.EndDate,
		rule.IsActive,
		rule.LastProcessedDate,
		rule.NextDueDate,
		rule.ConfigVersion,
		nilIfZeroTime(rule.CreatedAt),
		nilIfZeroTime(rule.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create rule", err)
	}
	return nil
}

// GetByID retrieves a rule by its ID. Returns ErrCodeNotFoundRule if no
// row exists.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*types.RecurringRule, error) {
	rule, err := scanRule(r.db.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM recurring_rules r WHERE r.id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundRule, "rule not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get rule", err)
	}
	return rule, nil
}

// ListByUser returns all rules for a user, newest first. Inactive rules are
// included when includeInactive is set; catch-up callers want only active
// ones, the API list endpoint wants both.
func (r *RuleRepository) ListByUser(ctx context.Context, userID string, includeInactive bool) ([]*types.RecurringRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM recurring_rules r WHERE r.user_id = $1`
	if !includeInactive {
		query += ` AND r.is_active = TRUE`
	}
	query += ` ORDER BY r.created_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list rules", err)
	}
	defer rows.Close()

	var rules []*types.RecurringRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan rule", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating rules", err)
	}
	return rules, nil
}

// ListDue returns active rules whose next_due_date is at or before asOf,
// oldest due first. This is the periodic sweep's work set.
func (r *RuleRepository) ListDue(ctx context.Context, asOf time.Time) ([]*types.RecurringRule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+ruleColumns+` FROM recurring_rules r
		 WHERE r.is_active = TRUE AND r.next_due_date <= $1
		 ORDER BY r.next_due_date ASC`,
		asOf,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list due rules", err)
	}
	defer rows.Close()

	var rules []*types.RecurringRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan due rule", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating due rules", err)
	}
	return rules, nil
}

// ListDueWithin returns active rules due strictly after from and at or
// before to. The reminder scan uses this to find occurrences worth an
// upcoming-payment notice.
func (r *RuleRepository) ListDueWithin(ctx context.Context, from, to time.Time) ([]*types.RecurringRule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+ruleColumns+` FROM recurring_rules r
		 WHERE r.is_active = TRUE AND r.next_due_date > $1 AND r.next_due_date <= $2
		 ORDER BY r.next_due_date ASC`,
		from,
		to,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list upcoming rules", err)
	}
	defer rows.Close()

	var rules []*types.RecurringRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan upcoming rule", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating upcoming rules", err)
	}
	return rules, nil
}

// Update persists API-editable rule fields and bumps config_version for
// optimistic concurrency. Returns ErrCodeConflictConcurrent when another
// writer updated the row since it was read.
func (r *RuleRepository) Update(ctx context.Context, rule *types.RecurringRule) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE recurring_rules SET
			name = $2, kind = $3, amount = $4, currency = $5,
			base_amount = $6, base_currency = $7,
			category = $8, frequency = $9, anchor_date = $10, end_date = $11,
			is_active = $12, next_due_date = $13,
			config_version = config_version + 1, updated_at = NOW()
		 WHERE id = $1 AND config_version = $14`,
		rule.ID,
		rule.Name,
		rule.Kind,
		rule.Amount,
		rule.Currency,
		rule.BaseAmount,
		rule.BaseCurrency,
		rule.Category,
		rule.Frequency,
		rule.AnchorDate,
		rule.EndDate,
		rule.IsActive,
		rule.NextDueDate,
		rule.ConfigVersion,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update rule", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictConcurrent, "rule was modified concurrently", nil)
	}
	rule.ConfigVersion++
	return nil
}

// UpdateSchedule persists the walk outcome: last processed occurrence,
// recomputed next due date, and the active flag (cleared when the walk
// crossed the rule's end date). Called at the end of every catch-up walk,
// including walks that materialized nothing.
func (r *RuleRepository) UpdateSchedule(ctx context.Context, ruleID string, lastProcessed *time.Time, nextDue time.Time, isActive bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE recurring_rules
		 SET last_processed_date = $2, next_due_date = $3, is_active = $4, updated_at = NOW()
		 WHERE id = $1`,
		ruleID,
		lastProcessed,
		nextDue,
		isActive,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update rule schedule", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundRule, "rule not found", nil)
	}
	return nil
}

// SetActive flips the active flag without touching schedule state.
func (r *RuleRepository) SetActive(ctx context.Context, ruleID string, active bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE recurring_rules SET is_active = $2, updated_at = NOW() WHERE id = $1`,
		ruleID,
		active,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set rule active flag", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundRule, "rule not found", nil)
	}
	return nil
}

// Delete removes a rule. Occurrences survive deletion; they are history.
func (r *RuleRepository) Delete(ctx context.Context, ruleID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM recurring_rules WHERE id = $1`,
		ruleID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete rule", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundRule, "rule not found", nil)
	}
	return nil
}

// EarliestDue returns the minimum next_due_date across all active rules.
// The second return is false when no active rules exist.
func (r *RuleRepository) EarliestDue(ctx context.Context) (time.Time, bool, error) {
	var due *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT MIN(next_due_date) FROM recurring_rules WHERE is_active = TRUE`,
	).Scan(&due)
	if err != nil {
		return time.Time{}, false, types.NewAppError(types.ErrCodeInternalDB, "failed to query earliest due date", err)
	}
	if due == nil {
		return time.Time{}, false, nil
	}
	return *due, true, nil
}

// EarliestDueForUser returns the minimum next_due_date across a user's
// active rules. The second return is false when the user has none.
func (r *RuleRepository) EarliestDueForUser(ctx context.Context, userID string) (time.Time, bool, error) {
	var due *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT MIN(next_due_date) FROM recurring_rules WHERE user_id = $1 AND is_active = TRUE`,
		userID,
	).Scan(&due)
	if err != nil {
		return time.Time{}, false, types.NewAppError(types.ErrCodeInternalDB, "failed to query user earliest due date", err)
	}
	if due == nil {
		return time.Time{}, false, nil
	}
	return *due, true, nil
}
