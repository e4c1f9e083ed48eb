package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"finpulse/internal/types"
)

// OccurrenceRepository provides data access for the occurrences table.
//
// The UNIQUE (rule_id, occurred_on) constraint is the engine's idempotency
// guarantee: re-walking a period that already materialized is absorbed here,
// not detected by the caller.
type OccurrenceRepository struct {
	db DBTX
}

// NewOccurrenceRepository creates a new OccurrenceRepository backed by the
// given database connection (pool or transaction).
func NewOccurrenceRepository(db DBTX) *OccurrenceRepository {
	return &OccurrenceRepository{db: db}
}

const occurrenceColumns = `o.id, o.rule_id, o.user_id, o.occurred_on,
	o.amount, o.currency, o.kind, o.category, o.note, o.created_at`

func scanOccurrence(row pgx.Row) (*types.Occurrence, error) {
	var o types.Occurrence
	var note *string
	err := row.Scan(
		&o.ID,
		&o.RuleID,
		&o.UserID,
		&o.OccurredOn,
		&o.Amount,
		&o.Currency,
		&o.Kind,
		&o.Category,
		&note,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if note != nil {
		o.Note = *note
	}
	return &o, nil
}

// InsertIfAbsent inserts an occurrence unless one already exists for the
// same rule and date. Returns true when a row was created, false when the
// unique constraint absorbed the insert. Check-then-insert is deliberately
// avoided; the constraint makes concurrent walks safe.
func (r *OccurrenceRepository) InsertIfAbsent(ctx context.Context, o *types.Occurrence) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO occurrences (
			id, rule_id, user_id, occurred_on,
			amount, currency, kind, category, note, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, COALESCE($10, NOW())
		)
		ON CONFLICT (rule_id, occurred_on) DO NOTHING`,
		o.ID,
		o.RuleID,
		o.UserID,
		o.OccurredOn,
		o.Amount,
		o.Currency,
		o.Kind,
		o.Category,
		nilIfEmpty(o.Note),
		nilIfZeroTime(o.CreatedAt),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert occurrence", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByRule returns a rule's occurrences, most recent date first.
func (r *OccurrenceRepository) ListByRule(ctx context.Context, ruleID string, limit int) ([]*types.Occurrence, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+occurrenceColumns+` FROM occurrences o
		 WHERE o.rule_id = $1
		 ORDER BY o.occurred_on DESC
		 LIMIT $2`,
		ruleID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list occurrences", err)
	}
	defer rows.Close()

	var occurrences []*types.Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan occurrence", err)
		}
		occurrences = append(occurrences, o)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating occurrences", err)
	}
	return occurrences, nil
}

// ListByUserSince returns a user's occurrences with occurred_on at or after
// since, oldest first. Digest generation reads its line items through this.
func (r *OccurrenceRepository) ListByUserSince(ctx context.Context, userID string, since time.Time) ([]*types.Occurrence, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+occurrenceColumns+` FROM occurrences o
		 WHERE o.user_id = $1 AND o.occurred_on >= $2
		 ORDER BY o.occurred_on ASC`,
		userID,
		since,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list user occurrences", err)
	}
	defer rows.Close()

	var occurrences []*types.Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan user occurrence", err)
		}
		occurrences = append(occurrences, o)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating user occurrences", err)
	}
	return occurrences, nil
}
