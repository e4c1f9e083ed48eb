package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"finpulse/internal/types"
)

// UserRepository provides data access for the users table. The engine reads
// users to resolve display currency, channels, and notification preferences;
// account management lives outside this service.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `u.id, u.email, u.display_name, u.currency, u.timezone,
	u.channels, u.preferences, u.created_at, u.updated_at`

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&u.Currency,
		&u.Timezone,
		&u.Channels,
		&u.NotificationPrefs,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID retrieves a user by ID. Returns ErrCodeNotFoundUser if no row exists.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get user", err)
	}
	return u, nil
}

// ListIDsWithActiveRules returns the IDs of users owning at least one
// active rule. The long-horizon scheduler re-arms per-user timers from
// this set at startup.
func (r *UserRepository) ListIDsWithActiveRules(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT u.id FROM users u
		 JOIN recurring_rules r ON r.user_id = u.id
		 WHERE r.is_active = TRUE`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list users with active rules", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan user id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating user ids", err)
	}
	return ids, nil
}

// UpdatePreferences replaces a user's notification preferences.
func (r *UserRepository) UpdatePreferences(ctx context.Context, userID string, prefs *types.NotificationPreferences) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET preferences = $2, updated_at = NOW() WHERE id = $1`,
		userID,
		prefs,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update user preferences", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// maxChannelUpdateRetries bounds the refetch loop when a concurrent writer
// touches the same user row between our read and our guarded update.
const maxChannelUpdateRetries = 3

// RecordEmailFailure increments the failure count on the email channel
// holding the given address and returns the owning user ID and the new
// count. Returns ErrCodeNotFoundUser when no user has that address
// configured.
func (r *UserRepository) RecordEmailFailure(ctx context.Context, address string) (string, int, error) {
	for attempt := 0; attempt < maxChannelUpdateRetries; attempt++ {
		u, idx, err := r.findByEmailChannel(ctx, address)
		if err != nil {
			return "", 0, err
		}

		u.Channels[idx].FailureCount++
		newCount := u.Channels[idx].FailureCount

		ok, err := r.writeChannels(ctx, u)
		if err != nil {
			return "", 0, err
		}
		if ok {
			return u.ID, newCount, nil
		}
	}
	return "", 0, types.NewAppError(types.ErrCodeConflictConcurrent,
		"email channel update kept conflicting with concurrent writers", nil)
}

// DisableEmailChannel turns off the email channel holding the given address
// and records why. Returns the owning user ID so callers can alert the user
// through their remaining channels.
func (r *UserRepository) DisableEmailChannel(ctx context.Context, address string, reason string) (string, error) {
	for attempt := 0; attempt < maxChannelUpdateRetries; attempt++ {
		u, idx, err := r.findByEmailChannel(ctx, address)
		if err != nil {
			return "", err
		}

		u.Channels[idx].Enabled = false
		u.Channels[idx].DisabledReason = reason

		ok, err := r.writeChannels(ctx, u)
		if err != nil {
			return "", err
		}
		if ok {
			return u.ID, nil
		}
	}
	return "", types.NewAppError(types.ErrCodeConflictConcurrent,
		"email channel update kept conflicting with concurrent writers", nil)
}

// findByEmailChannel loads the user owning an email channel with the given
// address, along with the channel's index. The probe uses JSONB containment
// so postgres can match inside the channels array without unpacking it in Go.
func (r *UserRepository) findByEmailChannel(ctx context.Context, address string) (*types.User, int, error) {
	probe, err := json.Marshal([]map[string]any{{
		"type":   types.ChannelEmail,
		"config": map[string]any{"address": address},
	}})
	if err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build channel probe", err)
	}

	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.channels @> $1::jsonb LIMIT 1`,
		string(probe),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, types.NewAppError(types.ErrCodeNotFoundUser,
				"no user owns an email channel for this address", err)
		}
		return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to find user by email channel", err)
	}

	for i, ch := range u.Channels {
		if ch.Type != types.ChannelEmail {
			continue
		}
		if addr, _ := ch.Config["address"].(string); addr == address {
			return u, i, nil
		}
	}
	// Containment matched but the in-memory scan did not; treat as missing.
	return nil, 0, types.NewAppError(types.ErrCodeNotFoundUser,
		"no user owns an email channel for this address", nil)
}

// writeChannels persists the channel list with an updated_at guard. A false
// return means another writer got there first and the caller should refetch.
func (r *UserRepository) writeChannels(ctx context.Context, u *types.User) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET channels = $2, updated_at = NOW() WHERE id = $1 AND updated_at = $3`,
		u.ID,
		u.Channels,
		u.UpdatedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to update user channels", err)
	}
	return tag.RowsAffected() > 0, nil
}
