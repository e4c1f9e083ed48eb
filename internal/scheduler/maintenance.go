package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"finpulse/internal/types"
)

const (
	// DefaultHistoryRetention is how long finished job_history rows stay
	// queryable before the daily pass archives them.
	DefaultHistoryRetention = 90 * 24 * time.Hour

	// DefaultArchiveBatch bounds how many rows one archive file holds.
	DefaultArchiveBatch = 500
)

// HistoryArchiveStore reads and removes expired job_history rows.
type HistoryArchiveStore interface {
	// ListFinishedBefore returns finished rows older than cutoff, oldest
	// first, up to limit.
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.JobRun, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
}

// LockPruneStore deletes job_locks rows whose TTL has lapsed.
type LockPruneStore interface {
	PruneExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// MaintenanceConfig carries the housekeeping dependencies. Zero-value
// tuning fields fall back to production defaults.
type MaintenanceConfig struct {
	History HistoryArchiveStore
	Locks   LockPruneStore

	// ArchiveDir is where compressed history archives land. Empty disables
	// archival entirely: rows are never deleted without a file to fall
	// back on.
	ArchiveDir string

	Retention    time.Duration // zero -> DefaultHistoryRetention
	ArchiveBatch int           // zero -> DefaultArchiveBatch
	Logger       types.Logger
}

// Maintenance owns the daily housekeeping pass over the scheduler's own
// tables. Methods take a now parameter so tests and manual backfills can
// pin the reference time.
type Maintenance struct {
	history HistoryArchiveStore
	locks   LockPruneStore

	dir       string
	retention time.Duration
	batch     int
	logger    types.Logger
}

func NewMaintenance(cfg MaintenanceConfig) *Maintenance {
	m := &Maintenance{
		history:   cfg.History,
		locks:     cfg.Locks,
		dir:       cfg.ArchiveDir,
		retention: cfg.Retention,
		batch:     cfg.ArchiveBatch,
		logger:    cfg.Logger,
	}
	if m.retention <= 0 {
		m.retention = DefaultHistoryRetention
	}
	if m.batch <= 0 {
		m.batch = DefaultArchiveBatch
	}
	return m
}

// ArchiveJobHistory moves finished job_history rows older than the
// retention window into zstd-compressed NDJSON files under the archive
// directory, one file per batch. Rows are deleted only after their file has
// been written and synced; any failure aborts the pass and leaves the
// remaining rows for the next one. Returns the number of rows archived.
func (m *Maintenance) ArchiveJobHistory(ctx context.Context, now time.Time) (int, error) {
	if m.dir == "" {
		m.logger.Info("archive dir not configured, history retention pass skipped")
		return 0, nil
	}
	cutoff := now.Add(-m.retention)
	archived := 0
	for seq := 0; ; seq++ {
		runs, err := m.history.ListFinishedBefore(ctx, cutoff, m.batch)
		if err != nil {
			return archived, fmt.Errorf("list expired job history: %w", err)
		}
		if len(runs) == 0 {
			break
		}
		path, err := m.writeArchive(now, seq, runs)
		if err != nil {
			return archived, fmt.Errorf("write archive: %w", err)
		}
		ids := make([]int64, len(runs))
		for i, run := range runs {
			ids[i] = run.ID
		}
		deleted, err := m.history.DeleteByIDs(ctx, ids)
		if err != nil {
			return archived, fmt.Errorf("delete archived job history: %w", err)
		}
		archived += int(deleted)
		m.logger.Info("job history batch archived", "file", path, "rows", len(runs))
		if len(runs) < m.batch {
			break
		}
	}
	return archived, nil
}

// writeArchive writes one batch as newline-delimited JSON through a zstd
// encoder. The sequence number keeps files from colliding when a single
// pass produces several batches.
func (m *Maintenance) writeArchive(now time.Time, seq int, runs []types.JobRun) (string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("job_history_%s_%03d.ndjson.zst", now.UTC().Format("20060102T150405"), seq)
	path := filepath.Join(m.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return "", err
	}
	enc := json.NewEncoder(zw)
	for _, run := range runs {
		if err := enc.Encode(run); err != nil {
			zw.Close()
			f.Close()
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// PruneJobLocks deletes lock rows that expired before now. Expired rows are
// already up for grabs in the acquire query, so pruning only keeps the
// table from growing without bound.
func (m *Maintenance) PruneJobLocks(ctx context.Context, now time.Time) (int64, error) {
	pruned, err := m.locks.PruneExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("prune job locks: %w", err)
	}
	if pruned > 0 {
		m.logger.Info("expired job locks pruned", "rows", pruned)
	}
	return pruned, nil
}
