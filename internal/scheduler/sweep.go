package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"finpulse/internal/types"
)

const (
	// DefaultCatchUpSweepInterval spaces the safety-net catch-up passes.
	DefaultCatchUpSweepInterval = time.Hour

	// DefaultSweepConcurrency bounds how many users a catch-up sweep
	// processes at once.
	DefaultSweepConcurrency = 4

	// DefaultLockTTL is how long a claimed sweep window stays protected
	// from other workers. Longer than any sane task run, shorter than the
	// tightest cadence, so a crashed worker's window frees itself.
	DefaultLockTTL = 15 * time.Minute
)

// ReminderJob runs the due-soon reminder scan.
type ReminderJob interface {
	Scan(ctx context.Context, now time.Time) (int, error)
}

// MaintenanceJob archives finished job history and prunes stale locks.
type MaintenanceJob interface {
	ArchiveJobHistory(ctx context.Context, now time.Time) (int, error)
	PruneJobLocks(ctx context.Context, now time.Time) (int64, error)
}

// SweepConfig carries the sweep's dependencies. Zero-value tuning fields
// fall back to production defaults.
type SweepConfig struct {
	Runner      CatchUpRunner
	Users       ActiveUserLister
	Locks       types.JobLocker
	History     types.JobHistorian
	Reminders   ReminderJob
	Maintenance MaintenanceJob

	CatchUpInterval time.Duration // zero -> DefaultCatchUpSweepInterval
	MaintenanceHour int           // UTC hour (0-23) of the daily maintenance window
	Concurrency     int           // zero -> DefaultSweepConcurrency
	LockTTL         time.Duration // zero -> DefaultLockTTL
	WorkerID        string        // "" -> hostname-pid
	Clock           types.Clock   // nil -> types.RealClock
	Sleep           types.SleepFunc
	Logger          types.Logger
}

// Sweep runs the periodic passes: an hourly catch-up across every user with
// active rules, and a daily maintenance window at a fixed UTC hour. The
// timer chains make the hourly pass mostly a no-op; its job is picking up
// whatever the chains missed, like rules armed on a process that died or
// chains wound down by repeated failures. Every window races for a shared
// lock first, so running several processes does not double-run any of it.
type Sweep struct {
	runner      CatchUpRunner
	users       ActiveUserLister
	locks       types.JobLocker
	history     types.JobHistorian
	reminders   ReminderJob
	maintenance MaintenanceJob

	catchUpInterval time.Duration
	maintenanceHour int
	concurrency     int
	lockTTL         time.Duration
	workerID        string

	clock  types.Clock
	sleep  types.SleepFunc
	logger types.Logger

	wg sync.WaitGroup
}

// NewSweep builds the sweep. Call Start on its own goroutine to begin the
// cadences.
func NewSweep(cfg SweepConfig) *Sweep {
	s := &Sweep{
		runner:          cfg.Runner,
		users:           cfg.Users,
		locks:           cfg.Locks,
		history:         cfg.History,
		reminders:       cfg.Reminders,
		maintenance:     cfg.Maintenance,
		catchUpInterval: cfg.CatchUpInterval,
		maintenanceHour: cfg.MaintenanceHour,
		concurrency:     cfg.Concurrency,
		lockTTL:         cfg.LockTTL,
		workerID:        cfg.WorkerID,
		clock:           cfg.Clock,
		sleep:           cfg.Sleep,
		logger:          cfg.Logger,
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultSweepConcurrency
	}
	if s.lockTTL <= 0 {
		s.lockTTL = DefaultLockTTL
	}
	if s.workerID == "" {
		s.workerID = defaultWorkerID()
	}
	if s.clock == nil {
		s.clock = types.RealClock{}
	}
	if s.sleep == nil {
		s.sleep = types.ContextSleep
	}
	return s
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "finpulse"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Start runs both cadences until ctx is canceled. The catch-up loop waits
// out a full interval before its first pass; startup catch-up is
// ArmAllActive's job. The maintenance loop sleeps until the next occurrence
// of its configured hour.
func (s *Sweep) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.catchUpLoop(ctx)
	go s.maintenanceLoop(ctx)
	s.wg.Wait()
}

func (s *Sweep) catchUpLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		if err := s.sleep(ctx, s.catchUpInterval); err != nil {
			return
		}
		s.runCatchUpWindow(ctx)
	}
}

func (s *Sweep) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		now := s.clock.Now()
		wake := nextDailyWake(now, s.maintenanceHour)
		if err := s.sleep(ctx, wake.Sub(now)); err != nil {
			return
		}
		s.runMaintenanceWindow(ctx)
	}
}

// nextDailyWake returns the next occurrence of hour:00 UTC strictly after
// now, so a window that just ran is never re-entered in the same hour.
func nextDailyWake(now time.Time, hour int) time.Time {
	now = now.UTC()
	wake := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !wake.After(now) {
		wake = wake.AddDate(0, 0, 1)
	}
	return wake
}

func (s *Sweep) runCatchUpWindow(ctx context.Context) {
	s.runGuarded(ctx, types.JobCatchUpSweep, s.sweepUsers)
}

func (s *Sweep) runMaintenanceWindow(ctx context.Context) {
	s.runGuarded(ctx, types.JobReminderScan, func(ctx context.Context) (int, error) {
		return s.reminders.Scan(ctx, s.clock.Now())
	})
	s.runGuarded(ctx, types.JobHistoryArchive, func(ctx context.Context) (int, error) {
		return s.maintenance.ArchiveJobHistory(ctx, s.clock.Now())
	})
	s.runGuarded(ctx, types.JobLockPrune, func(ctx context.Context) (int, error) {
		pruned, err := s.maintenance.PruneJobLocks(ctx, s.clock.Now())
		return int(pruned), err
	})
}

// runGuarded wraps one window in the shared-lock and history protocol. The
// lock ID buckets by hour, so concurrent workers race for one row per
// window and the losers skip. History rows are observability only; failing
// to write one never blocks the task itself.
func (s *Sweep) runGuarded(ctx context.Context, jobType types.JobType, task func(context.Context) (int, error)) {
	lockID := fmt.Sprintf("%s:%s", jobType, s.clock.Now().UTC().Format("2006-01-02T15"))
	acquired, err := s.locks.Acquire(ctx, lockID, s.workerID, s.lockTTL)
	if err != nil {
		s.logger.Error("job lock acquire failed, window skipped",
			"job_type", string(jobType), "error", err)
		return
	}
	if !acquired {
		s.logger.Info("job window already claimed",
			"job_type", string(jobType), "lock_id", lockID)
		return
	}

	histID, err := s.history.Start(ctx, string(jobType))
	if err != nil {
		s.logger.Error("job history start failed",
			"job_type", string(jobType), "error", err)
	}

	started := s.clock.Now()
	items, taskErr := task(ctx)
	status := "success"
	if taskErr != nil {
		status = "failed"
		s.logger.Error("job failed",
			"job_type", string(jobType), "items", items, "error", taskErr)
	} else {
		s.logger.Info("job finished",
			"job_type", string(jobType),
			"items", items,
			"duration", s.clock.Now().Sub(started).String())
	}
	if histID > 0 {
		if err := s.history.Finish(ctx, histID, status, items, taskErr); err != nil {
			s.logger.Error("job history finish failed",
				"job_type", string(jobType), "error", err)
		}
	}
}

// sweepUsers runs a catch-up for every user with at least one active rule,
// fanning out with bounded concurrency. Per-user failures are counted and
// logged, never propagated mid-pass; one broken user must not stall the
// rest. A non-nil error here means the pass finished but deserves a failed
// history row.
func (s *Sweep) sweepUsers(ctx context.Context) (int, error) {
	userIDs, err := s.users.ListIDsWithActiveRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users with active rules: %w", err)
	}

	var materialized, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			res, err := s.runner.TriggerCatchUp(ctx, userID)
			if err != nil {
				s.logger.Error("sweep catch-up failed",
					"user_id", userID, "error", err)
				failed.Add(1)
				return nil
			}
			materialized.Add(int64(res.MaterializedTotal))
			if len(res.Failures) > 0 {
				s.logger.Warn("sweep catch-up left failing rules",
					"user_id", userID, "failed_rules", len(res.Failures))
				failed.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	if n := failed.Load(); n > 0 {
		return int(materialized.Load()), fmt.Errorf("%d of %d users failed catch-up", n, len(userIDs))
	}
	return int(materialized.Load()), nil
}
