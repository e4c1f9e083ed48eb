// Package main implements the catchup-runner CLI for invoking engine
// catch-up and maintenance tasks directly, without the long-running process.
//
// This tool is intended for local development, manual backfilling, and
// operational debugging: re-walking a user's rules after an incident,
// forcing the reminder scan, or running the history archive off-schedule.
//
// Usage:
//
//	go run ./cmd/tools/catchup-runner --task=user_catchup --user=usr_123
//	go run ./cmd/tools/catchup-runner --task=rule_catchup --rule=rule_456
//	go run ./cmd/tools/catchup-runner --task=history_archive --archive-dir=./archive
//	go run ./cmd/tools/catchup-runner --dry-run --task=lock_prune
//	go run ./cmd/tools/catchup-runner --list
//
// The tool reads DATABASE_URL from environment variables (or a .env file via
// godotenv) rather than the full engine configuration, so ops runs never
// demand provider credentials. Delivery channels are not wired in CLI
// context: dispatches are logged instead of sent, while materialized
// occurrences and schedule advances are written to the database for real.
//
// Singleton tasks acquire the same hourly job locks the engine's sweep uses,
// so a CLI run and a concurrent engine run exclude each other.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"finpulse/internal/catchup"
	"finpulse/internal/db"
	"finpulse/internal/scheduler"
	"finpulse/internal/types"
)

// validTasks is the exhaustive set of task names the runner supports, with
// descriptions for --list output.
var validTasks = map[types.JobType]string{
	types.JobCatchUpSweep:   "Walk every active rule of every user, materializing overdue occurrences",
	jobUserCatchUp:          "Walk every active rule one user owns (--user required)",
	jobRuleCatchUp:          "Walk a single rule by id (--rule required)",
	types.JobReminderScan:   "Dispatch upcoming-occurrence reminders for the next day",
	types.JobHistoryArchive: "Compress finished job history past the retention cutoff (--archive-dir required)",
	types.JobLockPrune:      "Delete expired job lock rows",
}

// CLI-only task names; the rest reuse the engine's job types so history rows
// and lock ids line up with scheduled runs.
const (
	jobUserCatchUp types.JobType = "user_catchup"
	jobRuleCatchUp types.JobType = "rule_catchup"
)

// singletonTasks take the hourly job lock before running. Per-user and
// per-rule walks skip the lock: materialization is idempotent and two walks
// of the same rule converge on the same rows.
var singletonTasks = map[types.JobType]bool{
	types.JobCatchUpSweep:   true,
	types.JobReminderScan:   true,
	types.JobHistoryArchive: true,
	types.JobLockPrune:      true,
}

// payload is the dry-run shape: the task plus its arguments.
type payload struct {
	Task          types.JobType `json:"task"`
	UserID        string        `json:"user_id,omitempty"`
	RuleID        string        `json:"rule_id,omitempty"`
	ReferenceTime *time.Time    `json:"reference_time,omitempty"`
}

const lockTTL = 15 * time.Minute

func main() {
	taskFlag := flag.String("task", "", "Task to execute (e.g., user_catchup)")
	userFlag := flag.String("user", "", "User id for --task=user_catchup")
	ruleFlag := flag.String("rule", "", "Rule id for --task=rule_catchup")
	refTimeFlag := flag.String("reference-time", "", "Override reference time (RFC3339, e.g., 2026-01-15T02:00:00Z)")
	archiveDirFlag := flag.String("archive-dir", "", "Destination directory for --task=history_archive")
	retentionFlag := flag.Duration("retention", 90*24*time.Hour, "History retention window for --task=history_archive")
	listFlag := flag.Bool("list", false, "List all available tasks and exit")
	dryRunFlag := flag.Bool("dry-run", false, "Print the JSON payload without executing")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: catchup-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Invoke engine catch-up and maintenance tasks directly.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all available tasks.\n")
	}

	flag.Parse()

	if *listFlag {
		printAvailableTasks()
		return
	}

	if *taskFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --task is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	task := types.JobType(*taskFlag)
	if _, ok := validTasks[task]; !ok {
		fmt.Fprintf(os.Stderr, "error: unknown task %q\n\n", *taskFlag)
		printAvailableTasks()
		os.Exit(1)
	}

	var refTime *time.Time
	if *refTimeFlag != "" {
		t, err := time.Parse(time.RFC3339, *refTimeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid --reference-time %q: %v\n", *refTimeFlag, err)
			fmt.Fprintf(os.Stderr, "  expected RFC3339 format, e.g., 2026-01-15T02:00:00Z\n")
			os.Exit(1)
		}
		refTime = &t
	}

	// Per-task argument validation, before anything touches the database.
	switch task {
	case jobUserCatchUp:
		if *userFlag == "" {
			fmt.Fprintf(os.Stderr, "error: --task=user_catchup requires --user\n")
			os.Exit(1)
		}
	case jobRuleCatchUp:
		if *ruleFlag == "" {
			fmt.Fprintf(os.Stderr, "error: --task=rule_catchup requires --rule\n")
			os.Exit(1)
		}
	case types.JobHistoryArchive:
		if *archiveDirFlag == "" {
			fmt.Fprintf(os.Stderr, "error: --task=history_archive requires --archive-dir\n")
			os.Exit(1)
		}
	}

	p := payload{
		Task:          task,
		UserID:        *userFlag,
		RuleID:        *ruleFlag,
		ReferenceTime: refTime,
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if *dryRunFlag {
		printPayload(p)
		return
	}

	// Load .env file for local development (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file loaded (this is fine in production)", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := runOptions{
		archiveDir: *archiveDirFlag,
		retention:  *retentionFlag,
	}
	result, err := executeTask(ctx, p, opts, logger)
	if err != nil {
		logger.Error("task execution failed",
			"task", string(p.Task),
			"error", err,
		)
		os.Exit(1)
	}

	logger.Info("task execution succeeded",
		"task", string(p.Task),
		"result", result,
	)
}

// runOptions carries flag values that are not part of the task payload.
type runOptions struct {
	archiveDir string
	retention  time.Duration
}

// executeTask wires up the database and service dependencies, then runs the
// requested task once.
//
// The flow mirrors the engine's sweep: connect, resolve the reference time,
// take the job lock for singleton tasks, bracket the run with job history,
// dispatch.
func executeTask(ctx context.Context, p payload, opts runOptions, logger *slog.Logger) (string, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL environment variable is required")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return "", fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return "", fmt.Errorf("pinging database: %w", err)
	}
	logger.Info("database connection established")

	lockRepo := db.NewJobLockRepository(pool)
	histRepo := db.NewJobHistoryRepository(pool)

	workerID := fmt.Sprintf("catchup-runner-%s", uuid.New().String())

	var clock types.Clock = types.RealClock{}
	if p.ReferenceTime != nil {
		clock = fixedClock{now: p.ReferenceTime.UTC()}
	}
	now := clock.Now()

	logger.Info("executing task",
		"task", string(p.Task),
		"reference_time", now.Format(time.RFC3339),
		"worker_id", workerID,
	)

	// Singleton tasks share the engine's hourly lock ids, so a CLI run and a
	// scheduled run of the same task exclude each other.
	if singletonTasks[p.Task] {
		lockID := fmt.Sprintf("%s:%s", p.Task, now.Truncate(time.Hour).Format("2006-01-02T15"))
		acquired, err := lockRepo.Acquire(ctx, lockID, workerID, lockTTL)
		if err != nil {
			return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
		}
		if !acquired {
			return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
		}
		logger.Info("job lock acquired", "lock_id", lockID)
	}

	histID, err := histRepo.Start(ctx, string(p.Task))
	if err != nil {
		logger.Warn("failed to record job start (continuing anyway)", "error", err)
		histID = 0
	}

	result, items, execErr := dispatch(ctx, p, opts, pool, clock, logger)

	status := "success"
	if execErr != nil {
		status = "failed"
	}
	if histID != 0 {
		if finishErr := histRepo.Finish(ctx, histID, status, items, execErr); finishErr != nil {
			logger.Error("failed to record job completion", "history_id", histID, "error", finishErr)
		}
	}

	if execErr != nil {
		return "", fmt.Errorf("task %s failed: %w", p.Task, execErr)
	}
	return result, nil
}

// dispatch routes a task to the corresponding engine component. All tasks
// use the real repositories; only notification delivery is replaced by the
// logging dispatcher.
func dispatch(ctx context.Context, p payload, opts runOptions, pool *pgxpool.Pool, clock types.Clock, logger *slog.Logger) (string, int, error) {
	typed := &slogAdapter{logger: logger}
	ruleRepo := db.NewRuleRepository(pool)
	occRepo := db.NewOccurrenceRepository(pool)
	userRepo := db.NewUserRepository(pool)

	disp := &logDispatcher{logger: logger}
	processor := catchup.NewProcessor(ruleRepo, occRepo, userRepo, disp, clock, typed)
	service := catchup.NewService(processor, ruleRepo, clock, typed)

	switch p.Task {
	case jobUserCatchUp:
		res, err := service.TriggerCatchUp(ctx, p.UserID)
		if err != nil {
			return "", 0, err
		}
		return fmt.Sprintf("user %s: %d rules walked, %d occurrences materialized, %d failures",
			p.UserID, res.RulesProcessed, res.MaterializedTotal, len(res.Failures)), res.MaterializedTotal, nil

	case jobRuleCatchUp:
		res, err := service.ScheduleRule(ctx, p.RuleID)
		if err != nil {
			return "", 0, err
		}
		return fmt.Sprintf("rule %s: %d occurrences materialized", p.RuleID, res.MaterializedCount), res.MaterializedCount, nil

	case types.JobCatchUpSweep:
		userIDs, err := userRepo.ListIDsWithActiveRules(ctx)
		if err != nil {
			return "", 0, fmt.Errorf("listing users with active rules: %w", err)
		}
		total := 0
		failed := 0
		for _, userID := range userIDs {
			res, err := service.TriggerCatchUp(ctx, userID)
			if err != nil {
				failed++
				logger.Error("catch-up failed", "user_id", userID, "error", err)
				continue
			}
			total += res.MaterializedTotal
		}
		return fmt.Sprintf("%d users swept, %d occurrences materialized, %d users failed",
			len(userIDs), total, failed), total, nil

	case types.JobReminderScan:
		scanner := scheduler.NewReminderScanner(ruleRepo, userRepo, disp, typed)
		sent, err := scanner.Scan(ctx, clock.Now())
		if err != nil {
			return "", sent, err
		}
		return fmt.Sprintf("%d reminders dispatched", sent), sent, nil

	case types.JobHistoryArchive:
		maint := newMaintenance(pool, opts, typed)
		archived, err := maint.ArchiveJobHistory(ctx, clock.Now())
		if err != nil {
			return "", archived, err
		}
		return fmt.Sprintf("%d history rows archived to %s", archived, opts.archiveDir), archived, nil

	case types.JobLockPrune:
		maint := newMaintenance(pool, opts, typed)
		pruned, err := maint.PruneJobLocks(ctx, clock.Now())
		if err != nil {
			return "", int(pruned), err
		}
		return fmt.Sprintf("%d expired locks pruned", pruned), int(pruned), nil

	default:
		// Unknown tasks are caught in main() before reaching here.
		return "", 0, fmt.Errorf("task %q cannot be dispatched", p.Task)
	}
}

func newMaintenance(pool *pgxpool.Pool, opts runOptions, typed types.Logger) *scheduler.Maintenance {
	return scheduler.NewMaintenance(scheduler.MaintenanceConfig{
		History:    db.NewJobHistoryRepository(pool),
		Locks:      db.NewJobLockRepository(pool),
		ArchiveDir: opts.archiveDir,
		Retention:  opts.retention,
		Logger:     typed,
	})
}

// logDispatcher satisfies the catch-up and reminder dispatch seams without
// provider credentials: every dispatch is logged, nothing is sent. Durable
// effects (materialized occurrences, schedule advances) still happen.
type logDispatcher struct {
	logger *slog.Logger
}

var (
	_ catchup.Dispatcher           = (*logDispatcher)(nil)
	_ scheduler.ReminderDispatcher = (*logDispatcher)(nil)
)

func (d *logDispatcher) DispatchOccurrences(_ context.Context, user *types.User, rule *types.RecurringRule, occs []types.Occurrence) error {
	d.logger.Info("would dispatch occurrence notices",
		"user_id", user.ID,
		"rule_id", rule.ID,
		"rule_name", rule.Name,
		"occurrences", len(occs),
	)
	return nil
}

func (d *logDispatcher) DispatchReminder(_ context.Context, user *types.User, rule *types.RecurringRule) error {
	d.logger.Info("would dispatch reminder",
		"user_id", user.ID,
		"rule_id", rule.ID,
		"rule_name", rule.Name,
	)
	return nil
}

// fixedClock pins Now to the --reference-time flag.
type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog covers Info, Error and Warn directly, but its With returns
// *slog.Logger, so an adapter is needed.
type slogAdapter struct {
	logger *slog.Logger
}

var _ types.Logger = (*slogAdapter)(nil)

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// printAvailableTasks prints all valid tasks and their descriptions to
// stderr, sorted alphabetically by task name.
func printAvailableTasks() {
	fmt.Fprintf(os.Stderr, "Available tasks:\n\n")

	tasks := make([]types.JobType, 0, len(validTasks))
	for t := range validTasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return string(tasks[i]) < string(tasks[j])
	})

	maxLen := 0
	for _, t := range tasks {
		if len(string(t)) > maxLen {
			maxLen = len(string(t))
		}
	}

	for _, t := range tasks {
		fmt.Fprintf(os.Stderr, "  %-*s  %s\n", maxLen, string(t), validTasks[t])
	}
	fmt.Fprintln(os.Stderr)
}

// printPayload marshals the payload to pretty-printed JSON and writes it to
// stdout for inspection or piping.
func printPayload(p payload) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to marshal payload: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(data))

	if desc, ok := validTasks[p.Task]; ok {
		fmt.Fprintf(os.Stderr, "\nTask: %s\nDescription: %s\n", p.Task, desc)
		if p.ReferenceTime != nil {
			fmt.Fprintf(os.Stderr, "Reference time: %s\n", p.ReferenceTime.Format(time.RFC3339))
		} else {
			fmt.Fprintf(os.Stderr, "Reference time: (current UTC time will be used)\n")
		}
	}
}
