// Package main is the entry point for the FinPulse engine.
//
// One process hosts the whole pipeline: the long-horizon timer scheduler,
// the hourly safety-net sweep, the delivery queue with its single drain
// goroutine, and the HTTP surface (manual catch-up triggers, schedule
// preview, provider event webhooks, health checks and metrics).
//
// Durable state lives in Postgres. The delivery queue is process-local: a
// restart loses pending jobs but never materialized occurrences, and the
// next catch-up pass regenerates whatever is still worth sending.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM):
// the HTTP listener drains first, then timer chains wind down, then the
// sweep loops and the queue drain exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"finpulse/internal/api/handlers"
	"finpulse/internal/catchup"
	"finpulse/internal/config"
	"finpulse/internal/core"
	"finpulse/internal/db"
	"finpulse/internal/external"
	"finpulse/internal/fx"
	ncore "finpulse/internal/notifications/core"
	"finpulse/internal/notifications/email"
	"finpulse/internal/notifications/telegram"
	"finpulse/internal/notifications/webhook"
	"finpulse/internal/queue"
	"finpulse/internal/scheduler"
	"finpulse/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewFileSecretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("finpulse engine starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)
	typed := &slogAdapter{logger: logger}

	pool, err := newDBPool(context.Background(), cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	ruleRepo := db.NewRuleRepository(pool)
	occRepo := db.NewOccurrenceRepository(pool)
	userRepo := db.NewUserRepository(pool)
	lockRepo := db.NewJobLockRepository(pool)
	histRepo := db.NewJobHistoryRepository(pool)

	// Metrics collaborators stay nil when disabled; the server and queue
	// treat nil as "no instrumentation".
	var (
		requestMetrics  *core.RequestMetrics
		metricsHandler  http.Handler
		deliveryMetrics ncore.NotificationMetrics
	)
	if cfg.Observability.EnableMetrics {
		reg := core.NewMetricsRegistry()
		requestMetrics = core.NewRequestMetrics(cfg.Observability.MetricNamespace, reg)
		metricsHandler = core.MetricsHandler(reg)
		deliveryMetrics = ncore.NewPrometheusMetrics(reg)
	}

	channels, err := buildChannels(cfg, typed, logger)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		logger.Warn("all delivery channels disabled; queued jobs will be dropped")
	}

	retryPolicy := ncore.DeliveryRetryPolicy
	if cfg.Queue.RetryCeiling > 0 {
		retryPolicy.MaxAttempts = cfg.Queue.RetryCeiling
	}
	q := queue.New(queue.Config{
		Channels:    channels,
		RetryPolicy: retryPolicy,
		Metrics:     deliveryMetrics,
		Pacing:      cfg.Queue.Pacing,
		Capacity:    cfg.Queue.Capacity,
		Logger:      typed,
	})

	ratesClient := external.NewRatesClient(
		&http.Client{Timeout: cfg.Rates.Timeout},
		external.RatesClientConfig{BaseURL: cfg.Rates.BaseURL, Logger: logger},
	)
	converter := fx.NewConverter(ratesClient, cfg.Rates.CacheTTL, nil, logger)

	policy := ncore.NewPolicyEngine(types.RealClock{}, typed)
	dispatcher := ncore.NewDispatcher(q, policy, converter, types.RealClock{}, typed)
	dispatcher.SetDigestDefaults(cfg.Feature.EnableDigest, cfg.Engine.DigestThreshold)

	processor := catchup.NewProcessor(ruleRepo, occRepo, userRepo, dispatcher, types.RealClock{}, typed)
	service := catchup.NewService(processor, ruleRepo, types.RealClock{}, typed)

	sched := scheduler.NewLongHorizon(scheduler.LongHorizonConfig{
		Runner:        service,
		Users:         userRepo,
		Rules:         ruleRepo,
		RetryInterval: cfg.Scheduler.RearmRetry,
		Logger:        typed,
	})
	service.SetScheduler(sched)

	var reminders scheduler.ReminderJob = scheduler.NewReminderScanner(ruleRepo, userRepo, dispatcher, typed)
	if !cfg.Feature.EnableReminders {
		reminders = disabledReminders{}
	}
	maintenance := scheduler.NewMaintenance(scheduler.MaintenanceConfig{
		History:      histRepo,
		Locks:        lockRepo,
		ArchiveDir:   cfg.Engine.ArchiveDir,
		Retention:    cfg.Engine.HistoryRetention,
		ArchiveBatch: cfg.Engine.ArchiveBatchSize,
		Logger:       typed,
	})
	sweep := scheduler.NewSweep(scheduler.SweepConfig{
		Runner:          service,
		Users:           userRepo,
		Locks:           lockRepo,
		History:         histRepo,
		Reminders:       reminders,
		Maintenance:     maintenance,
		CatchUpInterval: cfg.Scheduler.SweepInterval,
		MaintenanceHour: cfg.Scheduler.ReminderScanHour,
		LockTTL:         cfg.Scheduler.LockTTL,
		Logger:          typed,
	})

	bounces, err := email.NewBounceProcessor(userRepo, &channelAlerter{users: userRepo, disp: dispatcher}, typed)
	if err != nil {
		return fmt.Errorf("building bounce processor: %w", err)
	}
	var verifier *email.EventVerifier
	if key := cfg.Email.EventWebhookKey.Unmask(); key != "" {
		verifier, err = email.NewEventVerifier(key)
		if err != nil {
			return fmt.Errorf("parsing event webhook key: %w", err)
		}
	} else {
		logger.Warn("inbound event signature verification disabled; set SENDGRID_EVENT_WEBHOOK_KEY")
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}
	if requestMetrics != nil {
		srv.Metrics = requestMetrics
		srv.MetricsHandler = metricsHandler
	}
	srv.RateLimits = core.NewMemoryRateLimitStore(types.RealClock{})
	srv.HealthProbes = []core.HealthProbe{
		core.ProbeFunc{ProbeName: "database", CheckFunc: pool.Ping},
	}

	engineHandler := handlers.NewEngineHandler(service, ruleRepo)
	hooksHandler := handlers.NewEmailEventsHandler(bounces, verifier, logger)
	srv.V1RouteRegistrars = []core.RouteRegistrar{
		engineHandler.RegisterRoutes,
		hooksHandler.RegisterRoutes,
	}
	srv.MountRoutes()

	// Background machinery shares one cancellation root. The queue drain and
	// the sweep block until it is canceled; timer chains hang off it via
	// sched.Start.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Start(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweep.Start(ctx)
	}()

	sched.Start(ctx)
	armCtx, armCancel := context.WithTimeout(ctx, 30*time.Second)
	armed, armErr := sched.ArmAllActive(armCtx)
	armCancel()
	if armErr != nil {
		// Not fatal: the hourly sweep re-arms whoever was missed.
		logger.Error("startup arm incomplete", "error", armErr, "armed_users", armed)
	} else {
		logger.Info("timer chains restored", "armed_users", armed)
	}

	err = runHTTPServer(srv, cfg, logger)

	// HTTP is drained; wind down the rest. Stop waits for timer chains to
	// exit, cancel releases the sweep loops and the queue drain.
	sched.Stop()
	cancel()
	wg.Wait()

	logger.Info("finpulse engine stopped")
	return err
}

// runHTTPServer starts the HTTP listener and blocks until a shutdown signal
// arrives or the server fails.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with a 10-second deadline.
	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
	}
	return nil
}

// buildChannels constructs one delivery transport per enabled channel flag.
// Leaving a flag off keeps that channel type unregistered, so the queue
// drops its jobs -- the deployment-wide kill switch.
func buildChannels(cfg *config.Config, typed types.Logger, logger *slog.Logger) ([]types.NotificationChannel, error) {
	var channels []types.NotificationChannel

	if cfg.Feature.EnableTelegram {
		tg, err := telegram.NewTelegramChannel(&cfg.Telegram, typed)
		if err != nil {
			return nil, fmt.Errorf("building telegram channel: %w", err)
		}
		channels = append(channels, tg)
	}

	if cfg.Feature.EnableEmail {
		var provider external.EmailProvider = external.NewSendGridClient(
			&http.Client{Timeout: 10 * time.Second},
			external.SendGridClientConfig{
				APIKey:      cfg.Email.SendGridAPIKey.Unmask(),
				FromAddress: cfg.Email.FromAddress,
				FromName:    cfg.Email.FromName,
				Logger:      logger,
			},
		)
		if cfg.Environment == "local" {
			// Local runs log instead of sending, so a placeholder API key
			// never produces provider errors or real mail.
			provider = external.NewStubEmailProvider(logger)
		}
		renderer, err := email.NewRenderer(cfg.Server.APIExternalURL)
		if err != nil {
			return nil, fmt.Errorf("building email renderer: %w", err)
		}
		ch, err := email.NewEmailChannel(provider, renderer, typed)
		if err != nil {
			return nil, fmt.Errorf("building email channel: %w", err)
		}
		channels = append(channels, ch)
	}

	if cfg.Feature.EnableWebhook {
		wh, err := webhook.NewWebhookChannel(&cfg.Webhook, typed)
		if err != nil {
			return nil, fmt.Errorf("building webhook channel: %w", err)
		}
		channels = append(channels, wh)
	}

	return channels, nil
}

// newDBPool builds the pgx pool and verifies connectivity before anything
// else starts.
func newDBPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	// Bounds dialing when the pool grows under load.
	poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}

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

// channelAlerter feeds bounce-driven channel shutdowns back through the
// dispatcher, so the owner hears about a disabled email channel on whatever
// channels remain enabled.
type channelAlerter struct {
	users *db.UserRepository
	disp  *ncore.Dispatcher
}

var _ email.Alerter = (*channelAlerter)(nil)

func (a *channelAlerter) SystemAlert(ctx context.Context, userID, title, body string) error {
	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading user %s: %w", userID, err)
	}
	return a.disp.DispatchSystemAlert(ctx, user, title, body)
}

// disabledReminders stands in for the reminder scan when the feature flag is
// off. The daily maintenance window still runs its other tasks.
type disabledReminders struct{}

func (disabledReminders) Scan(context.Context, time.Time) (int, error) { return 0, nil }
