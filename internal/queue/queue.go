// Package queue implements the process-local notification delivery queue.
//
// Jobs live in memory only: a restart loses pending notifications but never
// materialized occurrences, and the next catch-up run regenerates whatever
// is still relevant. A single drain goroutine owns delivery, so at most one
// send is in flight at any time and channels are never hammered in parallel.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"finpulse/internal/notifications/core"
	"finpulse/internal/types"
)

// DefaultPacing is the fixed delay between consecutive successful sends,
// keeping the queue from bursting into provider rate limits after a large
// backfill.
const DefaultPacing = time.Second

// ErrClosed is returned by Enqueue after the drain loop has stopped.
var ErrClosed = errors.New("queue: closed")

// ErrFull is returned by Enqueue when the queue is at capacity. The job is
// dropped; the next catch-up run re-derives anything still worth sending.
var ErrFull = errors.New("queue: full")

// Compile-time assertion that Queue satisfies the dispatcher's enqueue seam.
var _ core.Enqueuer = (*Queue)(nil)

// Queue is a mutex-guarded FIFO of NotificationJobs with a single drain
// goroutine. Dequeue order is FIFO among *eligible* jobs: a retry-scheduled
// job whose NotBefore is still in the future is overtaken by younger jobs
// that are ready now.
type Queue struct {
	channels map[types.ChannelType]types.NotificationChannel
	policy   core.RetryPolicy
	metrics  core.NotificationMetrics
	clock    types.Clock
	sleep    types.SleepFunc
	pacing   time.Duration
	capacity int
	logger   types.Logger

	mu     sync.Mutex
	jobs   []*types.NotificationJob
	closed bool

	// wake nudges the drain loop when Enqueue adds work to an idle queue.
	wake chan struct{}
}

// Config carries the queue's dependencies. Zero-value fields fall back to
// production defaults.
type Config struct {
	// Channels are the delivery transports, keyed by their Type(). A job
	// whose channel type has no registered transport is dropped; this is how
	// kill-switched channels reject deliveries.
	Channels []types.NotificationChannel

	RetryPolicy core.RetryPolicy         // zero -> core.DeliveryRetryPolicy
	Metrics     core.NotificationMetrics // nil -> core.NoopMetrics
	Clock       types.Clock              // nil -> types.RealClock
	Sleep       types.SleepFunc          // nil -> types.ContextSleep
	Pacing      time.Duration            // zero -> DefaultPacing
	Capacity    int                      // max queued jobs; zero -> unbounded
	Logger      types.Logger
}

// New builds a Queue. Call Start on its own goroutine to begin draining.
func New(cfg Config) *Queue {
	q := &Queue{
		channels: make(map[types.ChannelType]types.NotificationChannel, len(cfg.Channels)),
		policy:   cfg.RetryPolicy,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
		sleep:    cfg.Sleep,
		pacing:   cfg.Pacing,
		capacity: cfg.Capacity,
		logger:   cfg.Logger,
		wake:     make(chan struct{}, 1),
	}
	for _, ch := range cfg.Channels {
		if ch != nil {
			q.channels[ch.Type()] = ch
		}
	}
	if q.policy.MaxAttempts == 0 {
		q.policy = core.DeliveryRetryPolicy
	}
	if q.metrics == nil {
		q.metrics = core.NoopMetrics{}
	}
	if q.clock == nil {
		q.clock = types.RealClock{}
	}
	if q.sleep == nil {
		q.sleep = types.ContextSleep
	}
	if q.pacing <= 0 {
		q.pacing = DefaultPacing
	}
	return q
}

// Enqueue appends a job to the tail of the queue. Jobs enqueued after the
// drain loop has stopped are dropped with a log; delivery is best-effort and
// callers treat the error as advisory.
func (q *Queue) Enqueue(job *types.NotificationJob) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("queue closed, dropping job",
			"job_id", job.ID,
			"channel_type", string(job.ChannelType),
		)
		return ErrClosed
	}
	if q.capacity > 0 && len(q.jobs) >= q.capacity {
		q.mu.Unlock()
		q.logger.Warn("queue at capacity, dropping job",
			"job_id", job.ID,
			"channel_type", string(job.ChannelType),
			"capacity", q.capacity,
		)
		return ErrFull
	}
	job.State = types.JobStatePending
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len reports the number of queued jobs. The in-flight job, if any, is not
// counted.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Start runs the drain loop until ctx is cancelled. It blocks, so run it on
// its own goroutine. Once Start returns the queue is closed and refuses new
// jobs.
func (q *Queue) Start(ctx context.Context) {
	q.logger.Info("notification queue started",
		"channels", len(q.channels),
		"max_retries", q.policy.MaxAttempts,
	)

	for ctx.Err() == nil {
		if q.processNext(ctx) {
			continue
		}
		q.waitForWork(ctx)
	}

	q.mu.Lock()
	q.closed = true
	remaining := len(q.jobs)
	q.jobs = nil
	q.mu.Unlock()

	if remaining > 0 {
		q.logger.Warn("notification queue stopped with undelivered jobs",
			"dropped", remaining,
		)
		return
	}
	q.logger.Info("notification queue stopped")
}

// processNext pops and delivers the oldest eligible job. Returns false when
// nothing was eligible.
func (q *Queue) processNext(ctx context.Context) bool {
	job := q.popEligible()
	if job == nil {
		return false
	}
	q.attempt(ctx, job)
	return true
}

// popEligible removes and returns the first job whose NotBefore has passed,
// preserving the order of everything it skips.
func (q *Queue) popEligible() *types.NotificationJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	for i, job := range q.jobs {
		if job.Eligible(now) {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return job
		}
	}
	return nil
}

// waitForWork blocks until an enqueue nudge, the earliest NotBefore among
// queued jobs, or cancellation.
func (q *Queue) waitForWork(ctx context.Context) {
	q.mu.Lock()
	now := q.clock.Now()
	wait := time.Duration(-1)
	for _, job := range q.jobs {
		d := job.NotBefore.Sub(now)
		if d < 0 {
			d = 0
		}
		if wait < 0 || d < wait {
			wait = d
		}
	}
	q.mu.Unlock()

	switch {
	case wait == 0:
		// A job became eligible between the failed pop and here.
		return
	case wait < 0:
		// Queue is empty; only an enqueue or shutdown ends the wait.
		select {
		case <-ctx.Done():
		case <-q.wake:
		}
	default:
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-q.wake:
		case <-timer.C:
		}
	}
}

// attempt performs one delivery of the job and routes the outcome: success,
// retry with backoff, or drop.
func (q *Queue) attempt(ctx context.Context, job *types.NotificationJob) {
	job.State = types.JobStateInFlight
	q.metrics.RecordQueueLag(ctx, q.clock.Now().Sub(job.EnqueuedAt))

	logger := q.logger.With(
		"job_id", job.ID,
		"channel_type", string(job.ChannelType),
		"trace_id", job.TraceID,
	)

	ch, ok := q.channels[job.ChannelType]
	if !ok {
		q.drop(ctx, job, logger, "no transport registered for channel type")
		return
	}

	payload, err := ch.Format(ctx, job.Notice, job.ChannelConfig)
	if err != nil {
		q.drop(ctx, job, logger, fmt.Sprintf("format: %v", err))
		return
	}

	start := q.clock.Now()
	result, deliverErr := ch.Deliver(ctx, payload, job.ChannelConfig)
	q.metrics.RecordLatency(ctx, job.ChannelType, q.clock.Now().Sub(start))

	switch {
	case deliverErr == nil && result == nil:
		q.drop(ctx, job, logger, "channel returned no result")

	case result != nil && result.Status == types.DeliveryStatusSent:
		job.State = types.JobStateDelivered
		q.metrics.RecordDelivery(ctx, job.ChannelType, core.MetricSuccess)
		logger.Info("notification delivered",
			"provider_message_id", result.ProviderMessageID,
			"retry_count", job.RetryCount,
		)
		// Fixed pacing between sends; interrupted only by shutdown.
		_ = q.sleep(ctx, q.pacing)

	case result != nil && result.Retryable:
		q.scheduleRetry(ctx, job, logger, result.FailureReason)

	case result == nil && ch.ShouldRetry(deliverErr):
		q.scheduleRetry(ctx, job, logger, deliverErr.Error())

	default:
		q.drop(ctx, job, logger, failureReason(result, deliverErr))
	}
}

// scheduleRetry re-queues a transiently failed job with exponential backoff.
// A job that has already used every retry is dropped instead.
func (q *Queue) scheduleRetry(ctx context.Context, job *types.NotificationJob, logger types.Logger, reason string) {
	if job.RetryCount >= q.policy.MaxAttempts {
		job.State = types.JobStateDropped
		q.metrics.RecordDelivery(ctx, job.ChannelType, core.MetricDropped)
		logger.Error("job dropped, retry ceiling reached",
			"retries", job.RetryCount,
			"reason", reason,
		)
		return
	}

	job.RetryCount++
	delay := core.CalculateNextRetry(q.policy, job.RetryCount)
	job.NotBefore = q.clock.Now().Add(delay)
	job.State = types.JobStateRetryScheduled
	q.metrics.RecordDelivery(ctx, job.ChannelType, core.MetricFailed)

	q.mu.Lock()
	closed := q.closed
	if !closed {
		q.jobs = append(q.jobs, job)
	}
	q.mu.Unlock()

	if closed {
		logger.Warn("queue closed, dropping retry", "reason", reason)
		return
	}

	logger.Warn("delivery failed, retry scheduled",
		"retry_count", job.RetryCount,
		"delay", delay.String(),
		"reason", reason,
	)
}

// drop marks a job permanently failed. Nothing is persisted; the log line is
// the only record.
func (q *Queue) drop(ctx context.Context, job *types.NotificationJob, logger types.Logger, reason string) {
	job.State = types.JobStateDropped
	q.metrics.RecordDelivery(ctx, job.ChannelType, core.MetricDropped)
	logger.Error("delivery permanently failed, job dropped",
		"retry_count", job.RetryCount,
		"reason", reason,
	)
}

func failureReason(result *types.DeliveryResult, err error) string {
	if result != nil && result.FailureReason != "" {
		return result.FailureReason
	}
	if err != nil {
		return err.Error()
	}
	return "delivery rejected"
}
