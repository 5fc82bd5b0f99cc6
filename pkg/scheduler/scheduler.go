// Package scheduler re-submits unrouted and stalled notifications for routing
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/JiscPER/jper-sub000/pkg/metrics"
	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/redis"
	"github.com/JiscPER/jper-sub000/pkg/routing"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

var (
	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	// DefaultPollInterval is the default interval between scheduling runs
	DefaultPollInterval = 30 * time.Second

	// DefaultLockTTL is the default TTL for per-notification locks
	DefaultLockTTL = 2 * time.Minute

	// DefaultBatchSize is the number of notifications to fetch per poll
	DefaultBatchSize = 100

	// DefaultSettleTime is how long a record must be untouched before it is picked up
	DefaultSettleTime = time.Minute
)

// Repository lists notifications that are due for routing
type Repository interface {
	ListRoutable(ctx context.Context, maxAttempts int, olderThan time.Time, limit int) ([]*models.Notification, error)
}

// Config holds configuration for the scheduler
type Config struct {
	// PollInterval is how often to look for routable notifications
	PollInterval time.Duration

	// BatchSize is the maximum number of notifications routed per poll
	BatchSize int

	// SettleTime keeps the scheduler away from records the consumer is still working on
	// and spaces out stalled retries
	SettleTime time.Duration
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		BatchSize:    DefaultBatchSize,
		SettleTime:   DefaultSettleTime,
	}
}

// CycleResult counts what one scheduling cycle did
type CycleResult struct {
	Found   int
	Routed  int
	Failed  int
	Skipped int
	Errors  int
}

// Scheduler polls for unrouted notifications and routes them
type Scheduler struct {
	repo       Repository
	dispatcher *Dispatcher
	policy     routing.PolicySource
	config     Config
	logger     ectologger.Logger
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a new scheduler
func NewScheduler(
	repo Repository,
	dispatcher *Dispatcher,
	policy routing.PolicySource,
	config Config,
	logger ectologger.Logger,
) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.SettleTime < 0 {
		config.SettleTime = DefaultSettleTime
	}

	return &Scheduler{
		repo:       repo,
		dispatcher: dispatcher,
		policy:     policy,
		config:     config,
		logger:     logger,
		now:        time.Now,
	}
}

// Start runs a cycle immediately and then one per poll interval until Stop is called
// or ctx ends. The loop keeps ctx values but not its deadline.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrSchedulerAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"poll_interval": s.config.PollInterval.String(),
		"batch_size":    s.config.BatchSize,
		"settle_time":   s.config.SettleTime.String(),
	}).Info("Scheduler started")

	go s.loop(loopCtx, s.done)
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle to return
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		s.logger.WithContext(ctx).Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Timed out waiting for scheduling cycle to finish")
		return ctx.Err()
	}
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		s.RunCycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunCycle routes one batch of due notifications. It returns early once ctx ends,
// leaving the rest of the batch for the next cycle.
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.RunCycle")
	defer span.End()

	start := time.Now()
	log := s.logger.WithContext(ctx)
	var result CycleResult

	maxAttempts := s.policy.Policy().MaxStalledAttempts
	due, err := s.repo.ListRoutable(ctx, maxAttempts, s.now().Add(-s.config.SettleTime), s.config.BatchSize)
	if err != nil {
		log.WithError(err).Error("Failed to list routable notifications")
		return result
	}
	result.Found = len(due)

	for _, n := range due {
		if ctx.Err() != nil {
			break
		}
		label := result.record(s.dispatch(ctx, n))
		if n.RoutingAttempts > 0 && label != "" {
			metrics.SchedulerRetriesTotal.WithLabelValues(label).Inc()
		}
	}

	if result.Found > 0 {
		log.WithFields(map[string]any{
			"found":       result.Found,
			"routed":      result.Routed,
			"failed":      result.Failed,
			"skipped":     result.Skipped,
			"errors":      result.Errors,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("Scheduling cycle completed")
	}
	return result
}

func (s *Scheduler) dispatch(ctx context.Context, n *models.Notification) (*routing.Outcome, error) {
	outcome, err := s.dispatcher.Dispatch(ctx, n)
	if err != nil && !isContended(err) {
		s.logger.WithContext(ctx).WithError(err).
			WithFields(map[string]any{"notification_id": n.ID}).
			Warn("Scheduled routing failed")
	}
	return outcome, err
}

// record counts one dispatch and returns its retry metric label, empty when the
// notification was left to another worker
func (r *CycleResult) record(outcome *routing.Outcome, err error) string {
	switch {
	case isContended(err):
		r.Skipped++
		return ""
	case err != nil:
		r.Errors++
		return "error"
	case outcome.IsRouted():
		r.Routed++
		return "routed"
	}
	r.Failed++
	if outcome.Notification != nil && outcome.Notification.IsStalled() {
		return "stalled"
	}
	return "failed"
}

// isContended reports errors meaning another worker owns or already finished the notification
func isContended(err error) bool {
	return errors.Is(err, redis.ErrLockNotAcquired) || errors.Is(err, routing.ErrTerminal)
}
