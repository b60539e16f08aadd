// package jobs runs orchestrated syncs and token refreshes as durable, retrying background jobs.
//
// Each job follows
//
//	pending -> running -> succeeded
//	                   -> retrying -> running
//	                   -> failed
//
// The scheduler is the only place that decides between retry and failure, using [shared.IsRetryable].
// Two periodic sweeps enqueue refresh jobs and sync jobs for every user holding a refresh token.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/repositories"
	"github.com/desertthunder/spotsync/internal/shared"
	"github.com/desertthunder/spotsync/internal/tasks"
)

// Queue is the durable job store. It is satisfied by *repositories.JobRepository.
type Queue interface {
	Enqueue(ctx context.Context, job *models.Job) error
	Claim(ctx context.Context, now time.Time) (*models.Job, error)
	ClaimForUser(ctx context.Context, now time.Time, userID string) (*models.Job, error)
	Succeed(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, runAt time.Time, lastErr string) error
	Fail(ctx context.Context, id string, lastErr string) error
	ResetRunning(ctx context.Context) (int64, error)
}

// Runner executes job payloads. It is satisfied by *tasks.SpotifyEngine.
type Runner interface {
	SyncResource(ctx context.Context, userID string, rt models.ResourceType, progress chan<- tasks.ProgressUpdate) (*tasks.SyncResult, error)
	RefreshToken(ctx context.Context, userID string, progress chan<- tasks.ProgressUpdate) error
}

// Eligible lists users with a usable refresh token. It is satisfied by *vault.Vault.
type Eligible interface {
	RefreshableUsers(ctx context.Context) ([]string, error)
}

// Scheduler claims jobs from a [Queue] and runs them on a worker pool.
type Scheduler struct {
	queue    Queue
	runner   Runner
	eligible Eligible
	cfg      shared.JobsConfig
	metrics  *Metrics
	logger   *log.Logger
	now      func() time.Time
	backoff  func() backoff.BackOff
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides the time source used for claiming and retry scheduling.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithMetrics records job outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithBackOff replaces the retry delay policy. The factory is called once per retry decision.
// A policy returning [backoff.Stop] fails the job.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(s *Scheduler) { s.backoff = fn }
}

// New creates a [Scheduler]. The retry delay defaults to a constant cfg.RetryDelay.
func New(queue Queue, runner Runner, eligible Eligible, cfg shared.JobsConfig, opts ...Option) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	s := &Scheduler{
		queue:    queue,
		runner:   runner,
		eligible: eligible,
		cfg:      cfg,
		logger:   shared.NewLogger(nil),
		now:      time.Now,
	}
	s.backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(s.cfg.RetryDelay) }

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnqueueSync schedules a sync of rt for userID.
func (s *Scheduler) EnqueueSync(ctx context.Context, userID string, rt models.ResourceType) (*models.Job, error) {
	return s.enqueue(ctx, &models.Job{Kind: models.JobSync, UserID: userID, ResourceType: rt})
}

// EnqueueSyncAll schedules one sync job per resource type for userID.
func (s *Scheduler) EnqueueSyncAll(ctx context.Context, userID string) ([]*models.Job, error) {
	jobs := make([]*models.Job, 0, len(models.ResourceTypes))
	for _, rt := range models.ResourceTypes {
		job, err := s.EnqueueSync(ctx, userID, rt)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// EnqueueRefresh schedules a token refresh for userID.
func (s *Scheduler) EnqueueRefresh(ctx context.Context, userID string) (*models.Job, error) {
	return s.enqueue(ctx, &models.Job{Kind: models.JobRefresh, UserID: userID})
}

func (s *Scheduler) enqueue(ctx context.Context, job *models.Job) (*models.Job, error) {
	job.MaxAttempts = s.cfg.MaxAttempts
	job.RunAt = s.now().UTC()
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Debug("job enqueued", "job", job.ID, "label", job.Label(), "user", job.UserID)
	return job, nil
}

// SweepRefresh enqueues one refresh job per eligible user and returns how many were enqueued.
//
// A failure for one user is logged and the sweep continues.
func (s *Scheduler) SweepRefresh(ctx context.Context) (int, error) {
	return s.sweep(ctx, "refresh", func(userID string) (int, error) {
		if _, err := s.EnqueueRefresh(ctx, userID); err != nil {
			return 0, err
		}
		return 1, nil
	})
}

// SweepSync enqueues one sync job per resource type for every eligible user and returns how many were enqueued.
func (s *Scheduler) SweepSync(ctx context.Context) (int, error) {
	return s.sweep(ctx, "sync", func(userID string) (int, error) {
		jobs, err := s.EnqueueSyncAll(ctx, userID)
		return len(jobs), err
	})
}

func (s *Scheduler) sweep(ctx context.Context, name string, enqueue func(userID string) (int, error)) (int, error) {
	users, err := s.eligible.RefreshableUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s sweep: %w", name, err)
	}

	total := 0
	for _, userID := range users {
		n, err := enqueue(userID)
		total += n
		if err != nil {
			s.logger.Error("sweep enqueue failed", "sweep", name, "user", userID, "error", err)
		}
	}

	s.logger.Info("sweep complete", "sweep", name, "users", len(users), "jobs", total)
	return total, nil
}

// RunOnce claims and runs at most one due job. It reports whether a job was run.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	return s.runClaimed(ctx, func() (*models.Job, error) {
		return s.queue.Claim(ctx, s.now())
	})
}

// Drain runs due jobs until none are left and returns how many ran.
func (s *Scheduler) Drain(ctx context.Context) (int, error) {
	return s.drain(ctx, s.RunOnce)
}

// DrainUser runs userID's due jobs until none are left and returns how many ran.
// Jobs of other users stay queued.
func (s *Scheduler) DrainUser(ctx context.Context, userID string) (int, error) {
	return s.drain(ctx, func(ctx context.Context) (bool, error) {
		return s.runClaimed(ctx, func() (*models.Job, error) {
			return s.queue.ClaimForUser(ctx, s.now(), userID)
		})
	})
}

func (s *Scheduler) drain(ctx context.Context, runOnce func(context.Context) (bool, error)) (int, error) {
	n := 0
	for {
		ran, err := runOnce(ctx)
		if err != nil {
			return n, err
		}
		if !ran {
			return n, nil
		}
		n++
	}
}

func (s *Scheduler) runClaimed(ctx context.Context, claim func() (*models.Job, error)) (bool, error) {
	job, err := claim()
	if errors.Is(err, repositories.ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}

	start := time.Now()
	runErr := s.execute(ctx, job)
	s.observe(job, time.Since(start))

	// Record the outcome even when ctx was canceled mid-run.
	return true, s.finish(context.WithoutCancel(ctx), job, runErr)
}

// Run resets jobs orphaned by a crashed worker, then runs the worker pool and the sweep tickers until ctx is done.
//
// Sweeps are disabled by a zero interval.
func (s *Scheduler) Run(ctx context.Context) error {
	if n, err := s.queue.ResetRunning(ctx); err != nil {
		return fmt.Errorf("reset running jobs: %w", err)
	} else if n > 0 {
		s.logger.Warn("requeued jobs left running", "count", n)
	}

	s.logger.Info("scheduler started", "workers", s.cfg.Workers, "poll", s.cfg.PollInterval,
		"refresh_every", s.cfg.RefreshInterval, "sync_every", s.cfg.SyncInterval)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			s.work(gctx, i)
			return nil
		})
	}

	if s.cfg.RefreshInterval > 0 {
		g.Go(func() error {
			s.every(gctx, s.cfg.RefreshInterval, s.SweepRefresh)
			return nil
		})
	}
	if s.cfg.SyncInterval > 0 {
		g.Go(func() error {
			s.every(gctx, s.cfg.SyncInterval, s.SweepSync)
			return nil
		})
	}

	err := g.Wait()
	s.logger.Info("scheduler stopped")
	return err
}

// work polls the queue, running jobs back to back while any are due.
func (s *Scheduler) work(ctx context.Context, id int) {
	logger := shared.WithLogger(s.logger, "worker", id)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for ctx.Err() == nil {
			ran, err := s.RunOnce(ctx)
			if err != nil {
				logger.Error("job loop error", "error", err)
				break
			}
			if !ran {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, sweep func(context.Context) (int, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sweep(ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job *models.Job) error {
	switch job.Kind {
	case models.JobRefresh:
		return s.runner.RefreshToken(ctx, job.UserID, nil)
	case models.JobSync:
		res, err := s.runner.SyncResource(ctx, job.UserID, job.ResourceType, nil)
		if err == nil && res != nil && s.metrics != nil {
			s.metrics.RecordsChanged.WithLabelValues(string(job.ResourceType), "added").Add(float64(res.Added))
			s.metrics.RecordsChanged.WithLabelValues(string(job.ResourceType), "removed").Add(float64(res.Removed))
		}
		return err
	default:
		return fmt.Errorf("%w: unknown job kind %q", shared.ErrInvalidInput, job.Kind)
	}
}

// finish applies the state transition for a completed attempt.
func (s *Scheduler) finish(ctx context.Context, job *models.Job, runErr error) error {
	logger := shared.WithLogger(s.logger, "job", job.ID, "label", job.Label(), "user", job.UserID, "attempt", job.Attempts)

	if runErr == nil {
		s.count(job, OutcomeSucceeded)
		logger.Info("job succeeded")
		return s.queue.Succeed(ctx, job.ID)
	}

	msg := runErr.Error()
	if shared.IsRetryable(runErr) && job.Attempts < job.MaxAttempts {
		delay := s.backoff().NextBackOff()
		if delay != backoff.Stop {
			s.count(job, OutcomeRetried)
			logger.Warn("job failed, retrying", "delay", delay, "max_attempts", job.MaxAttempts, "error", runErr)
			return s.queue.Retry(ctx, job.ID, s.now().Add(delay), msg)
		}
	}

	s.count(job, OutcomeFailed)
	logger.Error("job failed", "retryable", shared.IsRetryable(runErr), "error", runErr)
	return s.queue.Fail(ctx, job.ID, msg)
}

func (s *Scheduler) count(job *models.Job, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.JobsTotal.WithLabelValues(string(job.Kind), string(job.ResourceType), outcome).Inc()
}

func (s *Scheduler) observe(job *models.Job, d time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.JobDuration.WithLabelValues(string(job.Kind), string(job.ResourceType)).Observe(d.Seconds())
}
