// Package jobs schedules review jobs and executes their attempts.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sevigo/review-pipeline/internal/core"
	"github.com/sevigo/review-pipeline/internal/metrics"
)

// Runner executes attempts. *Executor implements it.
type Runner interface {
	Run(ctx context.Context, job *core.ReviewJob) Outcome
	Release(ctx context.Context, r core.Reservation) error
}

// SchedulerConfig controls dispatch. Workers is also the cap on
// concurrent AI calls.
type SchedulerConfig struct {
	Workers         int
	MaxAttempts     int
	Backoff         Backoff
	PollInterval    time.Duration
	LeaseTTL        time.Duration
	DefaultProvider core.ProviderConfig
}

// Scheduler admits jobs into the store and runs a fixed pool of workers
// that claim and execute them.
type Scheduler struct {
	store  core.JobStore
	runner Runner
	cfg    SchedulerConfig
	logger *slog.Logger
	now    func() time.Time

	wake chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler initializes a Scheduler. A non-positive worker count
// defaults to 1 and MaxAttempts defaults to 4.
func NewScheduler(store core.JobStore, runner Runner, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if store == nil {
		panic("job store cannot be nil")
	}
	if runner == nil {
		panic("runner cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 10 * time.Minute
	}
	return &Scheduler{
		store:  store,
		runner: runner,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		wake:   make(chan struct{}, cfg.Workers),
	}
}

// Submit persists a queued job for sub and wakes a worker. Only required
// fields are checked here; format validation is the first step of the
// attempt.
func (s *Scheduler) Submit(ctx context.Context, sub core.Submission) (string, error) {
	if sub.AccountID == "" {
		return "", core.NewValidationError("account id cannot be empty")
	}
	if sub.RepoFullName == "" {
		return "", core.NewValidationError("repository cannot be empty")
	}
	tier := sub.PlanTier
	if tier == "" {
		tier = "free"
	}
	provider := sub.Provider
	if provider.Kind == "" {
		provider = s.cfg.DefaultProvider
	}

	now := s.now()
	job := &core.ReviewJob{
		ID:           ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		RepoFullName: sub.RepoFullName,
		PRNumber:     sub.PRNumber,
		Requester:    core.Requester{AccountID: sub.AccountID, PlanTier: tier},
		Token:        sub.Token,
		Provider:     provider,
		Status:       core.StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
		AvailableAt:  now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("failed to enqueue review job: %w", err)
	}
	metrics.JobSubmitted()
	s.logger.Info("queued review job", "job_id", job.ID, "repo", job.RepoFullName, "pr", job.PRNumber, "provider", provider.Kind)
	s.notify()
	return job.ID, nil
}

// Status returns a snapshot of the job.
func (s *Scheduler) Status(ctx context.Context, id string) (core.ReviewJob, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return core.ReviewJob{}, err
	}
	return *job, nil
}

// Cancel records a cancellation request. A queued job that no attempt
// holds, including one waiting out a retry delay, fails at once; otherwise
// the request takes effect when the current attempt ends.
func (s *Scheduler) Cancel(ctx context.Context, id, reason string) (core.ReviewJob, error) {
	if reason == "" {
		reason = "cancelled by request"
	}
	job, err := s.store.RequestCancel(ctx, id, reason)
	if err != nil {
		return core.ReviewJob{}, err
	}
	s.logger.Info("cancellation requested", "job_id", id, "status", job.Status)
	if job.Status != core.StatusQueued {
		return *job, nil
	}

	held, err := s.store.Claim(ctx, id, s.now(), s.cfg.LeaseTTL)
	switch {
	case errors.Is(err, core.ErrNotFound):
		// An attempt holds the job and sees the request when it ends.
		return *job, nil
	case err != nil:
		s.logger.Warn("failed to hold cancelled job, leaving it to the next claim", "job_id", id, "error", err)
		s.notify()
		return *job, nil
	}
	if err := s.Fail(ctx, held, core.Permanent(core.ErrCancelled, nil, held.CancelReason)); err != nil {
		return core.ReviewJob{}, err
	}
	return *held, nil
}

// Start launches the worker pool. Workers stop claiming new jobs when ctx
// is done or Stop is called; attempts in flight run to completion.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	for i := range s.cfg.Workers {
		s.wg.Add(1)
		go s.startWorker(ctx, i)
	}
	s.logger.Info("scheduler started", "workers", s.cfg.Workers, "max_attempts", s.cfg.MaxAttempts)
	return nil
}

// Stop signals the workers and waits for in-flight attempts to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	s.logger.Info("stopping scheduler and waiting for attempts to finish")
	cancel()
	s.wg.Wait()
	s.logger.Info("all review attempts have finished")
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) startWorker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	s.logger.Debug("starting review worker", "id", workerID)

	for ctx.Err() == nil {
		job, err := s.store.ClaimNext(ctx, s.now(), s.cfg.LeaseTTL)
		if err != nil {
			if !errors.Is(err, core.ErrNotFound) && ctx.Err() == nil {
				s.logger.Error("failed to claim next job", "worker_id", workerID, "error", err)
			}
			s.idle(ctx)
			continue
		}
		s.process(context.WithoutCancel(ctx), workerID, job)
	}

	s.logger.Debug("shutting down review worker", "id", workerID)
}

// idle blocks until a submission, the poll interval or shutdown.
func (s *Scheduler) idle(ctx context.Context) {
	t := time.NewTimer(s.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-s.wake:
	case <-t.C:
	}
}

// process runs one attempt and applies its outcome.
func (s *Scheduler) process(ctx context.Context, workerID int, job *core.ReviewJob) {
	logger := s.logger.With("job_id", job.ID, "attempt", job.Attempts, "worker_id", workerID)
	logger.Info("worker processing job", "repo", job.RepoFullName, "pr", job.PRNumber)

	out := s.runner.Run(ctx, job)
	metrics.AttemptFinished(out.Kind.String())

	var err error
	switch out.Kind {
	case OutcomeCompleted:
		err = s.Ack(ctx, job)
	case OutcomeFailed:
		err = s.Fail(ctx, job, out.Err)
	case OutcomeRetry:
		switch {
		case s.cancelRequested(ctx, job):
			err = s.Fail(ctx, job, core.Permanent(core.ErrCancelled, out.Err, job.CancelReason))
		case job.Attempts >= s.cfg.MaxAttempts:
			err = s.DeadLetter(ctx, job, out.Err)
		default:
			err = s.Retry(ctx, job, s.cfg.Backoff.Delay(job.Attempts), out.Err)
		}
	case OutcomeSkipped:
		logger.Info("attempt skipped", "reason", out.Err)
		err = s.Requeue(ctx, job)
	}
	if err != nil {
		logger.Error("failed to record attempt outcome", "outcome", out.Kind.String(), "error", err)
	}
}

// cancelRequested reports whether a cancellation arrived while the attempt
// was running.
func (s *Scheduler) cancelRequested(ctx context.Context, job *core.ReviewJob) bool {
	if job.CancelRequested {
		return true
	}
	stored, err := s.store.Get(ctx, job.ID)
	if err != nil || !stored.CancelRequested {
		return false
	}
	job.CancelRequested, job.CancelReason = true, stored.CancelReason
	return true
}

// Ack marks the job completed and commits its quota unit.
func (s *Scheduler) Ack(ctx context.Context, job *core.ReviewJob) error {
	if err := job.Transition(core.StatusCompleted, s.now()); err != nil {
		return err
	}
	job.LastError = ""
	job.LeaseExpiresAt = time.Time{}
	if err := s.store.Save(ctx, job); err != nil {
		return err
	}
	metrics.JobFinished(string(core.StatusCompleted), false)
	s.logger.Info("review job completed", "job_id", job.ID, "attempts", job.Attempts, "comments", job.CommentCount)
	return nil
}

// Retry puts the job back in the queue, eligible again after delay.
func (s *Scheduler) Retry(ctx context.Context, job *core.ReviewJob, delay time.Duration, cause error) error {
	now := s.now()
	if job.Status != core.StatusQueued {
		if err := job.Transition(core.StatusQueued, now); err != nil {
			return err
		}
	}
	job.UpdatedAt = now
	job.AvailableAt = now.Add(delay)
	job.LeaseExpiresAt = time.Time{}
	job.LastError = errorText(cause)
	if err := s.store.Save(ctx, job); err != nil {
		return err
	}
	s.logger.Warn("review attempt failed, retrying", "job_id", job.ID, "attempt", job.Attempts, "delay", delay, "error", cause)
	return nil
}

// DeadLetter fails a job that used up its attempts on transient errors.
func (s *Scheduler) DeadLetter(ctx context.Context, job *core.ReviewJob, cause error) error {
	job.DeadLettered = true
	return s.Fail(ctx, job, fmt.Errorf("giving up after %d attempts: %w", job.Attempts, cause))
}

// Fail marks the job failed and returns its quota unit once the failed
// status is saved. A job whose review may already have been posted keeps
// its unit.
func (s *Scheduler) Fail(ctx context.Context, job *core.ReviewJob, cause error) error {
	prev := job.Clone()
	refund := job.Quota != nil && !errors.Is(cause, core.ErrDeliveryUncertain)
	if refund {
		job.Quota = nil
	}
	if err := job.Transition(core.StatusFailed, s.now()); err != nil {
		*job = *prev
		return err
	}
	job.LastError = errorText(cause)
	job.LeaseExpiresAt = time.Time{}
	if err := s.store.Save(ctx, job); err != nil {
		*job = *prev
		return err
	}
	if refund {
		if err := s.runner.Release(ctx, *prev.Quota); err != nil {
			s.logger.Error("failed to roll back quota", "job_id", job.ID, "error", err)
		}
	}
	metrics.JobFinished(string(core.StatusFailed), job.DeadLettered)
	s.logger.Error("review job failed", "job_id", job.ID, "attempts", job.Attempts, "dead_lettered", job.DeadLettered, "error", cause)
	return nil
}

// Requeue hands back a claim whose attempt was skipped, without counting
// it as an attempt. It does nothing when the lease has moved on.
func (s *Scheduler) Requeue(ctx context.Context, job *core.ReviewJob) error {
	stored, err := s.store.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	if stored.LeaseToken != job.LeaseToken || stored.Status != core.StatusQueued {
		return nil
	}
	delay := s.cfg.Backoff.Delay(1)
	if delay < s.cfg.PollInterval {
		delay = s.cfg.PollInterval
	}
	now := s.now()
	if stored.Attempts > 0 {
		stored.Attempts--
	}
	stored.AvailableAt = now.Add(delay)
	stored.LeaseExpiresAt = time.Time{}
	stored.UpdatedAt = now
	if err := s.store.Save(ctx, stored); err != nil && !errors.Is(err, core.ErrDuplicateAttempt) {
		return err
	}
	return nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
