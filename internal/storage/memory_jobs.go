package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sevigo/review-pipeline/internal/core"
)

// MemoryJobStore is an in-process JobStore. Jobs do not survive a restart.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*core.ReviewJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*core.ReviewJob)}
}

var _ core.JobStore = (*MemoryJobStore)(nil)

func (s *MemoryJobStore) Create(_ context.Context, job *core.ReviewJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (*core.ReviewJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, jobNotFound(id)
	}
	return job.Clone(), nil
}

func (s *MemoryJobStore) ClaimNext(_ context.Context, now time.Time, leaseTTL time.Duration) (*core.ReviewJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []*core.ReviewJob
	for _, job := range s.jobs {
		if claimable(job, now) {
			eligible = append(eligible, job)
		}
	}
	if len(eligible) == 0 {
		return nil, core.ErrNotFound
	}
	sort.Slice(eligible, func(i, k int) bool {
		a, b := eligible[i], eligible[k]
		if !a.AvailableAt.Equal(b.AvailableAt) {
			return a.AvailableAt.Before(b.AvailableAt)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	job := eligible[0]
	if err := lease(job, now, leaseTTL); err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

func (s *MemoryJobStore) Claim(_ context.Context, id string, now time.Time, leaseTTL time.Duration) (*core.ReviewJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, jobNotFound(id)
	}
	if job.Status != core.StatusQueued || leaseHeld(job, now) {
		return nil, core.ErrNotFound
	}
	hold(job, now, leaseTTL)
	return job.Clone(), nil
}

func (s *MemoryJobStore) Save(_ context.Context, job *core.ReviewJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[job.ID]
	if !ok {
		return jobNotFound(job.ID)
	}
	if stored.LeaseToken != job.LeaseToken {
		return staleLease(job)
	}
	next := job.Clone()
	if stored.CancelRequested {
		next.CancelRequested = true
		next.CancelReason = stored.CancelReason
	}
	s.jobs[job.ID] = next
	return nil
}

func (s *MemoryJobStore) RequestCancel(_ context.Context, id, reason string) (*core.ReviewJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, jobNotFound(id)
	}
	if !job.Status.IsTerminal() && !job.CancelRequested {
		job.CancelRequested = true
		job.CancelReason = reason
		job.UpdatedAt = time.Now()
	}
	return job.Clone(), nil
}

// claimable reports whether a worker may lease job at now: an unleased
// queued job that is due, or an in-flight job whose lease has lapsed.
func claimable(job *core.ReviewJob, now time.Time) bool {
	leased := leaseHeld(job, now)
	switch job.Status {
	case core.StatusQueued:
		return !leased && !job.AvailableAt.After(now)
	case core.StatusFetching, core.StatusReviewing, core.StatusDelivering:
		return !job.LeaseExpiresAt.IsZero() && !leased
	}
	return false
}

func leaseHeld(job *core.ReviewJob, now time.Time) bool {
	return !job.LeaseExpiresAt.IsZero() && !job.LeaseExpiresAt.Before(now)
}

// lease hands job to a new attempt. A job reclaimed from a lapsed lease is
// put back to queued first so the attempt starts from the beginning.
func lease(job *core.ReviewJob, now time.Time, ttl time.Duration) error {
	if job.Status != core.StatusQueued {
		if err := job.Transition(core.StatusQueued, now); err != nil {
			return err
		}
		job.LastError = "lease expired before the attempt finished"
	}
	job.Attempts++
	hold(job, now, ttl)
	return nil
}

func hold(job *core.ReviewJob, now time.Time, ttl time.Duration) {
	job.LeaseToken = uuid.NewString()
	job.LeaseExpiresAt = now.Add(ttl)
	job.UpdatedAt = now
}

func jobNotFound(id string) error {
	return core.Permanent(core.ErrNotFound, nil, "job "+id)
}

func staleLease(job *core.ReviewJob) error {
	return core.Permanent(core.ErrDuplicateAttempt, nil,
		fmt.Sprintf("lease on job %s (attempt %d) is no longer held", job.ID, job.Attempts))
}
