// Package core defines the essential interfaces and data structures that form the
// backbone of the application. These components are designed to be abstract,
// allowing for flexible and decoupled implementations of the application's logic.
package core

import (
	"context"
	"time"
)

// JobStore is the durable queue behind the scheduler. Implementations must
// make ClaimNext atomic: a job is handed to at most one caller until its
// lease is released or expires.
type JobStore interface {
	// Create persists a new queued job.
	Create(ctx context.Context, job *ReviewJob) error
	// Get returns a copy of the job, or ErrNotFound.
	Get(ctx context.Context, id string) (*ReviewJob, error)
	// ClaimNext leases the oldest eligible job: a queued job whose
	// AvailableAt has passed, or a non-terminal job whose lease expired.
	// The claimed job is returned with Attempts incremented and a fresh
	// LeaseToken. It returns ErrNotFound when nothing is eligible.
	ClaimNext(ctx context.Context, now time.Time, leaseTTL time.Duration) (*ReviewJob, error)
	// Claim leases the job with the given id when it is queued and no
	// attempt holds it, regardless of AvailableAt. Attempts is unchanged.
	// It returns ErrNotFound when the job is not claimable.
	Claim(ctx context.Context, id string, now time.Time, leaseTTL time.Duration) (*ReviewJob, error)
	// Save writes the job back. It fails with ErrDuplicateAttempt when the
	// stored lease token no longer matches the job's. It never clears a
	// cancellation request recorded by RequestCancel.
	Save(ctx context.Context, job *ReviewJob) error
	// RequestCancel records a cancellation request and returns the job as
	// stored afterwards.
	RequestCancel(ctx context.Context, id, reason string) (*ReviewJob, error)
}

//go:generate mockgen -destination=../../mocks/mock_core.go -package=mocks . ContextFetcher,DeliverySink

// ContextFetcher retrieves the diff and referenced file contents of a pull
// request from the hosting platform.
type ContextFetcher interface {
	FetchContext(ctx context.Context, target Target, token string) (*ReviewContext, error)
}

// DeliverySink posts a normalized review back to the hosting platform.
type DeliverySink interface {
	Deliver(ctx context.Context, target Target, jobID, token string, result *AIReviewResult) error
}

// QuotaGate admits work against an account's plan allowance.
type QuotaGate interface {
	// TryConsume atomically takes one review unit for the current billing
	// period. It returns an error of class ErrQuotaExceeded on denial.
	TryConsume(ctx context.Context, accountID string, tier PlanTier) (Reservation, error)
	// Rollback returns a unit taken by TryConsume.
	Rollback(ctx context.Context, r Reservation) error
	// Used reports the units consumed in the current billing period.
	Used(ctx context.Context, accountID string) (int64, error)
}

// DeliveryLedger records which jobs have had a review posted, so that a
// job is delivered at most once within the dedup window.
type DeliveryLedger interface {
	// Reserve claims the delivery slot for jobID. It returns false when the
	// slot is already held or confirmed.
	Reserve(ctx context.Context, jobID string) (bool, error)
	// Confirm marks the delivery as done.
	Confirm(ctx context.Context, jobID string) error
	// Release frees a slot whose delivery is known not to have happened.
	Release(ctx context.Context, jobID string) error
	// Delivered reports whether a delivery was confirmed for jobID.
	Delivered(ctx context.Context, jobID string) (bool, error)
}

// Locker provides short-lived mutual exclusion across workers.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// RulesSource returns the free-form review policy text of an account.
type RulesSource interface {
	Rules(ctx context.Context, accountID string) (string, error)
}
