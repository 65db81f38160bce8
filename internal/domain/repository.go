package domain

import (
	"context"
	"time"
)

// AccountRepository defines ledger access for accounts.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*Account, error)
	// GetOrCreate provisions the account on first authentication with the
	// given starting balance, or returns the existing record untouched.
	GetOrCreate(ctx context.Context, account *Account, startingBalance int64) (*Account, error)
	// AdjustBalance applies delta atomically at the store level and returns
	// the new balance. A debit that would take the balance below zero fails
	// with ErrInsufficientCredits and mutates nothing.
	AdjustBalance(ctx context.Context, id string, delta int64) (int64, error)
}

// JobRepository defines persistence for job records.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Job, error)
	// ListStaleProcessing returns jobs still processing whose creation time
	// is older than the cutoff.
	ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]Job, error)
	// MarkCompleted transitions processing -> completed. It fails with
	// ErrAlreadyTerminal when the job has already reached a terminal state;
	// the guard is a conditional update so racing finalizers in different
	// processes cannot both win.
	MarkCompleted(ctx context.Context, jobID, artifactKey, artifactURL string) error
	// MarkFailed transitions processing -> failed under the same contract.
	MarkFailed(ctx context.Context, jobID, reason string) error
}
