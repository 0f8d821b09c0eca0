package jobs

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no job row exists for the id (or the owner
// does not match). Handlers treat it as client cancellation or an orphaned
// task, not as a crash condition.
var ErrNotFound = errors.New("jobs: not found")

// ErrNoResults is returned when MarkCompleted is called without results;
// a completed job must carry at least one result reference.
var ErrNoResults = errors.New("jobs: completed job requires results")

// Store abstracts durable persistence for job records and finalized fittings.
// Implementations must be safe for concurrent use. Status writes are
// idempotent by id and may not move a job out of a terminal state: such
// writes are silent no-ops.
type Store interface {
	// Create inserts a QUEUED job and assigns its id.
	Create(ctx context.Context, job *Job) error
	// Get returns the job by id, or ErrNotFound.
	Get(ctx context.Context, id int64) (*Job, error)
	// GetOwned returns the job only when it belongs to ownerID.
	GetOwned(ctx context.Context, id, ownerID int64) (*Job, error)
	// MarkProcessing transitions a QUEUED job to PROCESSING.
	MarkProcessing(ctx context.Context, id int64) error
	// MarkCompleted writes results (1..MaxResults, excess dropped) and the
	// completion timestamp.
	MarkCompleted(ctx context.Context, id int64, results []string) error
	// MarkFailed writes the truncated error message and completion timestamp.
	MarkFailed(ctx context.Context, id int64, msg string) error
	// Delete removes the job row.
	Delete(ctx context.Context, id int64) error
	// CreateFitting persists a finalized result selection.
	CreateFitting(ctx context.Context, ownerID int64, imageURL string) (*Fitting, error)
}
