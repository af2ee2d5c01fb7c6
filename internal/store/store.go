// Package store owns all persisted state: the deduplicated property table,
// the job definitions and the run history. The postgres implementations
// back the running service; the memory implementations back tests and the
// one-shot CLI path.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"propscraper/internal/types"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName is returned when a job name collides.
	ErrDuplicateName = errors.New("job name already exists")
)

// PropertyStore is the single writer to persisted properties. UpsertBatch
// applies one run's surviving records as an atomic unit keyed by
// source_url: either every record lands or, on a storage fault, none do.
type PropertyStore interface {
	UpsertBatch(ctx context.Context, listings []types.Listing) (types.UpsertCounts, error)
	GetBySourceURL(ctx context.Context, sourceURL string) (*types.Property, error)
	Search(ctx context.Context, q types.PropertyQuery) ([]types.Property, error)
	Recent(ctx context.Context, days, limit int) ([]types.Property, error)
	Count(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (types.PropertyStats, error)
}

// JobStore persists the job registry that the scheduler coordinator owns.
type JobStore interface {
	List(ctx context.Context) ([]types.Job, error)
	Create(ctx context.Context, job *types.Job) error
	Update(ctx context.Context, job *types.Job) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// RunStore appends terminal run results and serves the run history.
type RunStore interface {
	Record(ctx context.Context, run *types.RunResult) error
	// List returns runs newest first; uuid.Nil lists across all jobs.
	List(ctx context.Context, jobID uuid.UUID, limit int) ([]types.RunResult, error)
	Counts(ctx context.Context) (total, succeeded int64, err error)
}
