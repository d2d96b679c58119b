package store

import (
	"context"
	"errors"

	"github.com/neuroinsight/neuroinsight/pkg/types"
)

var (
	// ErrNotFound is returned when no job row matches the id
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a transition's state guard
	// matched no row, meaning the job is already past that state
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the persistence contract for job rows
type Store interface {
	Create(ctx context.Context, job *types.Job) error
	Get(ctx context.Context, id string) (*types.Job, error)
	List(ctx context.Context, status types.JobStatus, limit int) ([]*types.Job, error)
	ListActive(ctx context.Context) ([]*types.Job, error)

	// UpdateProgress commits monotone progress and the current phase even
	// when the status is unchanged
	UpdateProgress(ctx context.Context, id string, progress int, phase string) error
	SetBackendJobID(ctx context.Context, id, backendJobID string) error

	// Guarded transitions. Each returns ErrInvalidTransition when the job
	// is not in a state the transition may leave.
	MarkRunning(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, exitCode int) error
	MarkFailed(ctx context.Context, id string, exitCode *int, errorMessage string) error
	MarkCancelled(ctx context.Context, id string) error

	SoftDelete(ctx context.Context, id string) error
	Health(ctx context.Context) error
	Close() error
}
