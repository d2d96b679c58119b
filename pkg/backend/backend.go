package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/neuroinsight/neuroinsight/pkg/audit"
	"github.com/neuroinsight/neuroinsight/pkg/config"
	"github.com/neuroinsight/neuroinsight/pkg/queue"
	"github.com/neuroinsight/neuroinsight/pkg/registry"
	"github.com/neuroinsight/neuroinsight/pkg/sshconn"
	"github.com/neuroinsight/neuroinsight/pkg/store"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

var (
	// ErrJobNotFound is returned when a job id is unknown to the backend
	ErrJobNotFound = errors.New("job not found")
	// ErrSubmitFailed wraps submission failures
	ErrSubmitFailed = errors.New("job submission failed")
	// ErrAlreadyTerminal is returned when cancelling a finished job
	ErrAlreadyTerminal = errors.New("job already in a terminal state")
	// ErrUnavailable is returned when the backend's transport is down
	ErrUnavailable = errors.New("backend unavailable")
)

// Backend is the common execution contract
type Backend interface {
	Type() types.BackendType

	// Submit validates the spec, persists a pending row and enqueues or
	// starts durable work. jobID may be empty; the assigned id is returned.
	Submit(ctx context.Context, spec *types.JobSpec, jobID string) (string, error)

	Status(ctx context.Context, jobID string) (types.JobStatus, error)
	Info(ctx context.Context, jobID string) (*types.JobInfo, error)

	// Cancel returns true when a live process was signalled or a queued
	// task revoked; false when there was nothing left to stop
	Cancel(ctx context.Context, jobID string) (bool, error)

	// Logs is best effort and returns empty strings rather than failing
	Logs(ctx context.Context, jobID string) (*types.JobLogs, error)

	List(ctx context.Context, status types.JobStatus, limit int) ([]*types.JobInfo, error)

	// Cleanup removes backend artefacts and soft-deletes the row
	Cleanup(ctx context.Context, jobID string) (bool, error)

	// Health never returns an error; failures are reported in the result
	Health(ctx context.Context) types.HealthStatus
}

// Deps bundles the collaborators a backend may need
type Deps struct {
	Store    store.Store
	Queue    *queue.Queue
	SSH      *sshconn.Session
	Registry *registry.Registry
	Audit    *audit.Logger

	// InlineRunner executes a task in-process when the queue is
	// unreachable; wired to the executor at startup
	InlineRunner func(task queue.Task)
}

// New builds the backend selected by cfg.BackendType
func New(cfg *config.Config, deps Deps) (Backend, error) {
	switch cfg.BackendType {
	case config.BackendLocal:
		return NewLocal(cfg, deps)
	case config.BackendRemoteDocker:
		return NewRemoteDocker(cfg, deps), nil
	case config.BackendSLURM:
		return NewSLURM(cfg, deps), nil
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.BackendType)
	}
}

// jobInfoFromRow converts a stored job row to the contract's info shape
func jobInfoFromRow(job *types.Job) *types.JobInfo {
	info := &types.JobInfo{
		JobID:          job.ID,
		Status:         job.Status,
		PipelineName:   job.PipelineName,
		ContainerImage: job.ContainerImage,
		Progress:       job.Progress,
		CurrentPhase:   job.CurrentPhase,
		SubmittedAt:    job.SubmittedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		OutputDir:      job.OutputDir,
		ExitCode:       job.ExitCode,
		ErrorMessage:   job.ErrorMessage,
		ExecutionMode:  job.ExecutionMode,
	}
	if job.BackendJobID != nil {
		info.BackendJobID = *job.BackendJobID
	}
	return info
}
