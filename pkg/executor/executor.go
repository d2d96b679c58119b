package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/client"

	"github.com/neuroinsight/neuroinsight/pkg/audit"
	"github.com/neuroinsight/neuroinsight/pkg/config"
	"github.com/neuroinsight/neuroinsight/pkg/log"
	"github.com/neuroinsight/neuroinsight/pkg/metrics"
	"github.com/neuroinsight/neuroinsight/pkg/objectstore"
	"github.com/neuroinsight/neuroinsight/pkg/queue"
	"github.com/neuroinsight/neuroinsight/pkg/registry"
	"github.com/neuroinsight/neuroinsight/pkg/store"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

const (
	reserveTimeout = 5 * time.Second

	// containerWaitHard is the absolute ceiling on container runtime;
	// containerWaitSoft triggers a warning ahead of it
	containerWaitHard = 24 * time.Hour
	containerWaitSoft = 23 * time.Hour

	retryInitialInterval = 60 * time.Second
	maxRetries           = 2
)

// Executor consumes the task queue and runs pipeline containers on the local
// Docker daemon
type Executor struct {
	cfg      *config.Config
	docker   client.APIClient
	store    store.Store
	queue    *queue.Queue
	registry *registry.Registry
	uploader objectstore.Uploader
	audit    *audit.Logger

	wg sync.WaitGroup
}

// New creates an executor with its own Docker client
func New(cfg *config.Config, st store.Store, q *queue.Queue, reg *registry.Registry,
	up objectstore.Uploader, aud *audit.Logger) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return NewWithClient(cfg, cli, st, q, reg, up, aud), nil
}

// NewWithClient wires an explicit Docker client, used by tests
func NewWithClient(cfg *config.Config, cli client.APIClient, st store.Store, q *queue.Queue,
	reg *registry.Registry, up objectstore.Uploader, aud *audit.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		docker:   cli,
		store:    st,
		queue:    q,
		registry: reg,
		uploader: up,
		audit:    aud,
	}
}

// Run recovers stale tasks and starts the worker pool. Blocks until ctx is
// cancelled and all workers have drained.
func (e *Executor) Run(ctx context.Context) error {
	logger := log.WithComponent("executor")

	if n, err := e.queue.RecoverStale(ctx); err != nil {
		logger.Warn().Err(err).Msg("stale-task recovery failed")
	} else if n > 0 {
		logger.Info().Int("tasks", n).Msg("recovered stale tasks")
	}

	workers := e.cfg.MaxConcurrentJobs
	if workers < 1 {
		workers = 1
	}
	logger.Info().Int("workers", workers).Msg("executor started")

	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.workerLoop(ctx, i)
	}
	e.wg.Wait()
	logger.Info().Msg("executor stopped")
	return nil
}

func (e *Executor) workerLoop(ctx context.Context, id int) {
	defer e.wg.Done()
	logger := log.WithComponent("executor")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := e.queue.Reserve(ctx, reserveTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Int("worker", id).Msg("reserve failed")
			time.Sleep(time.Second)
			continue
		}
		if res == nil {
			continue
		}

		e.dispatch(ctx, res.Task)

		// Acks are late: a crash before this point leaves the task
		// recoverable
		if err := e.queue.Ack(ctx, res); err != nil {
			logger.Warn().Err(err).Str("task_id", res.Task.ID).Msg("ack failed")
		}
	}
}

// RunTask executes a task inline, bypassing the queue. Wired as the local
// backend's fallback when Redis is unreachable at submission time.
func (e *Executor) RunTask(task queue.Task) {
	e.dispatch(context.Background(), task)
}

func (e *Executor) dispatch(ctx context.Context, task queue.Task) {
	logger := log.WithComponent("executor")
	switch task.Name {
	case queue.TaskRunDockerJob:
		e.runJobTask(ctx, task, e.runPluginJob)
	case queue.TaskRunWorkflowJob:
		e.runJobTask(ctx, task, e.runWorkflowJob)
	case queue.TaskPullImage:
		if err := e.pullImage(ctx, task.Image); err != nil {
			logger.Warn().Err(err).Str("image", task.Image).Msg("image pull failed")
		}
	default:
		logger.Warn().Str("task", task.Name).Msg("unknown task name dropped")
	}
}

// runJobTask applies the shared re-entrancy and revocation checks, then hands
// the job to the mode-specific runner
func (e *Executor) runJobTask(ctx context.Context, task queue.Task,
	run func(ctx context.Context, job *types.Job, spec *types.JobSpec) error) {
	logger := log.WithJobID(task.JobID)

	job, err := e.store.Get(ctx, task.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn().Msg("task references unknown job, dropping")
			return
		}
		logger.Error().Err(err).Msg("job lookup failed, dropping task")
		return
	}
	if job.IsTerminal() {
		// Redelivery of an already-finished job
		logger.Debug().Str("status", string(job.Status)).Msg("job already terminal")
		return
	}

	if revoked, err := e.queue.IsRevoked(ctx, task.JobID); err == nil && revoked {
		logger.Info().Msg("task revoked before start")
		if err := e.store.MarkCancelled(ctx, task.JobID); err != nil &&
			!errors.Is(err, store.ErrInvalidTransition) {
			logger.Warn().Err(err).Msg("could not mark revoked job cancelled")
		}
		return
	}
	if task.Spec == nil {
		e.failJob(ctx, job, nil, "task payload carries no job spec")
		return
	}

	if err := run(ctx, job, task.Spec); err != nil {
		logger.Error().Err(err).Msg("job execution failed")
	}
}

// failJob transitions the row to failed and records the terminal metrics
func (e *Executor) failJob(ctx context.Context, job *types.Job, exitCode *int, reason string) {
	logger := log.WithJobID(job.ID)
	if err := e.store.MarkFailed(ctx, job.ID, exitCode, truncateError(reason)); err != nil {
		logger.Warn().Err(err).Msg("could not mark job failed")
		return
	}
	metrics.JobsCompleted.WithLabelValues(string(types.JobStatusFailed)).Inc()
	if e.audit != nil {
		e.audit.RecordWarning("job_failed", map[string]any{
			"job_id": job.ID,
			"reason": truncateError(reason),
		})
	}
	logger.Error().Str("reason", truncateError(reason)).Msg("job failed")
}

// completeJob transitions the row to completed and records duration
func (e *Executor) completeJob(ctx context.Context, job *types.Job, startedAt time.Time) error {
	if err := e.store.MarkCompleted(ctx, job.ID, 0); err != nil {
		return err
	}
	metrics.JobsCompleted.WithLabelValues(string(types.JobStatusCompleted)).Inc()
	metrics.JobDuration.WithLabelValues(job.PipelineName).Observe(time.Since(startedAt).Seconds())
	if e.audit != nil {
		e.audit.Record("job_completed", map[string]any{
			"job_id":   job.ID,
			"pipeline": job.PipelineName,
		})
	}
	log.WithJobID(job.ID).Info().Msg("job completed")
	return nil
}

// withRetry runs op with exponential backoff for transient failures.
// Non-transient errors abort immediately.
func (e *Executor) withRetry(ctx context.Context, jobID string, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, next time.Duration) {
		metrics.JobRetries.Inc()
		log.WithJobID(jobID).Warn().Err(err).Dur("retry_in", next).Msg("transient failure, retrying")
	}
	return backoff.RetryNotify(wrapped, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx), notify)
}

// isTransient reports whether an error is worth retrying: daemon outages,
// pull timeouts and OOM kills are; validation failures are not
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errValidation) {
		return false
	}
	if client.IsErrConnectionFailed(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "oom") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "cannot connect to the docker daemon")
}

// errValidation marks failures that must not be retried
var errValidation = errors.New("validation failed")

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errValidation, fmt.Sprintf(format, args...))
}

func truncateError(s string) string {
	const max = 500
	if len(s) <= max {
		return s
	}
	return s[:max]
}
