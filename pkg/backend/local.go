package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/google/uuid"

	"github.com/neuroinsight/neuroinsight/pkg/config"
	"github.com/neuroinsight/neuroinsight/pkg/log"
	"github.com/neuroinsight/neuroinsight/pkg/metrics"
	"github.com/neuroinsight/neuroinsight/pkg/queue"
	"github.com/neuroinsight/neuroinsight/pkg/store"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

// ManagedByLabel marks containers owned by this system; JobIDLabel carries
// the job id for discovery after a worker restart
const (
	ManagedByLabel = "managed-by"
	ManagedByValue = "neuroinsight"
	JobIDLabel     = "neuroinsight.job-id"
)

// OutputSubdirs is the canonical job output tree
var OutputSubdirs = []string{
	"native", "bundle/volumes", "bundle/metrics", "bundle/qc", "logs", "_inputs",
}

// LocalBackend runs containers on the local Docker daemon. Submission only
// persists the row and enqueues durable work; the executor drives the
// container.
type LocalBackend struct {
	cfg    *config.Config
	docker client.APIClient
	deps   Deps
}

// NewLocal creates the local backend and its Docker client
func NewLocal(cfg *config.Config, deps Deps) (*LocalBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &LocalBackend{cfg: cfg, docker: cli, deps: deps}, nil
}

// NewLocalWithClient wires an explicit Docker client, used by tests
func NewLocalWithClient(cfg *config.Config, deps Deps, cli client.APIClient) *LocalBackend {
	return &LocalBackend{cfg: cfg, docker: cli, deps: deps}
}

func (b *LocalBackend) Type() types.BackendType { return types.BackendLocal }

// Submit persists the pending row and enqueues the run task. When the queue
// is unreachable the task runs inline in a detached worker.
func (b *LocalBackend) Submit(ctx context.Context, spec *types.JobSpec, jobID string) (string, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	logger := log.WithJobID(jobID)

	outputDir := filepath.Join(b.cfg.OutputsDir(), jobID)
	for _, sub := range OutputSubdirs {
		if err := os.MkdirAll(filepath.Join(outputDir, sub), 0o755); err != nil {
			return "", fmt.Errorf("%w: create output tree: %v", ErrSubmitFailed, err)
		}
	}
	spec.OutputDir = outputDir
	if spec.DataDir == "" {
		spec.DataDir = b.cfg.DataDir
	}

	job := &types.Job{
		ID:             jobID,
		BackendType:    string(types.BackendLocal),
		PipelineName:   spec.PipelineName,
		ContainerImage: spec.ContainerImage,
		InputFiles:     spec.InputFiles,
		Parameters:     spec.Parameters,
		Resources:      resourceMap(spec.Resources),
		OutputDir:      outputDir,
		ExecutionMode:  spec.ExecutionMode,
		PluginID:       spec.PluginID,
		WorkflowID:     spec.WorkflowID,
	}
	if err := b.deps.Store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	taskName := queue.TaskRunDockerJob
	if spec.ExecutionMode == types.ExecutionModeWorkflow {
		taskName = queue.TaskRunWorkflowJob
	}
	task := queue.Task{Name: taskName, JobID: jobID, Spec: spec}

	if _, err := b.deps.Queue.Enqueue(ctx, task); err != nil {
		logger.Warn().Err(err).Msg("queue unreachable, running task inline")
		if b.deps.InlineRunner == nil {
			return "", fmt.Errorf("%w: enqueue: %v", ErrSubmitFailed, err)
		}
		go b.deps.InlineRunner(task)
	}

	metrics.JobsSubmitted.WithLabelValues(string(types.BackendLocal), string(spec.ExecutionMode)).Inc()
	if b.deps.Audit != nil {
		b.deps.Audit.Record("job_submitted", map[string]any{
			"job_id":    jobID,
			"backend":   "local",
			"pipeline":  spec.PipelineName,
			"plugin_id": spec.PluginID,
		})
	}
	logger.Info().Str("pipeline", spec.PipelineName).Msg("job submitted")
	return jobID, nil
}

func (b *LocalBackend) Status(ctx context.Context, jobID string) (types.JobStatus, error) {
	job, err := b.getJob(ctx, jobID)
	if err != nil {
		return types.JobStatusUnknown, err
	}
	return job.Status, nil
}

func (b *LocalBackend) Info(ctx context.Context, jobID string) (*types.JobInfo, error) {
	job, err := b.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return jobInfoFromRow(job), nil
}

// Cancel stops the tracked container with a 10 s grace period, revokes any
// queued task, and transitions the row
func (b *LocalBackend) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, err := b.getJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.IsTerminal() {
		if job.Status == types.JobStatusCancelled {
			// Idempotent: nothing left to signal
			return false, nil
		}
		return false, ErrAlreadyTerminal
	}

	stopped := b.stopContainer(ctx, jobID)
	if err := b.deps.Queue.Revoke(ctx, jobID); err != nil {
		log.WithJobID(jobID).Warn().Err(err).Msg("failed to revoke queued task")
	}
	if err := b.deps.Store.MarkCancelled(ctx, jobID); err != nil {
		return stopped, err
	}
	if b.deps.Audit != nil {
		b.deps.Audit.Record("job_cancelled", map[string]any{"job_id": jobID})
	}
	metrics.JobsCompleted.WithLabelValues(string(types.JobStatusCancelled)).Inc()
	return true, nil
}

// stopContainer finds the job's container by label and stops it
func (b *LocalBackend) stopContainer(ctx context.Context, jobID string) bool {
	containers, err := b.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", JobIDLabel+"="+jobID)),
	})
	if err != nil || len(containers) == 0 {
		return false
	}
	grace := 10
	for _, c := range containers {
		if err := b.docker.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &grace}); err != nil {
			log.WithJobID(jobID).Warn().Err(err).Str("container", c.ID[:12]).Msg("container stop failed")
		}
	}
	return true
}

// Logs reads the persisted log files from the output tree
func (b *LocalBackend) Logs(ctx context.Context, jobID string) (*types.JobLogs, error) {
	job, err := b.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	logs := &types.JobLogs{JobID: jobID}
	if job.OutputDir == "" {
		return logs, nil
	}
	if raw, err := os.ReadFile(filepath.Join(job.OutputDir, "logs", "stdout.log")); err == nil {
		logs.Stdout = string(raw)
	} else if raw, err := os.ReadFile(filepath.Join(job.OutputDir, "logs", "container.log")); err == nil {
		logs.Stdout = string(raw)
	}
	if raw, err := os.ReadFile(filepath.Join(job.OutputDir, "logs", "stderr.log")); err == nil {
		logs.Stderr = string(raw)
	}
	return logs, nil
}

func (b *LocalBackend) List(ctx context.Context, status types.JobStatus, limit int) ([]*types.JobInfo, error) {
	jobs, err := b.deps.Store.List(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*types.JobInfo, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobInfoFromRow(j))
	}
	return out, nil
}

// Cleanup force-removes the container, deletes the output tree and
// soft-deletes the row
func (b *LocalBackend) Cleanup(ctx context.Context, jobID string) (bool, error) {
	job, err := b.getJob(ctx, jobID)
	if err != nil {
		return false, err
	}

	containers, err := b.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", JobIDLabel+"="+jobID)),
	})
	if err == nil {
		for _, c := range containers {
			_ = b.docker.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true})
		}
	}

	if job.OutputDir != "" && strings.HasPrefix(job.OutputDir, b.cfg.OutputsDir()) {
		if err := os.RemoveAll(job.OutputDir); err != nil {
			log.WithJobID(jobID).Warn().Err(err).Msg("failed to remove output dir")
		}
	}
	if err := b.deps.Store.SoftDelete(ctx, jobID); err != nil {
		return false, err
	}
	return true, nil
}

func (b *LocalBackend) Health(ctx context.Context) types.HealthStatus {
	details := map[string]any{}

	ping, err := b.docker.Ping(ctx)
	if err != nil {
		return types.HealthStatus{
			Healthy: false,
			Message: "Docker daemon not reachable",
			Details: map[string]any{"error": err.Error()},
		}
	}
	details["docker_api_version"] = ping.APIVersion

	if err := b.deps.Queue.Health(ctx); err != nil {
		return types.HealthStatus{
			Healthy: false,
			Message: "Task queue not reachable",
			Details: map[string]any{"error": err.Error()},
		}
	}
	if pending, processing, err := b.deps.Queue.Depth(ctx); err == nil {
		details["queue_pending"] = pending
		details["queue_processing"] = processing
	}
	if err := b.deps.Store.Health(ctx); err != nil {
		return types.HealthStatus{
			Healthy: false,
			Message: "Job store not reachable",
			Details: map[string]any{"error": err.Error()},
		}
	}
	return types.HealthStatus{Healthy: true, Message: "Local Docker backend ready", Details: details}
}

func (b *LocalBackend) getJob(ctx context.Context, jobID string) (*types.Job, error) {
	job, err := b.deps.Store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, err
	}
	return job, nil
}

func resourceMap(r types.ResourceSpec) map[string]any {
	return map[string]any{
		"memory_gb":  r.MemoryGB,
		"cpus":       r.CPUs,
		"time_hours": r.TimeHours,
		"gpu":        r.GPU,
	}
}
