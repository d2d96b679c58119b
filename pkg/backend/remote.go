package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neuroinsight/neuroinsight/pkg/config"
	"github.com/neuroinsight/neuroinsight/pkg/log"
	"github.com/neuroinsight/neuroinsight/pkg/metrics"
	"github.com/neuroinsight/neuroinsight/pkg/sshconn"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

// dockerStateMap maps docker inspect states to the universal status;
// "exited" is refined by exit code
var dockerStateMap = map[string]types.JobStatus{
	"created":    types.JobStatusPending,
	"running":    types.JobStatusRunning,
	"paused":     types.JobStatusRunning,
	"restarting": types.JobStatusRunning,
	"removing":   types.JobStatusRunning,
	"exited":     types.JobStatusCompleted,
	"dead":       types.JobStatusFailed,
}

// RemoteDockerBackend runs containers on an SSH-reachable Linux host with
// plain Docker: no scheduler, no Singularity. Works against any cloud VM.
type RemoteDockerBackend struct {
	cfg     *config.Config
	deps    Deps
	workDir string
	gpuFlag string
}

// NewRemoteDocker creates the remote Docker backend
func NewRemoteDocker(cfg *config.Config, deps Deps) *RemoteDockerBackend {
	return &RemoteDockerBackend{
		cfg:     cfg,
		deps:    deps,
		workDir: cfg.RemoteDocker.WorkDir,
		gpuFlag: "--gpus all",
	}
}

func (b *RemoteDockerBackend) Type() types.BackendType { return types.BackendRemoteDocker }

// ContainerName derives the remote container name from the job id: the
// first 12 hex characters with dashes removed
func ContainerName(jobID string) string {
	return "neuroinsight_" + strings.ReplaceAll(jobID, "-", "")[:12]
}

func (b *RemoteDockerBackend) jobDir(jobID string) string {
	return path.Join(b.workDir, "jobs", jobID)
}

func (b *RemoteDockerBackend) ssh() (*sshconn.Session, error) {
	if b.deps.SSH == nil || !b.deps.SSH.IsConnected() {
		return nil, fmt.Errorf("%w: SSH not connected", ErrUnavailable)
	}
	return b.deps.SSH, nil
}

// Submit uploads inputs, ensures the image, and starts the container
// detached on the remote host
func (b *RemoteDockerBackend) Submit(ctx context.Context, spec *types.JobSpec, jobID string) (string, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	logger := log.WithJobID(jobID)

	ssh, err := b.ssh()
	if err != nil {
		return "", err
	}
	if err := ValidateImage(spec.ContainerImage); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	containerName := ContainerName(jobID)
	jobDir := b.jobDir(jobID)

	if _, err := ssh.ExecuteCheck(
		fmt.Sprintf("mkdir -p %s/inputs %s/outputs %s/logs", jobDir, jobDir, jobDir), 0); err != nil {
		return "", fmt.Errorf("%w: create remote job dir: %v", ErrSubmitFailed, err)
	}

	// Upload input files that exist locally
	for _, input := range spec.InputFiles {
		if !strings.HasPrefix(input, "/") && !strings.HasPrefix(input, "./") {
			continue
		}
		if _, err := os.Stat(input); err != nil {
			continue
		}
		remote := path.Join(jobDir, "inputs", filepath.Base(input))
		if err := ssh.PutFile(input, remote); err != nil {
			logger.Warn().Err(err).Str("file", input).Msg("could not upload input file")
			continue
		}
		logger.Info().Str("file", filepath.Base(input)).Msg("input uploaded to remote")
	}

	// Pull the image only when missing; pulls can take minutes
	if _, _, _, err := ssh.Execute(
		fmt.Sprintf("docker image inspect %s > /dev/null 2>&1 || docker pull %s",
			spec.ContainerImage, spec.ContainerImage), 10*time.Minute); err != nil {
		return "", fmt.Errorf("%w: ensure image: %v", ErrSubmitFailed, err)
	}

	runCmd := b.buildRunCommand(spec, jobID, containerName, jobDir)
	logger.Info().Str("container", containerName).Msg("starting remote container")

	exit, stdout, stderr, err := ssh.Execute(runCmd, 30*time.Second)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	if exit != 0 {
		return "", fmt.Errorf("%w: failed to start container: %s", ErrSubmitFailed, strings.TrimSpace(stderr))
	}
	containerID := strings.TrimSpace(stdout)
	if len(containerID) > 12 {
		containerID = containerID[:12]
	}

	// Persist the row and the remote metadata file
	job := &types.Job{
		ID:             jobID,
		BackendType:    string(types.BackendRemoteDocker),
		PipelineName:   spec.PipelineName,
		ContainerImage: spec.ContainerImage,
		InputFiles:     spec.InputFiles,
		Parameters:     spec.Parameters,
		Resources:      resourceMap(spec.Resources),
		OutputDir:      path.Join(jobDir, "outputs"),
		ExecutionMode:  spec.ExecutionMode,
		PluginID:       spec.PluginID,
		WorkflowID:     spec.WorkflowID,
	}
	if err := b.deps.Store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	if err := b.deps.Store.SetBackendJobID(ctx, jobID, containerName); err != nil {
		logger.Warn().Err(err).Msg("could not record container name")
	}
	if err := b.deps.Store.MarkRunning(ctx, jobID); err != nil {
		logger.Warn().Err(err).Msg("could not mark job running")
	}

	meta := map[string]any{
		"job_id":         jobID,
		"container_name": containerName,
		"container_id":   containerID,
		"pipeline_name":  spec.PipelineName,
		"image":          spec.ContainerImage,
		"submitted_at":   time.Now().UTC().Format(time.RFC3339),
	}
	rawMeta, _ := json.MarshalIndent(meta, "", "  ")
	if err := ssh.WriteFile(path.Join(jobDir, "job_meta.json"), string(rawMeta), 0o644); err != nil {
		logger.Warn().Err(err).Msg("could not write job_meta.json")
	}

	metrics.JobsSubmitted.WithLabelValues(string(types.BackendRemoteDocker), string(spec.ExecutionMode)).Inc()
	if b.deps.Audit != nil {
		b.deps.Audit.Record("job_submitted", map[string]any{
			"job_id":  jobID,
			"backend": "remote_docker",
			"host":    b.cfg.RemoteDocker.Host,
		})
	}
	logger.Info().Str("container", containerName).Str("container_id", containerID).Msg("remote container started")
	return jobID, nil
}

// buildRunCommand assembles the detached docker run invocation
func (b *RemoteDockerBackend) buildRunCommand(spec *types.JobSpec, jobID, containerName, jobDir string) string {
	r := spec.Resources
	args := []string{
		"docker run -d",
		"--name " + containerName,
		fmt.Sprintf("--label %s=%s", ManagedByLabel, ManagedByValue),
		fmt.Sprintf("--label %s=%s", JobIDLabel, jobID),
		"--security-opt no-new-privileges",
		fmt.Sprintf("--cpus=%d", r.CPUs),
		fmt.Sprintf("--memory=%dg", r.MemoryGB),
		fmt.Sprintf("-v %s/inputs:/data/inputs:ro", jobDir),
		fmt.Sprintf("-v %s/outputs:/data/outputs:rw", jobDir),
	}
	if r.GPU {
		args = append(args, b.gpuFlag)
	}
	args = append(args,
		fmt.Sprintf("-e OMP_NUM_THREADS=%d", r.CPUs),
		fmt.Sprintf("-e ITK_GLOBAL_DEFAULT_NUMBER_OF_THREADS=%d", r.CPUs),
		"-e NEUROINSIGHT_JOB_ID="+jobID,
	)

	if spec.CommandTemplate != "" {
		cmd := BuildCommand(spec.CommandTemplate, spec.Parameters)
		args = append(args, spec.ContainerImage, fmt.Sprintf("bash -c %q", cmd))
	} else {
		args = append(args, spec.ContainerImage)
	}
	return strings.Join(args, " ")
}

// Status queries the container state over SSH
func (b *RemoteDockerBackend) Status(ctx context.Context, jobID string) (types.JobStatus, error) {
	ssh, err := b.ssh()
	if err != nil {
		return types.JobStatusUnknown, err
	}
	containerName := ContainerName(jobID)

	exit, stdout, _, err := ssh.Execute(
		fmt.Sprintf(`docker inspect --format "{{.State.Status}} {{.State.ExitCode}}" %s 2>/dev/null`, containerName),
		10*time.Second)
	if err != nil {
		return types.JobStatusUnknown, err
	}
	if exit != 0 {
		return types.JobStatusUnknown, nil
	}

	parts := strings.Fields(strings.TrimSpace(stdout))
	if len(parts) < 2 {
		return types.JobStatusUnknown, nil
	}
	state := strings.ToLower(parts[0])
	exitCode, convErr := strconv.Atoi(parts[1])

	status, ok := dockerStateMap[state]
	if !ok {
		return types.JobStatusUnknown, nil
	}
	if state == "exited" && convErr == nil && exitCode != 0 {
		status = types.JobStatusFailed
	}
	return status, nil
}

// Info combines the stored row with live container inspection
func (b *RemoteDockerBackend) Info(ctx context.Context, jobID string) (*types.JobInfo, error) {
	job, err := b.deps.Store.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	info := jobInfoFromRow(job)

	if status, err := b.Status(ctx, jobID); err == nil && status != types.JobStatusUnknown {
		info.Status = status
		b.syncRow(ctx, job, status)
	}
	return info, nil
}

// syncRow reflects the live container state back into the store
func (b *RemoteDockerBackend) syncRow(ctx context.Context, job *types.Job, live types.JobStatus) {
	if job.Status == live || job.IsTerminal() {
		return
	}
	var err error
	switch live {
	case types.JobStatusRunning:
		err = b.deps.Store.MarkRunning(ctx, job.ID)
	case types.JobStatusCompleted:
		err = b.deps.Store.MarkCompleted(ctx, job.ID, 0)
	case types.JobStatusFailed:
		err = b.deps.Store.MarkFailed(ctx, job.ID, nil, "remote container failed")
	}
	if err != nil {
		log.WithJobID(job.ID).Debug().Err(err).Msg("row sync skipped")
	}
}

// Cancel stops the remote container
func (b *RemoteDockerBackend) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, err := b.deps.Store.Get(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.IsTerminal() {
		if job.Status == types.JobStatusCancelled {
			return false, nil
		}
		return false, ErrAlreadyTerminal
	}

	ssh, err := b.ssh()
	if err != nil {
		return false, err
	}
	exit, _, _, err := ssh.Execute(
		fmt.Sprintf("docker stop -t 10 %s 2>/dev/null", ContainerName(jobID)), 30*time.Second)
	stopped := err == nil && exit == 0

	if err := b.deps.Store.MarkCancelled(ctx, jobID); err != nil {
		return stopped, err
	}
	if b.deps.Audit != nil {
		b.deps.Audit.Record("job_cancelled", map[string]any{"job_id": jobID, "backend": "remote_docker"})
	}
	return true, nil
}

// Logs fetches the last 1000 container log lines over SSH
func (b *RemoteDockerBackend) Logs(ctx context.Context, jobID string) (*types.JobLogs, error) {
	logs := &types.JobLogs{JobID: jobID}
	ssh, err := b.ssh()
	if err != nil {
		return logs, nil
	}
	exit, stdout, stderr, err := ssh.Execute(
		fmt.Sprintf("docker logs --tail 1000 %s 2>&1", ContainerName(jobID)), 15*time.Second)
	if err != nil {
		return logs, nil
	}
	if exit == 0 {
		logs.Stdout = stdout
	}
	logs.Stderr = stderr
	return logs, nil
}

func (b *RemoteDockerBackend) List(ctx context.Context, status types.JobStatus, limit int) ([]*types.JobInfo, error) {
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

// Cleanup removes the remote container and job directory
func (b *RemoteDockerBackend) Cleanup(ctx context.Context, jobID string) (bool, error) {
	if _, err := b.deps.Store.Get(ctx, jobID); err != nil {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if ssh, err := b.ssh(); err == nil {
		_, _, _, _ = ssh.Execute(fmt.Sprintf("docker rm -f %s 2>/dev/null", ContainerName(jobID)), 15*time.Second)
		_, _, _, _ = ssh.Execute(fmt.Sprintf("rm -rf %s 2>/dev/null", b.jobDir(jobID)), 15*time.Second)
	}
	if err := b.deps.Store.SoftDelete(ctx, jobID); err != nil {
		return false, err
	}
	return true, nil
}

func (b *RemoteDockerBackend) Health(ctx context.Context) types.HealthStatus {
	ssh, err := b.ssh()
	if err != nil {
		return types.HealthStatus{Healthy: false, Message: "SSH not connected"}
	}

	exit, stdout, stderr, err := ssh.Execute("docker info --format '{{.ServerVersion}}'", 10*time.Second)
	if err != nil || exit != 0 {
		return types.HealthStatus{
			Healthy: false,
			Message: "Docker not available on remote server",
			Details: map[string]any{"error": strings.TrimSpace(stderr)},
		}
	}
	version := strings.TrimSpace(stdout)

	details := map[string]any{
		"docker_version": version,
		"host":           b.cfg.RemoteDocker.Host,
		"work_dir":       b.workDir,
	}
	if _, out, _, err := ssh.Execute("nproc", 5*time.Second); err == nil {
		details["cpus"] = strings.TrimSpace(out)
	}
	if _, out, _, err := ssh.Execute("free -g | awk '/^Mem:/{print $2}'", 5*time.Second); err == nil {
		details["memory_gb"] = strings.TrimSpace(out)
	}

	return types.HealthStatus{
		Healthy: true,
		Message: fmt.Sprintf("Remote Docker %s on %s", version, b.cfg.RemoteDocker.Host),
		Details: details,
	}
}
