package backend

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neuroinsight/neuroinsight/pkg/config"
	"github.com/neuroinsight/neuroinsight/pkg/log"
	"github.com/neuroinsight/neuroinsight/pkg/metrics"
	"github.com/neuroinsight/neuroinsight/pkg/milestones"
	"github.com/neuroinsight/neuroinsight/pkg/sshconn"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

// slurmStateMap maps squeue/sacct states to the universal status
var slurmStateMap = map[string]types.JobStatus{
	"PENDING":       types.JobStatusPending,
	"CONFIGURING":   types.JobStatusPending,
	"SUSPENDED":     types.JobStatusPending,
	"RUNNING":       types.JobStatusRunning,
	"COMPLETING":    types.JobStatusRunning,
	"COMPLETED":     types.JobStatusCompleted,
	"CANCELLED":     types.JobStatusCancelled,
	"FAILED":        types.JobStatusFailed,
	"TIMEOUT":       types.JobStatusFailed,
	"OUT_OF_MEMORY": types.JobStatusFailed,
	"NODE_FAIL":     types.JobStatusFailed,
	"PREEMPTED":     types.JobStatusFailed,
}

var sbatchJobIDRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// SLURMBackend submits jobs to an HPC cluster over SSH. Containers run under
// Singularity or Apptainer on the compute nodes; progress is derived from the
// pipeline log tailed over SFTP.
type SLURMBackend struct {
	cfg  *config.Config
	deps Deps
}

// NewSLURM creates the SLURM backend
func NewSLURM(cfg *config.Config, deps Deps) *SLURMBackend {
	return &SLURMBackend{cfg: cfg, deps: deps}
}

func (b *SLURMBackend) Type() types.BackendType { return types.BackendSLURM }

func (b *SLURMBackend) jobDir(jobID string) string {
	return path.Join(b.cfg.HPC.WorkDir, "jobs", jobID)
}

func (b *SLURMBackend) ssh() (*sshconn.Session, error) {
	if b.deps.SSH == nil || !b.deps.SSH.IsConnected() {
		return nil, fmt.Errorf("%w: SSH not connected", ErrUnavailable)
	}
	return b.deps.SSH, nil
}

// Submit writes the sbatch script to the cluster and submits it
func (b *SLURMBackend) Submit(ctx context.Context, spec *types.JobSpec, jobID string) (string, error) {
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

	jobDir := b.jobDir(jobID)
	if _, err := ssh.ExecuteCheck(
		fmt.Sprintf("mkdir -p %s/inputs %s/outputs/logs", jobDir, jobDir), 0); err != nil {
		return "", fmt.Errorf("%w: create cluster job dir: %v", ErrSubmitFailed, err)
	}

	for _, input := range spec.InputFiles {
		if _, err := os.Stat(input); err != nil {
			continue
		}
		remote := path.Join(jobDir, "inputs", filepath.Base(input))
		if err := ssh.PutFile(input, remote); err != nil {
			logger.Warn().Err(err).Str("file", input).Msg("could not upload input file")
		}
	}

	script := b.buildSbatchScript(spec, jobID, jobDir)
	scriptPath := path.Join(jobDir, "submit.sbatch")
	if err := ssh.WriteFile(scriptPath, script, 0o755); err != nil {
		return "", fmt.Errorf("%w: write sbatch script: %v", ErrSubmitFailed, err)
	}

	stdout, err := ssh.ExecuteCheck("sbatch "+scriptPath, 30*time.Second)
	if err != nil {
		return "", fmt.Errorf("%w: sbatch: %v", ErrSubmitFailed, err)
	}
	m := sbatchJobIDRe.FindStringSubmatch(stdout)
	if m == nil {
		return "", fmt.Errorf("%w: unexpected sbatch output: %s", ErrSubmitFailed, strings.TrimSpace(stdout))
	}
	slurmID := m[1]

	job := &types.Job{
		ID:             jobID,
		BackendType:    string(types.BackendSLURM),
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
	if err := b.deps.Store.SetBackendJobID(ctx, jobID, slurmID); err != nil {
		logger.Warn().Err(err).Msg("could not record SLURM job id")
	}

	metrics.JobsSubmitted.WithLabelValues(string(types.BackendSLURM), string(spec.ExecutionMode)).Inc()
	if b.deps.Audit != nil {
		b.deps.Audit.Record("job_submitted", map[string]any{
			"job_id":   jobID,
			"backend":  "slurm",
			"slurm_id": slurmID,
			"host":     b.cfg.HPC.Host,
		})
	}
	logger.Info().Str("slurm_id", slurmID).Msg("sbatch accepted")
	return jobID, nil
}

// buildSbatchScript renders the submission script. The pipeline command goes
// into a quoted here-doc so the login shell never interpolates it.
func (b *SLURMBackend) buildSbatchScript(spec *types.JobSpec, jobID, jobDir string) string {
	hpc := b.cfg.HPC
	r := spec.Resources

	var sb strings.Builder
	sb.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&sb, "#SBATCH --job-name=%s\n", ContainerName(jobID))
	if hpc.Partition != "" {
		fmt.Fprintf(&sb, "#SBATCH --partition=%s\n", hpc.Partition)
	}
	if hpc.Account != "" {
		fmt.Fprintf(&sb, "#SBATCH --account=%s\n", hpc.Account)
	}
	if hpc.QOS != "" {
		fmt.Fprintf(&sb, "#SBATCH --qos=%s\n", hpc.QOS)
	}
	fmt.Fprintf(&sb, "#SBATCH --mem=%dg\n", r.MemoryGB)
	fmt.Fprintf(&sb, "#SBATCH --cpus-per-task=%d\n", r.CPUs)
	fmt.Fprintf(&sb, "#SBATCH --time=%d:00:00\n", r.TimeHours)
	if r.GPU {
		sb.WriteString("#SBATCH --gpus-per-node=1\n")
	}
	fmt.Fprintf(&sb, "#SBATCH --output=%s/logs/slurm.out\n", path.Join(jobDir, "outputs"))
	fmt.Fprintf(&sb, "#SBATCH --error=%s/logs/slurm.err\n", path.Join(jobDir, "outputs"))
	sb.WriteString("\n")

	for _, mod := range hpc.Modules {
		fmt.Fprintf(&sb, "module load %s\n", mod)
	}
	if len(hpc.Modules) > 0 {
		sb.WriteString("\n")
	}

	command := BuildCommand(spec.CommandTemplate, spec.Parameters)
	fmt.Fprintf(&sb, "cat > %s/run_pipeline.sh <<'NEUROINSIGHT_EOF'\n", jobDir)
	sb.WriteString("#!/bin/bash\n")
	sb.WriteString("set -eo pipefail\n")
	sb.WriteString(command + "\n")
	sb.WriteString("NEUROINSIGHT_EOF\n")
	fmt.Fprintf(&sb, "chmod +x %s/run_pipeline.sh\n\n", jobDir)

	runtime := hpc.ContainerRuntime
	if runtime == "" {
		runtime = "singularity"
	}
	fmt.Fprintf(&sb, "%s exec \\\n", runtime)
	fmt.Fprintf(&sb, "  --bind %s/inputs:/data/inputs:ro \\\n", jobDir)
	fmt.Fprintf(&sb, "  --bind %s/outputs:/data/outputs \\\n", jobDir)
	fmt.Fprintf(&sb, "  --env OMP_NUM_THREADS=%d \\\n", r.CPUs)
	fmt.Fprintf(&sb, "  --env ITK_GLOBAL_DEFAULT_NUMBER_OF_THREADS=%d \\\n", r.CPUs)
	fmt.Fprintf(&sb, "  --env NEUROINSIGHT_JOB_ID=%s \\\n", jobID)
	fmt.Fprintf(&sb, "  docker://%s \\\n", spec.ContainerImage)
	fmt.Fprintf(&sb, "  bash %s/run_pipeline.sh 2>&1 | tee %s/outputs/logs/container.log\n",
		jobDir, jobDir)
	return sb.String()
}

// Status polls squeue for live jobs and falls back to sacct once the job has
// left the queue
func (b *SLURMBackend) Status(ctx context.Context, jobID string) (types.JobStatus, error) {
	job, err := b.deps.Store.Get(ctx, jobID)
	if err != nil {
		return types.JobStatusUnknown, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.BackendJobID == nil || *job.BackendJobID == "" {
		return job.Status, nil
	}
	ssh, err := b.ssh()
	if err != nil {
		return types.JobStatusUnknown, err
	}
	return b.pollState(ssh, *job.BackendJobID)
}

func (b *SLURMBackend) pollState(ssh *sshconn.Session, slurmID string) (types.JobStatus, error) {
	exit, stdout, _, err := ssh.Execute(
		fmt.Sprintf("squeue -j %s --noheader -o '%%T'", slurmID), 15*time.Second)
	if err != nil {
		return types.JobStatusUnknown, err
	}
	state := strings.TrimSpace(stdout)

	if exit != 0 || state == "" {
		// Finished jobs drop out of squeue; ask the accounting database
		exit, stdout, _, err = ssh.Execute(
			fmt.Sprintf("sacct -j %s --noheader --format=State -P | head -1", slurmID), 15*time.Second)
		if err != nil || exit != 0 {
			return types.JobStatusUnknown, err
		}
		state = strings.TrimSpace(stdout)
	}

	return MapSLURMState(state), nil
}

// MapSLURMState maps a raw SLURM state string to the universal status.
// Cancelled states can carry a suffix ("CANCELLED by 1234").
func MapSLURMState(state string) types.JobStatus {
	state = strings.ToUpper(strings.TrimSpace(state))
	if fields := strings.Fields(state); len(fields) > 0 {
		state = fields[0]
	}
	state = strings.TrimSuffix(state, "+")
	if status, ok := slurmStateMap[state]; ok {
		return status
	}
	return types.JobStatusUnknown
}

// Info combines the stored row with the live SLURM state. For running jobs
// the pipeline log is tailed over SFTP and matched against the plugin's phase
// milestones to derive progress. The read is O(file size) on every call;
// there is no cached cursor.
func (b *SLURMBackend) Info(ctx context.Context, jobID string) (*types.JobInfo, error) {
	job, err := b.deps.Store.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	info := jobInfoFromRow(job)

	if job.IsTerminal() {
		return info, nil
	}
	ssh, err := b.ssh()
	if err != nil {
		return info, nil
	}
	if job.BackendJobID == nil || *job.BackendJobID == "" {
		return info, nil
	}

	live, err := b.pollState(ssh, *job.BackendJobID)
	if err == nil && live != types.JobStatusUnknown {
		info.Status = live
		b.syncRow(ctx, job, live)
	}

	if live == types.JobStatusRunning {
		if progress, phase, ok := b.progressFromLog(ssh, job); ok {
			info.Progress = progress
			info.CurrentPhase = phase
			if err := b.deps.Store.UpdateProgress(ctx, jobID, progress, phase); err != nil {
				log.WithJobID(jobID).Debug().Err(err).Msg("progress update skipped")
			}
		}
	}
	return info, nil
}

// progressFromLog replays the cluster-side pipeline log through a milestone
// tracker resumed from the stored progress
func (b *SLURMBackend) progressFromLog(ssh *sshconn.Session, job *types.Job) (int, string, bool) {
	logPath := path.Join(b.jobDir(job.ID), "outputs", "logs", "container.log")
	content, err := ssh.ReadFile(logPath)
	if err != nil {
		return 0, "", false
	}
	tracker := milestones.NewTracker(milestones.ForPlugin(job.PluginID))
	tracker.Resume(job.Progress, job.CurrentPhase)
	for _, line := range strings.Split(content, "\n") {
		tracker.Observe(line)
	}
	return tracker.Progress(), tracker.Phase(), true
}

func (b *SLURMBackend) syncRow(ctx context.Context, job *types.Job, live types.JobStatus) {
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
		err = b.deps.Store.MarkFailed(ctx, job.ID, nil, "SLURM job failed")
	case types.JobStatusCancelled:
		err = b.deps.Store.MarkCancelled(ctx, job.ID)
	}
	if err != nil {
		log.WithJobID(job.ID).Debug().Err(err).Msg("row sync skipped")
	}
}

// Cancel runs scancel and transitions the row
func (b *SLURMBackend) Cancel(ctx context.Context, jobID string) (bool, error) {
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

	cancelled := false
	if job.BackendJobID != nil && *job.BackendJobID != "" {
		if ssh, err := b.ssh(); err == nil {
			exit, _, _, err := ssh.Execute("scancel "+*job.BackendJobID, 15*time.Second)
			cancelled = err == nil && exit == 0
		}
	}
	if err := b.deps.Store.MarkCancelled(ctx, jobID); err != nil {
		return cancelled, err
	}
	if b.deps.Audit != nil {
		b.deps.Audit.Record("job_cancelled", map[string]any{"job_id": jobID, "backend": "slurm"})
	}
	return true, nil
}

// Logs reads the sbatch output and error files over SFTP. The .err file is
// surfaced verbatim.
func (b *SLURMBackend) Logs(ctx context.Context, jobID string) (*types.JobLogs, error) {
	logs := &types.JobLogs{JobID: jobID}
	ssh, err := b.ssh()
	if err != nil {
		return logs, nil
	}
	logsDir := path.Join(b.jobDir(jobID), "outputs", "logs")
	if out, err := ssh.ReadFile(path.Join(logsDir, "container.log")); err == nil {
		logs.Stdout = out
	} else if out, err := ssh.ReadFile(path.Join(logsDir, "slurm.out")); err == nil {
		logs.Stdout = out
	}
	if errOut, err := ssh.ReadFile(path.Join(logsDir, "slurm.err")); err == nil {
		logs.Stderr = errOut
	}
	return logs, nil
}

func (b *SLURMBackend) List(ctx context.Context, status types.JobStatus, limit int) ([]*types.JobInfo, error) {
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

// Cleanup cancels any live allocation, removes the cluster job directory and
// soft-deletes the row
func (b *SLURMBackend) Cleanup(ctx context.Context, jobID string) (bool, error) {
	job, err := b.deps.Store.Get(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if ssh, err := b.ssh(); err == nil {
		if job.BackendJobID != nil && *job.BackendJobID != "" {
			_, _, _, _ = ssh.Execute("scancel "+*job.BackendJobID+" 2>/dev/null", 15*time.Second)
		}
		_, _, _, _ = ssh.Execute(fmt.Sprintf("rm -rf %s 2>/dev/null", b.jobDir(jobID)), 15*time.Second)
	}
	if err := b.deps.Store.SoftDelete(ctx, jobID); err != nil {
		return false, err
	}
	return true, nil
}

func (b *SLURMBackend) Health(ctx context.Context) types.HealthStatus {
	ssh, err := b.ssh()
	if err != nil {
		return types.HealthStatus{Healthy: false, Message: "SSH not connected"}
	}
	stdout, err := ssh.ExecuteCheck("sbatch --version", 10*time.Second)
	if err != nil {
		return types.HealthStatus{
			Healthy: false,
			Message: "SLURM tools not available on login node",
			Details: map[string]any{"error": err.Error()},
		}
	}
	details := map[string]any{
		"slurm_version": strings.TrimSpace(stdout),
		"host":          b.cfg.HPC.Host,
		"work_dir":      b.cfg.HPC.WorkDir,
	}
	if out, err := ssh.ExecuteCheck("squeue --noheader | wc -l", 10*time.Second); err == nil {
		details["queued_jobs"] = strings.TrimSpace(out)
	}
	return types.HealthStatus{
		Healthy: true,
		Message: fmt.Sprintf("SLURM available on %s", b.cfg.HPC.Host),
		Details: details,
	}
}

// PartitionInfo describes one SLURM partition row from sinfo
type PartitionInfo struct {
	Name      string `json:"name"`
	Available string `json:"available"`
	Nodes     string `json:"nodes"`
	State     string `json:"state"`
	Default   bool   `json:"default"`
}

// Partitions lists the cluster's partitions
func (b *SLURMBackend) Partitions(ctx context.Context) ([]PartitionInfo, error) {
	ssh, err := b.ssh()
	if err != nil {
		return nil, err
	}
	stdout, err := ssh.ExecuteCheck(`sinfo --noheader -o "%P|%a|%D|%T"`, 15*time.Second)
	if err != nil {
		return nil, err
	}
	var partitions []PartitionInfo
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 4 {
			continue
		}
		name := fields[0]
		isDefault := strings.HasSuffix(name, "*")
		partitions = append(partitions, PartitionInfo{
			Name:      strings.TrimSuffix(name, "*"),
			Available: fields[1],
			Nodes:     fields[2],
			State:     fields[3],
			Default:   isDefault,
		})
	}
	return partitions, nil
}

// QueueEntry describes one squeue row
type QueueEntry struct {
	SLURMID   string `json:"slurm_id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Time      string `json:"time"`
	Partition string `json:"partition"`
	User      string `json:"user"`
}

// Queue lists jobs currently in the scheduler queue, optionally filtered to
// the configured cluster user
func (b *SLURMBackend) Queue(ctx context.Context, userOnly bool) ([]QueueEntry, error) {
	ssh, err := b.ssh()
	if err != nil {
		return nil, err
	}
	cmd := `squeue --noheader -o "%i|%j|%T|%M|%P|%u"`
	if userOnly {
		cmd += " -u " + b.cfg.HPC.User
	}
	stdout, err := ssh.ExecuteCheck(cmd, 15*time.Second)
	if err != nil {
		return nil, err
	}
	var entries []QueueEntry
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 6 {
			continue
		}
		entries = append(entries, QueueEntry{
			SLURMID:   fields[0],
			Name:      fields[1],
			State:     fields[2],
			Time:      fields[3],
			Partition: fields[4],
			User:      fields[5],
		})
	}
	return entries, nil
}

// Accounts lists the accounting associations for the configured cluster user
func (b *SLURMBackend) Accounts(ctx context.Context) ([]string, error) {
	ssh, err := b.ssh()
	if err != nil {
		return nil, err
	}
	stdout, err := ssh.ExecuteCheck(
		fmt.Sprintf("sacctmgr show associations user=%s format=Account -P --noheader", b.cfg.HPC.User),
		15*time.Second)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var accounts []string
	for _, line := range strings.Split(stdout, "\n") {
		account := strings.TrimSpace(line)
		if account == "" || seen[account] {
			continue
		}
		seen[account] = true
		accounts = append(accounts, account)
	}
	return accounts, nil
}
