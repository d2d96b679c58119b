package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/neuroinsight/neuroinsight/pkg/backend"
	"github.com/neuroinsight/neuroinsight/pkg/log"
	"github.com/neuroinsight/neuroinsight/pkg/milestones"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

// launchSpec is everything needed to start one hardened pipeline container
type launchSpec struct {
	jobID     string
	image     string
	command   string
	outputDir string
	resources types.ResourceSpec
	extraEnv  map[string]string
}

// startContainer creates and starts a pipeline container with the mandatory
// hardening: no privilege escalation, no network, minimal read-only mounts
func (e *Executor) startContainer(ctx context.Context, ls launchSpec) (string, error) {
	binds := []string{
		filepath.Join(ls.outputDir, "_inputs") + ":" + containerInputsDir + ":ro",
		ls.outputDir + ":" + containerOutputsDir + ":rw",
	}
	env := []string{
		fmt.Sprintf("OMP_NUM_THREADS=%d", ls.resources.CPUs),
		fmt.Sprintf("ITK_GLOBAL_DEFAULT_NUMBER_OF_THREADS=%d", ls.resources.CPUs),
		"NEUROINSIGHT_JOB_ID=" + ls.jobID,
	}
	if lic := e.cfg.FreeSurferLicense; lic != "" {
		if _, err := os.Stat(lic); err == nil {
			binds = append(binds, lic+":"+containerLicense+":ro")
			env = append(env, "FS_LICENSE="+containerLicense)
		}
	}
	for k, v := range ls.extraEnv {
		env = append(env, k+"="+v)
	}

	hostConfig := &container.HostConfig{
		Binds:       binds,
		NetworkMode: "none",
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:   int64(ls.resources.MemoryGB) << 30,
			NanoCPUs: int64(ls.resources.CPUs) * 1e9,
		},
	}
	if ls.resources.GPU {
		hostConfig.Resources.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			Count:        -1,
			Capabilities: [][]string{{"gpu"}},
		}}
	}

	cfg := &container.Config{
		Image: ls.image,
		Cmd:   []string{"/bin/bash", "-c", ls.command},
		Env:   env,
		Labels: map[string]string{
			backend.ManagedByLabel: backend.ManagedByValue,
			backend.JobIDLabel:     ls.jobID,
		},
	}

	created, err := e.docker.ContainerCreate(ctx, cfg, hostConfig, nil, nil,
		backend.ContainerName(ls.jobID))
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	if err := e.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = e.docker.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("start container: %w", err)
	}
	return created.ID, nil
}

// attachContainer runs the log pump and waits for exit, returning the exit
// code. Progress milestones observed in stdout are committed through the
// tracker. The container is stopped and the job fails when the hard runtime
// ceiling is hit.
func (e *Executor) attachContainer(ctx context.Context, containerID string, job *types.Job,
	tracker *milestones.Tracker) (int, error) {
	logger := log.WithJobID(job.ID)
	logsDir := filepath.Join(job.OutputDir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return -1, fmt.Errorf("create logs dir: %w", err)
	}

	containerLog, err := os.OpenFile(filepath.Join(logsDir, "container.log"),
		os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return -1, fmt.Errorf("open container log: %w", err)
	}
	defer containerLog.Close()
	stdoutLog, err := os.OpenFile(filepath.Join(logsDir, "stdout.log"),
		os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return -1, fmt.Errorf("open stdout log: %w", err)
	}
	defer stdoutLog.Close()
	stderrLog, err := os.OpenFile(filepath.Join(logsDir, "stderr.log"),
		os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return -1, fmt.Errorf("open stderr log: %w", err)
	}
	defer stderrLog.Close()

	reader, err := e.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return -1, fmt.Errorf("attach logs: %w", err)
	}
	defer reader.Close()

	pw := &progressWriter{executor: e, jobID: job.ID, tracker: tracker}
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		stdout := io.MultiWriter(stdoutLog, containerLog, pw)
		stderr := io.MultiWriter(stderrLog, containerLog)
		if _, err := stdcopy.StdCopy(stdout, stderr, reader); err != nil && ctx.Err() == nil {
			logger.Debug().Err(err).Msg("log pump ended")
		}
	}()

	waitCh, errCh := e.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	softTimer := time.NewTimer(containerWaitSoft)
	hardTimer := time.NewTimer(containerWaitHard)
	defer softTimer.Stop()
	defer hardTimer.Stop()

	for {
		select {
		case res := <-waitCh:
			<-pumpDone
			if res.Error != nil {
				return -1, fmt.Errorf("container wait: %s", res.Error.Message)
			}
			return int(res.StatusCode), nil
		case err := <-errCh:
			return -1, fmt.Errorf("container wait: %w", err)
		case <-softTimer.C:
			logger.Warn().Msg("container approaching the runtime ceiling")
		case <-hardTimer.C:
			grace := 10
			_ = e.docker.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &grace})
			return -1, fmt.Errorf("container exceeded the %s runtime ceiling", containerWaitHard)
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}
}

// progressWriter feeds stdout chunks through the milestone tracker and
// commits any advance to the job row
type progressWriter struct {
	executor *Executor
	jobID    string
	tracker  *milestones.Tracker
}

func (w *progressWriter) Write(p []byte) (int, error) {
	if w.tracker != nil && w.tracker.Observe(string(p)) {
		if err := w.executor.store.UpdateProgress(context.Background(), w.jobID,
			w.tracker.Progress(), w.tracker.Phase()); err != nil {
			log.WithJobID(w.jobID).Debug().Err(err).Msg("progress commit skipped")
		}
	}
	return len(p), nil
}

// findJobContainer locates a container by the job-id label, used when a
// redelivered task must re-attach to a still-running container
func (e *Executor) findJobContainer(ctx context.Context, jobID string) (string, bool) {
	containers, err := e.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", backend.JobIDLabel+"="+jobID)),
	})
	if err != nil || len(containers) == 0 {
		return "", false
	}
	return containers[0].ID, true
}

// removeContainer force-removes a finished pipeline container
func (e *Executor) removeContainer(ctx context.Context, containerID string) {
	if err := e.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		log.WithComponent("executor").Debug().Err(err).Msg("container remove failed")
	}
}

// pullImage pre-fetches an image, draining the pull stream
func (e *Executor) pullImage(ctx context.Context, ref string) error {
	if err := backend.ValidateImage(ref); err != nil {
		return validationErr("%v", err)
	}
	pullCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	reader, err := e.docker.ImagePull(pullCtx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	log.WithComponent("executor").Info().Str("image", ref).Msg("image pulled")
	return nil
}

// ensureImage pulls the image only when the daemon does not already have it
func (e *Executor) ensureImage(ctx context.Context, ref string) error {
	if _, _, err := e.docker.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}
	return e.pullImage(ctx, ref)
}

// readStderrTail returns the tail of the captured stderr for error messages
func readStderrTail(outputDir string) string {
	raw, err := os.ReadFile(filepath.Join(outputDir, "logs", "stderr.log"))
	if err != nil || len(raw) == 0 {
		return ""
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 500 {
		s = s[len(s)-500:]
	}
	return s
}
