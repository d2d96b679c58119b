package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/neuroinsight/neuroinsight/pkg/backend"
	"github.com/neuroinsight/neuroinsight/pkg/log"
	"github.com/neuroinsight/neuroinsight/pkg/milestones"
	"github.com/neuroinsight/neuroinsight/pkg/registry"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

// runPluginJob executes a single-plugin job end to end
func (e *Executor) runPluginJob(ctx context.Context, job *types.Job, spec *types.JobSpec) error {
	if job.Status == types.JobStatusRunning {
		return e.resumeJob(ctx, job, spec)
	}
	logger := log.WithPlugin(spec.PluginID).With().Str("job_id", job.ID).Logger()

	var plugin = e.lookupPlugin(spec.PluginID)
	template := spec.CommandTemplate
	if template == "" && plugin != nil {
		template = plugin.CommandTemplate()
	}
	if template == "" {
		e.failJob(ctx, job, nil, "plugin declares no command template")
		return nil
	}
	if err := backend.ValidateImage(spec.ContainerImage); err != nil {
		e.failJob(ctx, job, nil, err.Error())
		return nil
	}

	inputPaths, err := StageInputs(spec, plugin)
	if err != nil {
		if !isTransient(err) {
			e.failJob(ctx, job, nil, err.Error())
			return nil
		}
		return err
	}
	params := ResolveParameters(spec.Parameters, plugin, spec.Resources, inputPaths)
	if err := writeJobSpec(spec, params); err != nil {
		logger.Warn().Err(err).Msg("could not write job_spec.json")
	}
	command := backend.BuildCommand(template, params)

	tracker := milestones.NewTracker(milestones.ForPlugin(spec.PluginID))
	startedAt := time.Now()

	var containerID string
	launch := func() error {
		if err := e.ensureImage(ctx, spec.ContainerImage); err != nil {
			return err
		}
		id, err := e.startContainer(ctx, launchSpec{
			jobID:     job.ID,
			image:     spec.ContainerImage,
			command:   command,
			outputDir: spec.OutputDir,
			resources: spec.Resources,
			extraEnv:  spec.Environment,
		})
		if err != nil {
			return err
		}
		containerID = id
		return nil
	}
	if err := e.withRetry(ctx, job.ID, launch); err != nil {
		e.failJob(ctx, job, nil, err.Error())
		return nil
	}

	if err := e.store.MarkRunning(ctx, job.ID); err != nil {
		logger.Warn().Err(err).Msg("could not mark job running")
	}
	logger.Info().Str("container", containerID[:12]).Str("image", spec.ContainerImage).Msg("container started")

	exitCode, err := e.attachContainer(ctx, containerID, job, tracker)
	e.removeContainer(ctx, containerID)
	if err != nil {
		e.failJob(ctx, job, nil, err.Error())
		return nil
	}
	return e.finishJob(ctx, job, spec, tracker, exitCode, startedAt)
}

// resumeJob re-attaches to a job whose task was redelivered while the row
// says running. A live container keeps going with the tracker resumed from
// the committed progress; an exited one is finalised from its exit code.
func (e *Executor) resumeJob(ctx context.Context, job *types.Job, spec *types.JobSpec) error {
	logger := log.WithJobID(job.ID)

	containerID, found := e.findJobContainer(ctx, job.ID)
	if !found {
		e.failJob(ctx, job, nil, "container lost after worker restart")
		return nil
	}
	inspect, err := e.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		e.failJob(ctx, job, nil, fmt.Sprintf("container inspect failed: %v", err))
		return nil
	}

	startedAt := time.Now()
	if job.StartedAt != nil {
		startedAt = *job.StartedAt
	}

	if inspect.State != nil && !inspect.State.Running {
		exitCode := inspect.State.ExitCode
		e.removeContainer(ctx, containerID)
		return e.finishJob(ctx, job, spec, nil, exitCode, startedAt)
	}

	logger.Info().Str("container", containerID[:12]).Msg("re-attaching to running container")
	tracker := milestones.NewTracker(milestones.ForPlugin(spec.PluginID))
	tracker.Resume(job.Progress, job.CurrentPhase)

	exitCode, err := e.attachContainer(ctx, containerID, job, tracker)
	e.removeContainer(ctx, containerID)
	if err != nil {
		e.failJob(ctx, job, nil, err.Error())
		return nil
	}
	return e.finishJob(ctx, job, spec, tracker, exitCode, startedAt)
}

// finishJob maps the container exit code to the terminal transition, running
// post-processing on success. Only here, with the zero exit code in hand,
// does the tracker complete; MarkCompleted commits the final 100.
func (e *Executor) finishJob(ctx context.Context, job *types.Job, spec *types.JobSpec,
	tracker *milestones.Tracker, exitCode int, startedAt time.Time) error {
	if exitCode != 0 {
		reason := fmt.Sprintf("container exited with code %d", exitCode)
		if tail := readStderrTail(spec.OutputDir); tail != "" {
			reason = reason + ": " + tail
		}
		e.failJob(ctx, job, &exitCode, reason)
		return nil
	}

	if err := e.store.UpdateProgress(ctx, job.ID, 95, "Post-processing"); err != nil {
		log.WithJobID(job.ID).Debug().Err(err).Msg("progress commit skipped")
	}
	e.postProcess(ctx, job, spec)
	if tracker != nil {
		tracker.Complete()
	}
	return e.completeJob(ctx, job, startedAt)
}

func (e *Executor) lookupPlugin(pluginID string) *registry.Plugin {
	if e.registry == nil || pluginID == "" {
		return nil
	}
	p, ok := e.registry.GetPlugin(pluginID)
	if !ok {
		return nil
	}
	return p
}
