package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/neuroinsight/neuroinsight/pkg/backend"
	"github.com/neuroinsight/neuroinsight/pkg/log"
	"github.com/neuroinsight/neuroinsight/pkg/milestones"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

// runWorkflowJob executes a linear chain of plugin containers. Steps share
// the 0-90 progress band equally; the final 10 percent is post-processing.
func (e *Executor) runWorkflowJob(ctx context.Context, job *types.Job, spec *types.JobSpec) error {
	logger := log.WithJobID(job.ID)

	steps := spec.WorkflowSteps
	if len(steps) == 0 && e.registry != nil && spec.WorkflowID != "" {
		if wf, ok := e.registry.GetWorkflow(spec.WorkflowID); ok {
			steps = wf.StepPlugins()
		}
	}
	if len(steps) == 0 {
		e.failJob(ctx, job, nil, "workflow declares no steps")
		return nil
	}

	firstPlugin := e.lookupPlugin(steps[0])
	inputPaths, err := StageInputs(spec, firstPlugin)
	if err != nil {
		if !isTransient(err) {
			e.failJob(ctx, job, nil, err.Error())
			return nil
		}
		return err
	}
	if err := writeJobSpec(spec, spec.Parameters); err != nil {
		logger.Warn().Err(err).Msg("could not write job_spec.json")
	}

	if err := e.store.MarkRunning(ctx, job.ID); err != nil {
		logger.Warn().Err(err).Msg("could not mark job running")
	}
	startedAt := time.Now()
	currentInputs := inputPaths

	for i, stepID := range steps {
		plugin := e.lookupPlugin(stepID)
		if plugin == nil {
			e.failJob(ctx, job, nil, fmt.Sprintf("workflow step %q references an unknown plugin", stepID))
			return nil
		}
		template := plugin.CommandTemplate()
		if template == "" {
			e.failJob(ctx, job, nil, fmt.Sprintf("workflow step %q declares no command template", stepID))
			return nil
		}
		image := plugin.Container.Image
		if err := backend.ValidateImage(image); err != nil {
			e.failJob(ctx, job, nil, err.Error())
			return nil
		}

		lo, hi := milestones.StepBand(i, len(steps))
		tracker := milestones.NewBandTracker(milestones.ForPlugin(stepID), lo, hi)
		if job.Progress > lo {
			tracker.Resume(job.Progress, job.CurrentPhase)
		}

		// Parameters are re-resolved against each step's own defaults
		params := ResolveParameters(spec.Parameters, plugin, spec.Resources, currentInputs)
		command := backend.BuildCommand(template, params)

		if err := e.store.UpdateProgress(ctx, job.ID, lo, "Starting "+stepID); err != nil {
			logger.Debug().Err(err).Msg("progress commit skipped")
		}
		logger.Info().Str("step", stepID).Int("index", i).Msg("workflow step starting")

		before := nativeDirSet(spec.OutputDir)

		var containerID string
		launch := func() error {
			if err := e.ensureImage(ctx, image); err != nil {
				return err
			}
			id, err := e.startContainer(ctx, launchSpec{
				jobID:     job.ID,
				image:     image,
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
			e.failJob(ctx, job, nil, fmt.Sprintf("step %q: %v", stepID, err))
			return nil
		}

		exitCode, err := e.attachContainer(ctx, containerID, job, tracker)
		e.removeContainer(ctx, containerID)
		if err != nil {
			e.failJob(ctx, job, nil, fmt.Sprintf("step %q: %v", stepID, err))
			return nil
		}
		if exitCode != 0 {
			reason := fmt.Sprintf("workflow step %q exited with code %d", stepID, exitCode)
			if tail := readStderrTail(spec.OutputDir); tail != "" {
				reason = reason + ": " + tail
			}
			e.failJob(ctx, job, &exitCode, reason)
			return nil
		}

		// Directories created by this step feed the next one; when a step
		// produces none the original inputs are reused
		if next := newNativeDirs(before, nativeDirSet(spec.OutputDir)); len(next) > 0 {
			currentInputs = next
			logger.Debug().Strs("inputs", next).Str("step", stepID).Msg("step outputs feed the next step")
		}

		// The band top is committed only now, with the step's zero exit
		// code observed
		tracker.Complete()
		if err := e.store.UpdateProgress(ctx, job.ID, tracker.Progress(), stepID+" complete"); err != nil {
			logger.Debug().Err(err).Msg("progress commit skipped")
		}
	}

	if err := e.store.UpdateProgress(ctx, job.ID, 95, "Post-processing"); err != nil {
		logger.Debug().Err(err).Msg("progress commit skipped")
	}
	e.postProcess(ctx, job, spec)
	return e.completeJob(ctx, job, startedAt)
}

// nativeDirSet lists the directories directly under native/
func nativeDirSet(outputDir string) map[string]bool {
	set := map[string]bool{}
	entries, err := os.ReadDir(filepath.Join(outputDir, "native"))
	if err != nil {
		return set
	}
	for _, entry := range entries {
		if entry.IsDir() {
			set[entry.Name()] = true
		}
	}
	return set
}

// newNativeDirs returns the container-side paths of directories present in
// after but not in before, sorted for deterministic ordering
func newNativeDirs(before, after map[string]bool) []string {
	var names []string
	for name := range after {
		if !before[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	paths := make([]string, 0, len(names))
	for _, name := range names {
		paths = append(paths, containerOutputsDir+"/native/"+name)
	}
	return paths
}
