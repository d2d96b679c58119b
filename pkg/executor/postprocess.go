package executor

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"

	"github.com/neuroinsight/neuroinsight/pkg/log"
	"github.com/neuroinsight/neuroinsight/pkg/metrics"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

// postProcess converts FreeSurfer volumes to NIfTI and mirrors the outputs
// to the object store. Failures here never fail the job.
func (e *Executor) postProcess(ctx context.Context, job *types.Job, spec *types.JobSpec) {
	logger := log.WithJobID(job.ID)

	if err := e.convertVolumes(ctx, job, spec); err != nil {
		logger.Warn().Err(err).Msg("volume conversion incomplete")
	}
	e.mirrorOutputs(ctx, job, spec)
}

// convertVolumes finds .mgz files under native/ and produces a .nii.gz twin
// in bundle/volumes/ for each, using mri_convert inside the pipeline's own
// image with the same hardening as the main run
func (e *Executor) convertVolumes(ctx context.Context, job *types.Job, spec *types.JobSpec) error {
	nativeDir := filepath.Join(spec.OutputDir, "native")
	volumesDir := filepath.Join(spec.OutputDir, "bundle", "volumes")
	if err := os.MkdirAll(volumesDir, 0o755); err != nil {
		return err
	}

	var mgzFiles []string
	_ = filepath.WalkDir(nativeDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".mgz") {
			mgzFiles = append(mgzFiles, p)
		}
		return nil
	})
	if len(mgzFiles) == 0 {
		return nil
	}

	logger := log.WithJobID(job.ID)
	for _, mgz := range mgzFiles {
		base := strings.TrimSuffix(filepath.Base(mgz), ".mgz")
		target := filepath.Join(volumesDir, base+".nii.gz")
		if _, err := os.Stat(target); err == nil {
			continue
		}

		rel, err := filepath.Rel(spec.OutputDir, mgz)
		if err != nil {
			continue
		}
		src := containerOutputsDir + "/" + filepath.ToSlash(rel)
		dst := containerOutputsDir + "/bundle/volumes/" + base + ".nii.gz"

		if err := e.runUtility(ctx, job.ID, spec, fmt.Sprintf("mri_convert %s %s", src, dst)); err != nil {
			logger.Warn().Err(err).Str("file", filepath.Base(mgz)).Msg("mri_convert failed")
		}
	}
	return nil
}

// runUtility runs a short auxiliary command in the pipeline's image with the
// standard hardening and a tight timeout
func (e *Executor) runUtility(ctx context.Context, jobID string, spec *types.JobSpec, command string) error {
	utilCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	containerID, err := e.startContainer(utilCtx, launchSpec{
		jobID:     jobID,
		image:     spec.ContainerImage,
		command:   command,
		outputDir: spec.OutputDir,
		resources: spec.Resources,
	})
	if err != nil {
		return err
	}
	defer e.removeContainer(context.Background(), containerID)

	waitCh, errCh := e.docker.ContainerWait(utilCtx, containerID, container.WaitConditionNotRunning)
	select {
	case res := <-waitCh:
		if res.Error != nil {
			return fmt.Errorf("wait: %s", res.Error.Message)
		}
		if res.StatusCode != 0 {
			return fmt.Errorf("exited with code %d", res.StatusCode)
		}
		return nil
	case err := <-errCh:
		return err
	case <-utilCtx.Done():
		return utilCtx.Err()
	}
}

// mirrorOutputs uploads native/ and bundle/ to the object store when one is
// configured
func (e *Executor) mirrorOutputs(ctx context.Context, job *types.Job, spec *types.JobSpec) {
	if e.uploader == nil {
		return
	}
	logger := log.WithJobID(job.ID)
	for _, prefix := range []string{"native", "bundle"} {
		local := filepath.Join(spec.OutputDir, prefix)
		if _, err := os.Stat(local); err != nil {
			continue
		}
		n, err := e.uploader.UploadDir(ctx, job.ID, local, prefix)
		if err != nil {
			logger.Warn().Err(err).Str("prefix", prefix).Msg("object-store mirror failed")
			continue
		}
		metrics.UploadedFiles.Add(float64(n))
		logger.Info().Int("files", n).Str("prefix", prefix).Msg("outputs mirrored")
	}
}
