package executor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroinsight/neuroinsight/pkg/log"
	"github.com/neuroinsight/neuroinsight/pkg/registry"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func testPlugin() *registry.Plugin {
	return &registry.Plugin{
		Type: "plugin",
		ID:   "freesurfer_recon",
		Inputs: registry.PluginInputs{
			Required: []registry.PluginInput{{Key: "t1w", Label: "T1 image", Format: "nifti"}},
		},
		Parameters: []registry.PluginParameter{
			{Name: "directives", Type: "string", Default: "-all"},
			{Name: "threads", Type: "int", Default: 2},
		},
	}
}

func TestResolveParametersUserWinsOverDefaults(t *testing.T) {
	params := ResolveParameters(
		map[string]any{"directives": "-autorecon1"},
		testPlugin(),
		types.ResourceSpec{MemoryGB: 16, CPUs: 8},
		nil,
	)
	assert.Equal(t, "-autorecon1", params["directives"])
}

func TestResolveParametersInjectsResourceValues(t *testing.T) {
	params := ResolveParameters(nil, testPlugin(), types.ResourceSpec{MemoryGB: 16, CPUs: 8}, nil)

	assert.Equal(t, 8, params["threads"])
	assert.Equal(t, 8, params["nthreads"])
	assert.Equal(t, 8, params["cpus"])
	assert.Equal(t, 16, params["mem_gb"])
	assert.Equal(t, 16384, params["mem_mb"])
	assert.Equal(t, 7, params["omp_nthreads"])
}

func TestResolveParametersOmpFloorsAtOne(t *testing.T) {
	params := ResolveParameters(nil, nil, types.ResourceSpec{CPUs: 1}, nil)
	assert.Equal(t, 1, params["omp_nthreads"])
}

func TestResolveParametersAutoFillsInputFile(t *testing.T) {
	inputs := []string{"/data/inputs/t1w.nii.gz", "/data/inputs/t2w.nii.gz"}
	params := ResolveParameters(nil, nil, types.ResourceSpec{CPUs: 4}, inputs)
	assert.Equal(t, "/data/inputs/t1w.nii.gz", params["input_file"])

	params = ResolveParameters(map[string]any{"input_file": "/custom"}, nil, types.ResourceSpec{CPUs: 4}, inputs)
	assert.Equal(t, "/custom", params["input_file"])
}

func TestSuffixChain(t *testing.T) {
	assert.Equal(t, ".nii.gz", suffixChain("/tmp/T1.nii.gz"))
	assert.Equal(t, ".mgz", suffixChain("brain.mgz"))
	assert.Equal(t, "", suffixChain("/tmp/README"))
}

func TestStageInputsRenamesToExpectedKeys(t *testing.T) {
	dataDir := t.TempDir()
	outputDir := t.TempDir()
	src := filepath.Join(dataDir, "subject01_scan.nii.gz")
	require.NoError(t, os.WriteFile(src, []byte("volume"), 0o644))

	spec := &types.JobSpec{InputFiles: []string{src}, OutputDir: outputDir}
	paths, err := StageInputs(spec, testPlugin())
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "/data/inputs/t1w.nii.gz", paths[0])

	staged, err := os.ReadFile(filepath.Join(outputDir, "_inputs", "t1w.nii.gz"))
	require.NoError(t, err)
	assert.Equal(t, "volume", string(staged))
}

func TestStageInputsExtraFilesKeepTheirNames(t *testing.T) {
	dataDir := t.TempDir()
	outputDir := t.TempDir()
	first := filepath.Join(dataDir, "T1.nii.gz")
	second := filepath.Join(dataDir, "lesion_mask.nii.gz")
	require.NoError(t, os.WriteFile(first, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("b"), 0o644))

	spec := &types.JobSpec{InputFiles: []string{first, second}, OutputDir: outputDir}
	paths, err := StageInputs(spec, testPlugin())
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/inputs/t1w.nii.gz", "/data/inputs/lesion_mask.nii.gz"}, paths)
}

func TestStageInputsIdempotent(t *testing.T) {
	dataDir := t.TempDir()
	outputDir := t.TempDir()
	src := filepath.Join(dataDir, "T1.nii.gz")
	require.NoError(t, os.WriteFile(src, []byte("original"), 0o644))

	spec := &types.JobSpec{InputFiles: []string{src}, OutputDir: outputDir}
	_, err := StageInputs(spec, testPlugin())
	require.NoError(t, err)

	// A second delivery of the same task must not rewrite staged files
	require.NoError(t, os.WriteFile(src, []byte("changed"), 0o644))
	paths, err := StageInputs(spec, testPlugin())
	require.NoError(t, err)
	require.Len(t, paths, 1)

	staged, err := os.ReadFile(filepath.Join(outputDir, "_inputs", "t1w.nii.gz"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(staged))
}

func TestStageInputsMissingFileIsNotRetryable(t *testing.T) {
	spec := &types.JobSpec{
		InputFiles: []string{"/nonexistent/T1.nii.gz"},
		OutputDir:  t.TempDir(),
	}
	_, err := StageInputs(spec, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errValidation))
	assert.False(t, isTransient(err))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, isTransient(nil))
	assert.False(t, isTransient(validationErr("bad image")))
	assert.True(t, isTransient(context.DeadlineExceeded))
	assert.True(t, isTransient(errors.New("container killed due to OOM")))
	assert.True(t, isTransient(errors.New("Cannot connect to the Docker daemon at unix:///var/run/docker.sock")))
	assert.False(t, isTransient(errors.New("image not present")))
}

func TestNewNativeDirs(t *testing.T) {
	before := map[string]bool{"sub-01": true}
	after := map[string]bool{"sub-01": true, "fastsurfer_out": true, "aseg_out": true}

	paths := newNativeDirs(before, after)
	assert.Equal(t, []string{
		"/data/outputs/native/aseg_out",
		"/data/outputs/native/fastsurfer_out",
	}, paths)

	assert.Empty(t, newNativeDirs(before, before))
}

func TestWriteJobSpecFiltersInternalKeys(t *testing.T) {
	dir := t.TempDir()
	spec := &types.JobSpec{
		PipelineName:    "freesurfer_recon",
		ContainerImage:  "freesurfer/freesurfer:7.4.1",
		OutputDir:       dir,
		PluginID:        "freesurfer_recon",
		ExecutionMode:   types.ExecutionModePlugin,
		CommandTemplate: "recon-all -i {input_file} {directives}",
	}
	params := map[string]any{
		"threads":         4,
		"directives":      "-all",
		"_workflow_steps": []string{"fastsurfer_seg", "fmriprep"},
	}
	require.NoError(t, writeJobSpec(spec, params))

	raw, err := os.ReadFile(filepath.Join(dir, "job_spec.json"))
	require.NoError(t, err)
	var record map[string]any
	require.NoError(t, json.Unmarshal(raw, &record))

	recorded, ok := record["parameters"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, recorded, "threads")
	assert.Contains(t, recorded, "directives")
	assert.NotContains(t, recorded, "_workflow_steps")

	// The record says whether a template was set, never the template text
	assert.Equal(t, true, record["has_command_template"])
	assert.NotContains(t, record, "command_template")
}
