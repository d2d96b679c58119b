package executor

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/neuroinsight/neuroinsight/pkg/registry"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

// Container-side mount points shared by every pipeline container
const (
	containerInputsDir  = "/data/inputs"
	containerOutputsDir = "/data/outputs"
	containerLicense    = "/license.txt"
)

// ResolveParameters builds the effective parameter map for one container
// invocation: user values first, plugin defaults for anything unset, then the
// resource-derived values and the input_file auto-fill.
func ResolveParameters(user map[string]any, plugin *registry.Plugin,
	res types.ResourceSpec, inputPaths []string) map[string]any {
	params := make(map[string]any, len(user)+8)
	for k, v := range user {
		params[k] = v
	}
	if plugin != nil {
		for k, v := range plugin.DefaultParameters() {
			if _, set := params[k]; !set {
				params[k] = v
			}
		}
	}

	params["threads"] = res.CPUs
	params["nthreads"] = res.CPUs
	params["cpus"] = res.CPUs
	params["mem_gb"] = res.MemoryGB
	params["mem_mb"] = res.MemoryGB * 1024
	omp := res.CPUs - 1
	if omp < 1 {
		omp = 1
	}
	params["omp_nthreads"] = omp

	if _, set := params["input_file"]; !set && len(inputPaths) > 0 {
		params["input_file"] = inputPaths[0]
	}
	return params
}

// StageInputs copies the job's input files into the output tree's _inputs
// directory and returns their container-side paths in order. The first N
// files are renamed to the plugin's expected input keys, keeping the original
// suffix chain so ".nii.gz" survives; extra files keep their own names.
// Already-staged files are left alone, so redelivery is safe.
func StageInputs(spec *types.JobSpec, plugin *registry.Plugin) ([]string, error) {
	stagingDir := filepath.Join(spec.OutputDir, "_inputs")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	var expected []registry.PluginInput
	if plugin != nil {
		expected = plugin.Inputs.All()
	}

	paths := make([]string, 0, len(spec.InputFiles))
	for i, input := range spec.InputFiles {
		if _, err := os.Stat(input); err != nil {
			return nil, validationErr("input file not found: %s", input)
		}

		name := filepath.Base(input)
		if i < len(expected) && expected[i].Key != "" {
			name = expected[i].Key + suffixChain(input)
		}
		dst := filepath.Join(stagingDir, name)
		if _, err := os.Stat(dst); err == nil {
			paths = append(paths, containerInputsDir+"/"+name)
			continue
		}
		if err := copyFile(input, dst); err != nil {
			return nil, fmt.Errorf("stage %s: %w", input, err)
		}
		paths = append(paths, containerInputsDir+"/"+name)
	}
	return paths, nil
}

// suffixChain returns every extension of a filename, so "T1.nii.gz" yields
// ".nii.gz" rather than ".gz"
func suffixChain(p string) string {
	base := filepath.Base(p)
	if i := strings.Index(base, "."); i >= 0 {
		return base[i:]
	}
	return ""
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o500)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// writeJobSpec persists the resolved submission next to the outputs for the
// provenance endpoint. Underscore-prefixed keys are internal plumbing and
// stay out of the record, the same skip BuildCommand applies; the template
// itself is not recorded, only whether one was set.
func writeJobSpec(spec *types.JobSpec, params map[string]any) error {
	safe := make(map[string]any, len(params))
	for k, v := range params {
		if strings.HasPrefix(k, "_") {
			continue
		}
		safe[k] = v
	}
	record := map[string]any{
		"pipeline_name":        spec.PipelineName,
		"container_image":      spec.ContainerImage,
		"input_files":          spec.InputFiles,
		"parameters":           safe,
		"resources":            spec.Resources,
		"execution_mode":       spec.ExecutionMode,
		"plugin_id":            spec.PluginID,
		"workflow_id":          spec.WorkflowID,
		"has_command_template": spec.CommandTemplate != "",
	}
	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(spec.OutputDir, "job_spec.json"), raw, 0o644)
}
