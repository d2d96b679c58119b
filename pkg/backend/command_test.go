package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeStripsShellMetacharacters(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean value", "8", "8"},
		{"injection attempt", "; rm -rf / ;", " rm -rf / "},
		{"backticks and subshell", "`id` $(whoami)", "id whoami"},
		{"redirects and pipes", "a > b | c < d", "a  b  c  d"},
		{"braces and bang", "{x} !y", "x y"},
		{"newlines", "one\ntwo\rthree", "onetwothree"},
		{"path survives", "/tmp/T1.nii.gz", "/tmp/T1.nii.gz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.in)
			assert.Equal(t, tt.want, got)
			for _, c := range strippedChars {
				assert.NotContains(t, got, string(c))
			}
		})
	}
}

func TestBuildCommandSubstitution(t *testing.T) {
	template := "run --in {input_file} --out /data/outputs --threads {threads}"
	params := map[string]any{
		"input_file": "/tmp/T1.nii.gz",
		"threads":    8,
	}
	got := BuildCommand(template, params)
	assert.Equal(t, "run --in /tmp/T1.nii.gz --out /data/outputs --threads 8", got)
}

func TestBuildCommandSanitisesValues(t *testing.T) {
	template := "run --in {input_file} --out /data/outputs --threads {threads}"
	params := map[string]any{
		"input_file": "/tmp/T1.nii.gz",
		"threads":    "; rm -rf / ;",
	}
	got := BuildCommand(template, params)
	assert.Equal(t, "run --in /tmp/T1.nii.gz --out /data/outputs --threads  rm -rf / ", got)
}

func TestBuildCommandBothPlaceholderForms(t *testing.T) {
	got := BuildCommand("cmd {subject} ${subject}", map[string]any{"subject": "sub-01"})
	assert.Equal(t, "cmd sub-01 sub-01", got)
}

func TestBuildCommandLeavesUnresolvedPlaceholders(t *testing.T) {
	got := BuildCommand("recon-all -sd ${SUBJECTS_DIR} -s {subject}", map[string]any{"subject": "sub-01"})
	assert.Equal(t, "recon-all -sd ${SUBJECTS_DIR} -s sub-01", got)
}

func TestBuildCommandSkipsInternalParameters(t *testing.T) {
	got := BuildCommand("cmd {_workflow_steps} {threads}", map[string]any{
		"_workflow_steps": []string{"a", "b"},
		"threads":         4,
	})
	assert.Equal(t, "cmd {_workflow_steps} 4", got)
}

func TestValidateImage(t *testing.T) {
	tests := []struct {
		image string
		ok    bool
	}{
		{"freesurfer/freesurfer:7.4.1", true},
		{"deepmi/fastsurfer:cpu-v2.2.0", true},
		{"nipreps/fmriprep@sha256:deadbeef", true},
		{"neurodebian:bookworm", true},
		{"evil.io/miner:latest", false},
		{"docker.io/library/alpine:3.20", false},
		{"", false},
	}
	for _, tt := range tests {
		err := ValidateImage(tt.image)
		if tt.ok {
			assert.NoError(t, err, tt.image)
		} else {
			assert.Error(t, err, tt.image)
			if err != nil {
				assert.Contains(t, err.Error(), "is not in the allowed list")
			}
		}
	}
}

func TestImageBase(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"freesurfer/freesurfer:7.4.1", "freesurfer/freesurfer"},
		{"nipreps/fmriprep@sha256:abc", "nipreps/fmriprep"},
		{"registry.example.com:5000/lab/tool:1.0", "registry.example.com:5000/lab/tool"},
		{"neurodebian", "neurodebian"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ImageBase(tt.in))
	}
}
