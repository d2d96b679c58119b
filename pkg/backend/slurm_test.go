package backend

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroinsight/neuroinsight/pkg/config"
	"github.com/neuroinsight/neuroinsight/pkg/log"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func TestMapSLURMState(t *testing.T) {
	tests := []struct {
		state string
		want  types.JobStatus
	}{
		{"PENDING", types.JobStatusPending},
		{"CONFIGURING", types.JobStatusPending},
		{"SUSPENDED", types.JobStatusPending},
		{"RUNNING", types.JobStatusRunning},
		{"COMPLETING", types.JobStatusRunning},
		{"COMPLETED", types.JobStatusCompleted},
		{"CANCELLED", types.JobStatusCancelled},
		{"CANCELLED by 1234", types.JobStatusCancelled},
		{"FAILED", types.JobStatusFailed},
		{"TIMEOUT", types.JobStatusFailed},
		{"OUT_OF_MEMORY", types.JobStatusFailed},
		{"NODE_FAIL", types.JobStatusFailed},
		{"PREEMPTED", types.JobStatusFailed},
		{"COMPLETED+", types.JobStatusCompleted},
		{"  running  ", types.JobStatusRunning},
		{"REQUEUED", types.JobStatusUnknown},
		{"", types.JobStatusUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapSLURMState(tt.state), "state %q", tt.state)
	}
}

func TestContainerName(t *testing.T) {
	name := ContainerName("3f2b8a1c-9d4e-4f6a-b7c8-0123456789ab")
	assert.Equal(t, "neuroinsight_3f2b8a1c9d4e", name)
	assert.NotContains(t, name, "-")
}

func slurmTestBackend() *SLURMBackend {
	cfg := &config.Config{
		BackendType: config.BackendSLURM,
		HPC: config.HPCConfig{
			Host:             "login.cluster.example.org",
			User:             "neuro",
			WorkDir:          "/scratch/neuro/neuroinsight",
			Partition:        "gpu",
			Account:          "lab-imaging",
			QOS:              "normal",
			ContainerRuntime: "singularity",
			Modules:          []string{"singularity/3.11", "cuda/12.2"},
		},
	}
	return NewSLURM(cfg, Deps{})
}

func TestBuildSbatchScriptDirectives(t *testing.T) {
	b := slurmTestBackend()
	spec := &types.JobSpec{
		PipelineName:    "freesurfer_recon",
		ContainerImage:  "freesurfer/freesurfer:7.4.1",
		CommandTemplate: "recon-all -i {input_file} -s {subject} -all",
		Parameters: map[string]any{
			"input_file": "/data/inputs/T1.nii.gz",
			"subject":    "sub-01",
		},
		Resources: types.ResourceSpec{MemoryGB: 32, CPUs: 8, TimeHours: 24, GPU: true},
	}
	jobID := "3f2b8a1c-9d4e-4f6a-b7c8-0123456789ab"
	script := b.buildSbatchScript(spec, jobID, b.jobDir(jobID))

	assert.True(t, len(script) > 0)
	assert.Contains(t, script, "#!/bin/bash\n")
	assert.Contains(t, script, "#SBATCH --job-name=neuroinsight_3f2b8a1c9d4e\n")
	assert.Contains(t, script, "#SBATCH --partition=gpu\n")
	assert.Contains(t, script, "#SBATCH --account=lab-imaging\n")
	assert.Contains(t, script, "#SBATCH --qos=normal\n")
	assert.Contains(t, script, "#SBATCH --mem=32g\n")
	assert.Contains(t, script, "#SBATCH --cpus-per-task=8\n")
	assert.Contains(t, script, "#SBATCH --time=24:00:00\n")
	assert.Contains(t, script, "#SBATCH --gpus-per-node=1\n")
	assert.Contains(t, script, "module load singularity/3.11\n")
	assert.Contains(t, script, "module load cuda/12.2\n")
}

func TestBuildSbatchScriptHeredocAndRuntime(t *testing.T) {
	b := slurmTestBackend()
	spec := &types.JobSpec{
		ContainerImage:  "deepmi/fastsurfer:cpu-v2.2.0",
		CommandTemplate: "run_fastsurfer.sh --t1 {input_file} --threads {threads}",
		Parameters: map[string]any{
			"input_file": "/data/inputs/T1.nii.gz",
			"threads":    "4; rm -rf /",
		},
		Resources: types.ResourceSpec{MemoryGB: 16, CPUs: 4, TimeHours: 6},
	}
	jobID := "aaaabbbbccccdddd"
	jobDir := b.jobDir(jobID)
	script := b.buildSbatchScript(spec, jobID, jobDir)

	// The pipeline command goes through a quoted here-doc, sanitised
	require.Contains(t, script, "<<'NEUROINSIGHT_EOF'\n")
	assert.Contains(t, script, "run_fastsurfer.sh --t1 /data/inputs/T1.nii.gz --threads 4 rm -rf /\n")
	assert.NotContains(t, script, "--threads 4;")

	assert.Contains(t, script, "singularity exec")
	assert.Contains(t, script, "docker://deepmi/fastsurfer:cpu-v2.2.0")
	assert.Contains(t, script, "--bind "+jobDir+"/inputs:/data/inputs:ro")
	assert.Contains(t, script, "--bind "+jobDir+"/outputs:/data/outputs")
	assert.Contains(t, script, "tee "+jobDir+"/outputs/logs/container.log")
	assert.NotContains(t, script, "#SBATCH --gpus-per-node")
}

func TestBuildSbatchScriptOmitsEmptyDirectives(t *testing.T) {
	b := slurmTestBackend()
	b.cfg.HPC.Partition = ""
	b.cfg.HPC.Account = ""
	b.cfg.HPC.QOS = ""
	b.cfg.HPC.Modules = nil

	script := b.buildSbatchScript(&types.JobSpec{
		ContainerImage:  "nipreps/fmriprep:23.2.0",
		CommandTemplate: "fmriprep /data/inputs /data/outputs participant",
		Resources:       types.ResourceSpec{MemoryGB: 24, CPUs: 8, TimeHours: 12},
	}, "job", "/scratch/neuro/neuroinsight/jobs/job")

	assert.NotContains(t, script, "--partition")
	assert.NotContains(t, script, "--account")
	assert.NotContains(t, script, "--qos")
	assert.NotContains(t, script, "module load")
}

func TestSbatchJobIDParsing(t *testing.T) {
	m := sbatchJobIDRe.FindStringSubmatch("Submitted batch job 4815162\n")
	require.NotNil(t, m)
	assert.Equal(t, "4815162", m[1])

	assert.Nil(t, sbatchJobIDRe.FindStringSubmatch("sbatch: error: invalid partition"))
}

func TestDockerStateMap(t *testing.T) {
	assert.Equal(t, types.JobStatusPending, dockerStateMap["created"])
	assert.Equal(t, types.JobStatusRunning, dockerStateMap["running"])
	assert.Equal(t, types.JobStatusRunning, dockerStateMap["paused"])
	assert.Equal(t, types.JobStatusRunning, dockerStateMap["restarting"])
	assert.Equal(t, types.JobStatusCompleted, dockerStateMap["exited"])
	assert.Equal(t, types.JobStatusFailed, dockerStateMap["dead"])
}

func TestRemoteRunCommand(t *testing.T) {
	cfg := &config.Config{
		BackendType: config.BackendRemoteDocker,
		RemoteDocker: config.RemoteDockerConfig{
			Host:    "gpu-box.example.org",
			User:    "neuro",
			WorkDir: "/home/neuro/neuroinsight_jobs",
		},
	}
	b := NewRemoteDocker(cfg, Deps{})

	spec := &types.JobSpec{
		ContainerImage:  "freesurfer/freesurfer:7.4.1",
		CommandTemplate: "recon-all -i {input_file} -all",
		Parameters:      map[string]any{"input_file": "/data/inputs/T1.nii.gz"},
		Resources:       types.ResourceSpec{MemoryGB: 32, CPUs: 8, GPU: true},
	}
	jobID := "3f2b8a1c-9d4e-4f6a-b7c8-0123456789ab"
	jobDir := b.jobDir(jobID)
	cmd := b.buildRunCommand(spec, jobID, ContainerName(jobID), jobDir)

	assert.Contains(t, cmd, "docker run -d")
	assert.Contains(t, cmd, "--name neuroinsight_3f2b8a1c9d4e")
	assert.Contains(t, cmd, "--cpus=8")
	assert.Contains(t, cmd, "--memory=32g")
	assert.Contains(t, cmd, "--gpus all")
	assert.Contains(t, cmd, "--security-opt no-new-privileges")
	assert.Contains(t, cmd, jobDir+"/inputs:/data/inputs:ro")
	assert.Contains(t, cmd, jobDir+"/outputs:/data/outputs:rw")
	assert.Contains(t, cmd, "-e OMP_NUM_THREADS=8")
	assert.Contains(t, cmd, "-e NEUROINSIGHT_JOB_ID="+jobID)
	assert.Contains(t, cmd, "freesurfer/freesurfer:7.4.1")
	assert.Contains(t, cmd, "recon-all -i /data/inputs/T1.nii.gz -all")
}
