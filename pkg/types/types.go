package types

import (
	"time"
)

// JobStatus is the universal job status across all execution backends
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusUnknown   JobStatus = "unknown"
)

// IsTerminal reports whether the status admits no further transitions
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsActive reports whether the job can still transition to completion
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// ExecutionMode distinguishes single-plugin jobs from workflow jobs
type ExecutionMode string

const (
	ExecutionModePlugin   ExecutionMode = "plugin"
	ExecutionModeWorkflow ExecutionMode = "workflow"
)

// BackendType identifies an execution backend implementation
type BackendType string

const (
	BackendLocal        BackendType = "local"
	BackendRemoteDocker BackendType = "remote_docker"
	BackendSLURM        BackendType = "slurm"
)

// ResourceSpec describes the computational resources requested for a job
type ResourceSpec struct {
	MemoryGB  int  `json:"memory_gb" yaml:"memory_gb"`
	CPUs      int  `json:"cpus" yaml:"cpus"`
	TimeHours int  `json:"time_hours" yaml:"time_hours"`
	GPU       bool `json:"gpu" yaml:"gpu"`
}

// DefaultResources returns the resources used when a plugin specifies none
func DefaultResources() ResourceSpec {
	return ResourceSpec{MemoryGB: 8, CPUs: 4, TimeHours: 24, GPU: false}
}

// JobSpec is the validated, serialisable description of one job submission.
// It is what backends enqueue on the durable task queue.
type JobSpec struct {
	PipelineName    string            `json:"pipeline_name"`
	ContainerImage  string            `json:"container_image"`
	InputFiles      []string          `json:"input_files"`
	OutputDir       string            `json:"output_dir"`
	Parameters      map[string]any    `json:"parameters"`
	Resources       ResourceSpec      `json:"resources"`
	Environment     map[string]string `json:"environment,omitempty"`
	PluginID        string            `json:"plugin_id,omitempty"`
	WorkflowID      string            `json:"workflow_id,omitempty"`
	WorkflowSteps   []string          `json:"workflow_steps,omitempty"`
	ExecutionMode   ExecutionMode     `json:"execution_mode"`
	CommandTemplate string            `json:"command_template,omitempty"`
	DataDir         string            `json:"data_dir"`
}

// Job is the persisted job row with complete lifecycle tracking
type Job struct {
	ID             string         `json:"id" db:"id"`
	BackendType    string         `json:"backend_type" db:"backend_type"`
	BackendJobID   *string        `json:"backend_job_id" db:"backend_job_id"`
	PipelineName   string         `json:"pipeline_name" db:"pipeline_name"`
	ContainerImage string         `json:"container_image" db:"container_image"`
	InputFiles     []string       `json:"input_files" db:"-"`
	Parameters     map[string]any `json:"parameters" db:"-"`
	Resources      map[string]any `json:"resources" db:"-"`
	Status         JobStatus      `json:"status" db:"status"`
	Progress       int            `json:"progress" db:"progress"`
	CurrentPhase   string         `json:"current_phase" db:"current_phase"`
	SubmittedAt    time.Time      `json:"submitted_at" db:"submitted_at"`
	StartedAt      *time.Time     `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at" db:"completed_at"`
	OutputDir      string         `json:"output_dir" db:"output_dir"`
	ExitCode       *int           `json:"exit_code" db:"exit_code"`
	ErrorMessage   string         `json:"error_message" db:"error_message"`
	ExecutionMode  ExecutionMode  `json:"execution_mode" db:"execution_mode"`
	PluginID       string         `json:"plugin_id" db:"plugin_id"`
	WorkflowID     string         `json:"workflow_id" db:"workflow_id"`
	Deleted        bool           `json:"deleted" db:"deleted"`
	DeletedAt      *time.Time     `json:"deleted_at" db:"deleted_at"`
}

// IsTerminal reports whether the job has finished
func (j *Job) IsTerminal() bool { return j.Status.IsTerminal() }

// IsActive reports whether the job is pending or running
func (j *Job) IsActive() bool { return j.Status.IsActive() }

// RuntimeSeconds returns the job runtime, counting to now for running jobs
func (j *Job) RuntimeSeconds() int {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return int(end.Sub(*j.StartedAt).Seconds())
}

// JobInfo is the snapshot returned by backend Info/List operations
type JobInfo struct {
	JobID          string        `json:"job_id"`
	Status         JobStatus     `json:"status"`
	PipelineName   string        `json:"pipeline_name"`
	ContainerImage string        `json:"container_image,omitempty"`
	BackendJobID   string        `json:"backend_job_id,omitempty"`
	Progress       int           `json:"progress"`
	CurrentPhase   string        `json:"current_phase,omitempty"`
	SubmittedAt    time.Time     `json:"submitted_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	OutputDir      string        `json:"output_dir,omitempty"`
	ExitCode       *int          `json:"exit_code,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	ExecutionMode  ExecutionMode `json:"execution_mode,omitempty"`
}

// JobLogs holds best-effort captured logs for a job
type JobLogs struct {
	JobID  string `json:"job_id"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// HealthStatus is the uniform health-check result shape
type HealthStatus struct {
	Healthy bool           `json:"healthy"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
