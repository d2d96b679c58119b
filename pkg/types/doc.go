/*
Package types defines the core data structures used throughout NeuroInsight.

This package contains the fundamental types that represent the job domain
model: job specifications, persisted job rows, lifecycle statuses, resource
requests, and the read models returned by the API. These types are shared by
the store, the execution backends, the task executor, and the HTTP layer.

# Core Types

Job Lifecycle:
  - JobStatus: pending, running, completed, failed, cancelled, unknown
  - JobStatus.IsTerminal / IsActive: lifecycle predicates used by the
    state machine guards
  - ExecutionMode: plugin (single container) or workflow (chained steps)
  - BackendType: local, remote_docker, slurm

Job Data:
  - JobSpec: everything needed to run a job, serialized into the job row
    and into the queue task payload
  - Job: the persisted row, including progress, phase, timestamps, exit
    code and soft-delete marker
  - ResourceSpec: memory, CPUs, wall-time and GPU request

Read Models:
  - JobInfo: the job detail document served by the API
  - JobLogs: stdout/stderr text recovered from a backend
  - HealthStatus: a backend's self-reported health

# Usage

Building a specification for submission:

	spec := &types.JobSpec{
		PipelineName:   "freesurfer_recon",
		ContainerImage: "freesurfer/freesurfer:7.4.1",
		InputFiles:     []string{"/data/T1.nii.gz"},
		Resources:      types.DefaultResources(),
		ExecutionMode:  types.ExecutionModePlugin,
	}

Checking lifecycle state:

	if job.IsTerminal() {
		return backend.ErrAlreadyTerminal
	}

All types serialize to JSON. The Job row additionally carries sqlx `db`
tags for the Postgres store.

# Integration Points

This package is imported by every other NeuroInsight package and imports
none of them. Keep it dependency-free apart from the standard library.
*/
package types
