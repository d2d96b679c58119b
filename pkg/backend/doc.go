/*
Package backend defines the execution-backend contract and its three
implementations: local Docker, remote Docker over SSH, and SLURM.

The HTTP layer and the job executor depend on nothing beyond this
contract, so a deployment moves between a laptop, a lab workstation and an
HPC cluster by switching one configuration value.

# Architecture

	               ┌──────────── Backend interface ────────────┐
	               │  Submit / Status / Info / Cancel / Logs    │
	               │  List / Cleanup / Health / Type            │
	               └──────┬──────────────┬──────────────┬──────┘
	                      │              │              │
	         ┌────────────▼───┐  ┌───────▼────────┐  ┌──▼──────────────┐
	         │  LocalBackend  │  │ RemoteDocker   │  │  SLURMBackend   │
	         │  Redis queue + │  │ docker CLI     │  │  sbatch/squeue/ │
	         │  executor pool │  │ over SSH       │  │  sacct over SSH │
	         └────────────────┘  └────────────────┘  └─────────────────┘

The local backend is asynchronous: Submit enqueues a task and the executor
worker pool picks it up. The remote backends are synchronous wrappers over
remote commands; their containers run detached and are polled.

# Contract Semantics

Submit persists the job row before any remote action, so every accepted
submission is visible to List immediately. Cancel is idempotent: cancelling
an already cancelled job returns (false, nil), while cancelling a
completed or failed job returns ErrAlreadyTerminal. Status never mutates
state; Info may sync freshly observed remote state back into the row.

Sentinel errors shared by all implementations:

  - ErrJobNotFound: unknown or soft-deleted job ID
  - ErrSubmitFailed: the backend rejected the submission
  - ErrAlreadyTerminal: lifecycle operation on a finished job
  - ErrUnavailable: the backend cannot reach its substrate

# Manager

Manager holds the active backend behind an RWMutex and supports runtime
switching: Switch validates the target configuration, builds the new
backend, and rolls back on failure, so a bad switch never leaves the
server without a working backend.

# Container Naming

Every container or batch job is named "neuroinsight_" plus the first
twelve hex characters of the job ID, and Docker containers additionally
carry managed-by and job-id labels. Labels, not names, are the lookup key
when a worker restarts and re-adopts running containers.

# Integration Points

  - pkg/api: all job routes go through the active backend
  - pkg/executor: executes the tasks the local backend enqueues
  - pkg/sshconn: command and file transport for the remote backends
  - pkg/milestones: log-derived progress for SLURM Info polls
*/
package backend
