/*
Package executor is the durable task worker that drives containers for the
local backend.

Tasks arrive on the Redis queue with at-least-once delivery; the executor
inspects the job row before acting, so a redelivered task never starts a
second container for the same job. Workers survive process restarts: stale
reservations are recovered at startup and running containers are
re-adopted by label.

# Architecture

	  Redis queue                 worker pool (MaxConcurrentJobs)
	 ┌───────────┐   Reserve    ┌──────────────────────────────┐
	 │  pending  │ ───────────▶ │  re-entrancy + revocation    │
	 └───────────┘              │  checks against the job row  │
	                            └──────────────┬───────────────┘
	                                           │
	                  ┌────────────────────────▼─────────────────────┐
	                  │  stage inputs → resolve params → build cmd   │
	                  │  pull image → run container → pump logs      │
	                  │  wait (23h warn / 24h hard stop)             │
	                  │  post-process → terminal transition → Ack    │
	                  └──────────────────────────────────────────────┘

# Execution Flow

Single-plugin jobs stage their inputs under the job directory, resolve
parameters (user values over plugin defaults over injected resource
values), render the command template, and run one hardened container.
Workflow jobs run each step's container in sequence; new directories
appearing under native/ after a step become the next step's inputs, and
each step owns a band of the progress bar.

Containers run with no network, no privilege escalation, inputs mounted
read-only, and memory/CPU limits from the resource spec. The log pump
tees container output into per-stream files and feeds the milestone
tracker for live progress.

# Failure Handling

Transient failures (daemon connectivity, timeouts, OOM-flavoured errors)
retry up to two times with exponential backoff starting at one minute.
Validation failures are permanent and fail the job immediately. A step
exiting non-zero fails the job with the exit code and the tail of stderr
preserved in the row.

# Post-Processing

After the last container exits cleanly, every .mgz volume under native/
gains a .nii.gz twin under bundle/volumes/ via a short-lived mri_convert
container, and both trees are mirrored to the object store when one is
configured. Post-processing problems are logged, never fatal: the science
outputs already exist.

# Integration Points

  - pkg/queue: task reservation, acks, revocation checks, recovery
  - pkg/store: lifecycle transitions and progress updates
  - pkg/registry: plugin lookup and command templates
  - pkg/milestones: log-derived progress
  - pkg/objectstore: output mirroring
*/
package executor
