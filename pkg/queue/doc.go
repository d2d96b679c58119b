/*
Package queue is the durable task queue between the submission path and the
job executor, built on Redis lists.

A task moves from the pending list to a per-process processing list when
reserved (LMOVE) and is removed only on ack, so a worker crash leaves the
task recoverable: RecoverStale moves processing entries back to pending at
startup. The result is at-most-once submission with at-least-once execution;
the executor's re-entrancy checks absorb redeliveries.

# Architecture

	  Submit                    Reserve (LMOVE)              Ack (LREM)
	────────────▶ [ pending ] ──────────────────▶ [ processing ] ─────▶ gone
	                   ▲                                 │
	                   └────────── RecoverStale ─────────┘
	                               (startup)

Revocation is a keyspace flag, not a queue operation: Revoke marks a job ID
and IsRevoked is checked by the worker before and during execution, so a
cancel that races a reservation still lands.

# Task Types

  - TaskRunDockerJob: run a single-plugin container job
  - TaskRunWorkflowJob: run a chained multi-step workflow job
  - TaskPullImage: warm an image ahead of submission

# Usage

	q := queue.New(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	defer q.Close()

	taskID, err := q.Enqueue(ctx, queue.Task{Type: queue.TaskRunDockerJob, JobID: jobID})

	// worker side
	res, err := q.Reserve(ctx, 5*time.Second) // nil on timeout
	if res != nil {
		process(res.Task)
		q.Ack(ctx, res)
	}

Depth reports pending and processing lengths for the queue gauges.

# Integration Points

  - pkg/backend: the local backend enqueues tasks on submit and revokes
    them on cancel
  - pkg/executor: reserves, executes, acks, and recovers stale tasks
  - cmd/neuroinsight: polls Depth for the Prometheus queue-depth gauge
*/
package queue
