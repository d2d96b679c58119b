/*
Package store persists job rows in Postgres and enforces the job lifecycle
state machine at the SQL level.

Transitions are single guarded UPDATEs whose WHERE clause names the states
they may leave, so two concurrent writers cannot both move a job out of the
same state. Progress updates use GREATEST, so progress never decreases even
when status polls race with the log pump.

# Architecture

	┌──────────────────── JOB STORE ───────────────────────┐
	│                                                       │
	│  ┌────────────────────────────────────────┐          │
	│  │            Store interface              │          │
	│  │  Create / Get / List / ListActive       │          │
	│  │  UpdateProgress / SetBackendJobID       │          │
	│  │  MarkRunning / MarkCompleted            │          │
	│  │  MarkFailed / MarkCancelled             │          │
	│  │  SoftDelete / Health / Close            │          │
	│  └──────────────────┬─────────────────────┘          │
	│                     │                                 │
	│  ┌──────────────────▼─────────────────────┐          │
	│  │           PostgresStore                 │          │
	│  │  sqlx over pgx stdlib driver            │          │
	│  └────────────────────────────────────────┘          │
	└──────────────────────────────────────────────────────┘

# Lifecycle Guards

	pending  ──MarkRunning──▶  running
	pending  ──MarkFailed────▶ failed
	pending  ──MarkCancelled─▶ cancelled
	running  ──MarkCompleted─▶ completed
	running  ──MarkFailed────▶ failed
	running  ──MarkCancelled─▶ cancelled

A transition attempted from any other state returns ErrInvalidTransition;
an unknown job ID returns ErrNotFound. Callers cancelling an already
cancelled job treat ErrInvalidTransition as success.

# Usage

	st, err := store.New(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer st.Close()

	err = st.MarkRunning(ctx, jobID)
	if errors.Is(err, store.ErrInvalidTransition) {
		// the job reached a terminal state first
	}

Schema migrations are embedded in the neuroinsight-migrate binary and
applied by goose before the server starts; the store assumes a current
schema.

# Integration Points

  - pkg/backend: creates rows on submit, reads and syncs them on poll
  - pkg/executor: drives the guarded transitions as jobs run
  - pkg/results: reads rows to locate output trees
  - pkg/api: serves rows through the backend contract
*/
package store
