package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/neuroinsight/neuroinsight/pkg/log"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

// jobRow is the scan target for the jobs table; JSON columns are decoded
// into the richer types.Job shape by toJob
type jobRow struct {
	ID             string         `db:"id"`
	BackendType    string         `db:"backend_type"`
	BackendJobID   sql.NullString `db:"backend_job_id"`
	PipelineName   string         `db:"pipeline_name"`
	ContainerImage string         `db:"container_image"`
	InputFiles     []byte         `db:"input_files"`
	Parameters     []byte         `db:"parameters"`
	Resources      []byte         `db:"resources"`
	Status         string         `db:"status"`
	Progress       int            `db:"progress"`
	CurrentPhase   sql.NullString `db:"current_phase"`
	SubmittedAt    time.Time      `db:"submitted_at"`
	StartedAt      sql.NullTime   `db:"started_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
	OutputDir      sql.NullString `db:"output_dir"`
	ExitCode       sql.NullInt64  `db:"exit_code"`
	ErrorMessage   sql.NullString `db:"error_message"`
	ExecutionMode  string         `db:"execution_mode"`
	PluginID       sql.NullString `db:"plugin_id"`
	WorkflowID     sql.NullString `db:"workflow_id"`
	Deleted        bool           `db:"deleted"`
	DeletedAt      sql.NullTime   `db:"deleted_at"`
}

const jobColumns = `id, backend_type, backend_job_id, pipeline_name, container_image,
	input_files, parameters, resources, status, progress, current_phase,
	submitted_at, started_at, completed_at, output_dir, exit_code,
	error_message, execution_mode, plugin_id, workflow_id, deleted, deleted_at`

// PostgresStore implements Store over PostgreSQL via sqlx and the pgx
// database/sql driver
type PostgresStore struct {
	db *sqlx.DB
}

// New opens a connection pool against the given DSN
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an existing connection, used by tests
func NewWithDB(db *sql.DB, driverName string) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(db, driverName)}
}

// Create inserts a new pending job row
func (s *PostgresStore) Create(ctx context.Context, job *types.Job) error {
	inputs, err := json.Marshal(job.InputFiles)
	if err != nil {
		return fmt.Errorf("marshal input_files: %w", err)
	}
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	resources, err := json.Marshal(job.Resources)
	if err != nil {
		return fmt.Errorf("marshal resources: %w", err)
	}

	if job.Status == "" {
		job.Status = types.JobStatusPending
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, backend_type, backend_job_id, pipeline_name, container_image,
			input_files, parameters, resources, status, progress, current_phase,
			submitted_at, output_dir, execution_mode, plugin_id, workflow_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		job.ID, job.BackendType, job.BackendJobID, job.PipelineName, job.ContainerImage,
		inputs, params, resources, string(job.Status), job.Progress, job.CurrentPhase,
		job.SubmittedAt, job.OutputDir, string(job.ExecutionMode), job.PluginID, job.WorkflowID,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	log.WithJobID(job.ID).Debug().Str("pipeline", job.PipelineName).Msg("job row created")
	return nil
}

// Get returns one job by id, including soft-deleted rows
func (s *PostgresStore) Get(ctx context.Context, id string) (*types.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return toJob(&row)
}

// List returns non-deleted jobs, optionally filtered by status, newest first
func (s *PostgresStore) List(ctx context.Context, status types.JobStatus, limit int) ([]*types.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []jobRow
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT `+jobColumns+` FROM jobs
			 WHERE deleted = FALSE
			 ORDER BY submitted_at DESC LIMIT $1`, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT `+jobColumns+` FROM jobs
			 WHERE deleted = FALSE AND status = $1
			 ORDER BY submitted_at DESC LIMIT $2`, string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return toJobs(rows)
}

// ListActive returns all pending and running jobs
func (s *PostgresStore) ListActive(ctx context.Context) ([]*types.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE deleted = FALSE AND status IN ('pending', 'running')
		 ORDER BY submitted_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	return toJobs(rows)
}

// UpdateProgress commits monotone progress; GREATEST keeps concurrent or
// out-of-order updates from moving progress backwards
func (s *PostgresStore) UpdateProgress(ctx context.Context, id string, progress int, phase string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET progress = GREATEST(progress, $2), current_phase = $3
		WHERE id = $1`, id, progress, phase)
	if err != nil {
		return fmt.Errorf("update progress for %s: %w", id, err)
	}
	return checkFound(res, id)
}

// SetBackendJobID records the backend's own identifier for the job
func (s *PostgresStore) SetBackendJobID(ctx context.Context, id, backendJobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET backend_job_id = $2 WHERE id = $1`, id, backendJobID)
	if err != nil {
		return fmt.Errorf("set backend job id for %s: %w", id, err)
	}
	return checkFound(res, id)
}

// MarkRunning transitions pending → running
func (s *PostgresStore) MarkRunning(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'running', started_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("mark running %s: %w", id, err)
	}
	return checkTransition(ctx, s, res, id)
}

// MarkCompleted transitions running → completed with exit code 0
func (s *PostgresStore) MarkCompleted(ctx context.Context, id string, exitCode int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed', progress = 100, completed_at = NOW(), exit_code = $2
		WHERE id = $1 AND status = 'running'`, id, exitCode)
	if err != nil {
		return fmt.Errorf("mark completed %s: %w", id, err)
	}
	return checkTransition(ctx, s, res, id)
}

// MarkFailed transitions pending|running → failed
func (s *PostgresStore) MarkFailed(ctx context.Context, id string, exitCode *int, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', completed_at = NOW(), exit_code = $2, error_message = $3
		WHERE id = $1 AND status IN ('pending', 'running')`, id, exitCode, errorMessage)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	return checkTransition(ctx, s, res, id)
}

// MarkCancelled transitions pending|running → cancelled
func (s *PostgresStore) MarkCancelled(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'cancelled', completed_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')`, id)
	if err != nil {
		return fmt.Errorf("mark cancelled %s: %w", id, err)
	}
	return checkTransition(ctx, s, res, id)
}

// SoftDelete flags the row; rows are never removed
func (s *PostgresStore) SoftDelete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET deleted = TRUE, deleted_at = NOW()
		WHERE id = $1 AND deleted = FALSE`, id)
	if err != nil {
		return fmt.Errorf("soft delete %s: %w", id, err)
	}
	return checkFound(res, id)
}

// Health pings the database
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// checkTransition distinguishes "row missing" from "guard did not match"
func checkTransition(ctx context.Context, s *PostgresStore, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s", ErrInvalidTransition, id)
}

func checkFound(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func toJob(row *jobRow) (*types.Job, error) {
	job := &types.Job{
		ID:             row.ID,
		BackendType:    row.BackendType,
		PipelineName:   row.PipelineName,
		ContainerImage: row.ContainerImage,
		Status:         types.JobStatus(row.Status),
		Progress:       row.Progress,
		CurrentPhase:   row.CurrentPhase.String,
		SubmittedAt:    row.SubmittedAt,
		OutputDir:      row.OutputDir.String,
		ErrorMessage:   row.ErrorMessage.String,
		ExecutionMode:  types.ExecutionMode(row.ExecutionMode),
		PluginID:       row.PluginID.String,
		WorkflowID:     row.WorkflowID.String,
		Deleted:        row.Deleted,
	}
	if row.BackendJobID.Valid {
		v := row.BackendJobID.String
		job.BackendJobID = &v
	}
	if row.StartedAt.Valid {
		t := row.StartedAt.Time
		job.StartedAt = &t
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		job.CompletedAt = &t
	}
	if row.DeletedAt.Valid {
		t := row.DeletedAt.Time
		job.DeletedAt = &t
	}
	if row.ExitCode.Valid {
		v := int(row.ExitCode.Int64)
		job.ExitCode = &v
	}
	if len(row.InputFiles) > 0 {
		if err := json.Unmarshal(row.InputFiles, &job.InputFiles); err != nil {
			return nil, fmt.Errorf("decode input_files for %s: %w", row.ID, err)
		}
	}
	if len(row.Parameters) > 0 {
		if err := json.Unmarshal(row.Parameters, &job.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters for %s: %w", row.ID, err)
		}
	}
	if len(row.Resources) > 0 {
		if err := json.Unmarshal(row.Resources, &job.Resources); err != nil {
			return nil, fmt.Errorf("decode resources for %s: %w", row.ID, err)
		}
	}
	return job, nil
}

func toJobs(rows []jobRow) ([]*types.Job, error) {
	out := make([]*types.Job, 0, len(rows))
	for i := range rows {
		job, err := toJob(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}
