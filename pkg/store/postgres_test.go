package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroinsight/neuroinsight/pkg/log"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db, "sqlmock"), mock
}

func TestCreateInsertsPendingRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := &types.Job{
		ID:             "11111111-2222-3333-4444-555555555555",
		BackendType:    "local",
		PipelineName:   "freesurfer_recon",
		ContainerImage: "freesurfer/freesurfer:7.4.1",
		InputFiles:     []string{"/tmp/T1.nii.gz"},
		Parameters:     map[string]any{"threads": 8},
		ExecutionMode:  types.ExecutionModePlugin,
		PluginID:       "freesurfer_recon",
	}
	require.NoError(t, s.Create(context.Background(), job))
	assert.Equal(t, types.JobStatusPending, job.Status)
	assert.False(t, job.SubmittedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProgressUsesGreatest(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE jobs\s+SET progress = GREATEST\(progress, \$2\), current_phase = \$3\s+WHERE id = \$1`).
		WithArgs("job-1", 50, "Running main loop").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpdateProgress(context.Background(), "job-1", 50, "Running main loop"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunningGuardsOnPending(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE jobs\s+SET status = 'running', started_at = NOW\(\)\s+WHERE id = \$1 AND status = 'pending'`).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkRunning(context.Background(), "job-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunningRejectsTerminalJob(t *testing.T) {
	s, mock := newMockStore(t)

	// Guard matches no row; the store then reads the row to decide whether
	// the job is missing or already past pending
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(jobRows("job-1", "cancelled"))

	err := s.MarkRunning(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunningMissingJob(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE jobs`).
		WithArgs("nope").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1`).
		WithArgs("nope").
		WillReturnRows(emptyJobRows())

	err := s.MarkRunning(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkCompletedSetsProgress100(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE jobs\s+SET status = 'completed', progress = 100, completed_at = NOW\(\), exit_code = \$2\s+WHERE id = \$1 AND status = 'running'`).
		WithArgs("job-1", 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkCompleted(context.Background(), "job-1", 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCancelledIsGuardedAgainstTerminal(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE jobs\s+SET status = 'cancelled', completed_at = NOW\(\)\s+WHERE id = \$1 AND status IN \('pending', 'running'\)`).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(jobRows("job-1", "completed"))

	err := s.MarkCancelled(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestGetDecodesJSONColumns(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(jobRows("job-1", "running"))

	job, err := s.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, job.Status)
	assert.Equal(t, []string{"/tmp/T1.nii.gz"}, job.InputFiles)
	assert.Equal(t, float64(8), job.Parameters["threads"])
}

func TestGetNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(emptyJobRows())

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSoftDelete(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE jobs\s+SET deleted = TRUE, deleted_at = NOW\(\)\s+WHERE id = \$1 AND deleted = FALSE`).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SoftDelete(context.Background(), "job-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func jobColumnsList() []string {
	return []string{
		"id", "backend_type", "backend_job_id", "pipeline_name", "container_image",
		"input_files", "parameters", "resources", "status", "progress", "current_phase",
		"submitted_at", "started_at", "completed_at", "output_dir", "exit_code",
		"error_message", "execution_mode", "plugin_id", "workflow_id", "deleted", "deleted_at",
	}
}

func jobRows(id, status string) *sqlmock.Rows {
	return sqlmock.NewRows(jobColumnsList()).AddRow(
		id, "local", nil, "freesurfer_recon", "freesurfer/freesurfer:7.4.1",
		[]byte(`["/tmp/T1.nii.gz"]`), []byte(`{"threads": 8}`), []byte(`{"cpus": 8}`),
		status, 10, "Skull stripping",
		time.Now(), nil, nil, "/data/outputs/"+id, nil,
		nil, "plugin", "freesurfer_recon", nil, false, nil,
	)
}

func emptyJobRows() *sqlmock.Rows {
	return sqlmock.NewRows(jobColumnsList())
}
