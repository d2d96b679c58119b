package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroinsight/neuroinsight/pkg/log"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	q := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestEnqueueReserveAck(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	spec := &types.JobSpec{
		PipelineName:   "freesurfer_recon",
		ContainerImage: "freesurfer/freesurfer:7.4.1",
		ExecutionMode:  types.ExecutionModePlugin,
	}
	id, err := q.Enqueue(ctx, Task{Name: TaskRunDockerJob, JobID: "job-1", Spec: spec})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	res, err := q.Reserve(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, TaskRunDockerJob, res.Task.Name)
	assert.Equal(t, "job-1", res.Task.JobID)
	require.NotNil(t, res.Task.Spec)
	assert.Equal(t, "freesurfer_recon", res.Task.Spec.PipelineName)

	// Reserved work sits in processing until acked
	pending, processing, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, pending)
	assert.EqualValues(t, 1, processing)

	require.NoError(t, q.Ack(ctx, res))
	_, processing, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, processing)
}

func TestReserveTimesOutEmpty(t *testing.T) {
	q := newTestQueue(t)

	res, err := q.Reserve(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestReserveIsFIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Task{Name: TaskRunDockerJob, JobID: "first"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Task{Name: TaskRunDockerJob, JobID: "second"})
	require.NoError(t, err)

	res, err := q.Reserve(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "first", res.Task.JobID)
}

func TestRequeueRedeliversTask(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Task{Name: TaskRunDockerJob, JobID: "job-1"})
	require.NoError(t, err)

	res, err := q.Reserve(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, q.Requeue(ctx, res))

	redelivered, err := q.Reserve(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, res.Task.ID, redelivered.Task.ID)
}

func TestRecoverStale(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	for _, jobID := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, Task{Name: TaskRunDockerJob, JobID: jobID})
		require.NoError(t, err)
	}
	// Reserve two without acking, simulating a worker that died mid-job
	_, err := q.Reserve(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	_, err = q.Reserve(ctx, 100*time.Millisecond)
	require.NoError(t, err)

	n, err := q.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, processing, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, pending)
	assert.EqualValues(t, 0, processing)
}

func TestRevokeIsConsumedOnce(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Revoke(ctx, "job-1"))

	revoked, err := q.IsRevoked(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// The flag is cleared by the first check
	revoked, err = q.IsRevoked(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	revoked, err = q.IsRevoked(ctx, "never-revoked")
	require.NoError(t, err)
	assert.False(t, revoked)
}
