package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/neuroinsight/neuroinsight/pkg/log"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

// Task names understood by the executor
const (
	TaskRunDockerJob   = "run_docker_job"
	TaskRunWorkflowJob = "run_workflow_job"
	TaskPullImage      = "pull_docker_image"
)

const (
	pendingKey    = "neuroinsight:queue:pending"
	processingKey = "neuroinsight:queue:processing"
	revokedKey    = "neuroinsight:queue:revoked"
)

// ErrClosed is returned by Reserve after Close
var ErrClosed = errors.New("queue closed")

// Task is one durable unit of work
type Task struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	JobID      string         `json:"job_id,omitempty"`
	Spec       *types.JobSpec `json:"spec,omitempty"`
	Image      string         `json:"image,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// Reservation pairs a decoded task with the raw payload needed to ack it
type Reservation struct {
	Task Task
	raw  string
}

// Queue is a durable Redis-backed task queue
type Queue struct {
	rdb *redis.Client
}

// New connects to Redis
func New(addr, password string, db int) *Queue {
	return &Queue{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewWithClient wraps an existing client, used by tests
func NewWithClient(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue pushes a task onto the pending list. The task id is assigned when
// empty.
func (q *Queue) Enqueue(ctx context.Context, task Task) (string, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}
	if err := q.rdb.LPush(ctx, pendingKey, payload).Err(); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", task.Name, err)
	}
	log.WithComponent("queue").Debug().
		Str("task", task.Name).
		Str("task_id", task.ID).
		Str("job_id", task.JobID).
		Msg("task enqueued")
	return task.ID, nil
}

// Reserve blocks up to timeout for a task, moving it to the processing list.
// Returns nil when the timeout elapses with no work.
func (q *Queue) Reserve(ctx context.Context, timeout time.Duration) (*Reservation, error) {
	raw, err := q.rdb.BLMove(ctx, pendingKey, processingKey, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reserve task: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		// Undecodable payloads are dropped, not redelivered forever
		_ = q.rdb.LRem(ctx, processingKey, 1, raw).Err()
		return nil, fmt.Errorf("decode task payload: %w", err)
	}
	return &Reservation{Task: task, raw: raw}, nil
}

// Ack removes a reserved task from the processing list
func (q *Queue) Ack(ctx context.Context, r *Reservation) error {
	if err := q.rdb.LRem(ctx, processingKey, 1, r.raw).Err(); err != nil {
		return fmt.Errorf("ack task %s: %w", r.Task.ID, err)
	}
	return nil
}

// Requeue returns a reserved task to the pending list for redelivery
func (q *Queue) Requeue(ctx context.Context, r *Reservation) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, processingKey, 1, r.raw)
	pipe.LPush(ctx, pendingKey, r.raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue task %s: %w", r.Task.ID, err)
	}
	return nil
}

// RecoverStale moves every processing entry back to pending. Called once at
// worker startup to redeliver tasks lost to a crashed worker.
func (q *Queue) RecoverStale(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := q.rdb.LMove(ctx, processingKey, pendingKey, "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover stale tasks: %w", err)
		}
		n++
	}
}

// Revoke marks a job's queued work as cancelled before a worker picks it up
func (q *Queue) Revoke(ctx context.Context, jobID string) error {
	if err := q.rdb.SAdd(ctx, revokedKey, jobID).Err(); err != nil {
		return fmt.Errorf("revoke job %s: %w", jobID, err)
	}
	return nil
}

// IsRevoked checks and clears the revocation flag for a job
func (q *Queue) IsRevoked(ctx context.Context, jobID string) (bool, error) {
	n, err := q.rdb.SRem(ctx, revokedKey, jobID).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation for %s: %w", jobID, err)
	}
	return n > 0, nil
}

// Depth returns the pending and processing list lengths
func (q *Queue) Depth(ctx context.Context) (pending, processing int64, err error) {
	pending, err = q.rdb.LLen(ctx, pendingKey).Result()
	if err != nil {
		return 0, 0, err
	}
	processing, err = q.rdb.LLen(ctx, processingKey).Result()
	return pending, processing, err
}

// Health pings Redis
func (q *Queue) Health(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Close releases the Redis client
func (q *Queue) Close() error {
	return q.rdb.Close()
}
