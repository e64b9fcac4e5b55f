// Package syncqueue hands freshly connected shops to the external sync
// workers. Only the producer side lives here.
package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// Redis key prefixes shared with the sync workers
	JobKeyPrefix = "sync_job:"
	JobQueueKey  = "sync_job_queue"
	JobStatsKey  = "sync_job_stats"

	JobTTL = 24 * time.Hour
)

type JobType string

const JobTypeInitialSync JobType = "initial_sync"

type JobStatus string

const JobStatusPending JobStatus = "pending"

// Job is the record the sync workers pop. It never carries token material;
// workers fetch a token through the internal token endpoint.
type Job struct {
	ID           string    `json:"id"`
	Type         JobType   `json:"type"`
	Status       JobStatus `json:"status"`
	UserID       uint      `json:"user_id"`
	Provider     string    `json:"provider"`
	ExternalID   string    `json:"external_id"`
	CreatedAt    time.Time `json:"created_at"`
	EnqueuedFrom string    `json:"enqueued_from,omitempty"`
}

// Enqueuer is what the connect flow needs from the queue.
type Enqueuer interface {
	EnqueueInitialSync(ctx context.Context, userID uint, provider, externalID string) (*Job, error)
}

type Queue struct {
	client redis.UniversalClient
	log    *zap.Logger
}

var _ Enqueuer = (*Queue)(nil)

func NewQueue(client redis.UniversalClient, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{client: client, log: log}
}

// EnqueueInitialSync stores the job and pushes its id in one pipeline.
func (q *Queue) EnqueueInitialSync(ctx context.Context, userID uint, provider, externalID string) (*Job, error) {
	job := &Job{
		ID:           uuid.New().String(),
		Type:         JobTypeInitialSync,
		Status:       JobStatusPending,
		UserID:       userID,
		Provider:     provider,
		ExternalID:   externalID,
		CreatedAt:    time.Now().UTC(),
		EnqueuedFrom: "connect",
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL)
	pipe.LPush(ctx, JobQueueKey, job.ID)
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.log.Info("sync_job_enqueued", zap.String("job_id", job.ID), zap.String("provider", provider), zap.Uint("user_id", userID))
	return job, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	data, err := q.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// QueueSize returns the number of jobs not yet picked up.
func (q *Queue) QueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobQueueKey).Result()
}
