package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/tunesmith/api/internal/config"
	"github.com/tunesmith/api/internal/model"
)

// TypeJobProcess is the asynq task type carrying a job id to a worker.
const TypeJobProcess = "job:process"

// taskPayload is the wire form of a work notification. Only the id is
// authoritative; the worker re-reads the row before doing anything.
type taskPayload struct {
	JobID   string        `json:"jobId"`
	JobType model.JobType `json:"jobType"`
}

// AsynqNotifier implements queue.Notifier by enqueuing an asynq task per
// job. Retry is disabled: a claim that loses the race or finds the job
// settled is final, and abandoned jobs are the cleanup reaper's business.
type AsynqNotifier struct {
	client *asynq.Client
}

// NewAsynqNotifier creates a notifier against the given Redis instance.
func NewAsynqNotifier(cfg *config.RedisConfig) *AsynqNotifier {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &AsynqNotifier{client: client}
}

// JobEnqueued publishes a work notification for the job.
func (n *AsynqNotifier) JobEnqueued(ctx context.Context, job *model.Job) error {
	payload, err := json.Marshal(taskPayload{JobID: job.ID, JobType: job.JobType})
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(TypeJobProcess, payload)
	if _, err := n.client.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (n *AsynqNotifier) Close() error {
	return n.client.Close()
}
