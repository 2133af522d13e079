package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/tunesmith/api/internal/model"
	"github.com/tunesmith/api/internal/queue"
)

// Processor runs one claimed job of a single type to a terminal state.
// Implementations settle the job themselves through the queue service.
type Processor interface {
	Process(ctx context.Context, job *model.Job) error
}

// Dispatcher claims notified jobs and routes them by type. Claiming is
// the only race: whichever worker wins the conditional update owns the
// job, every other notification for it becomes a no-op.
type Dispatcher struct {
	queue      *queue.Service
	processors map[model.JobType]Processor
	workerID   string
	logger     *slog.Logger
}

// NewDispatcher creates an empty dispatcher for workerID.
func NewDispatcher(q *queue.Service, workerID string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:      q,
		processors: make(map[model.JobType]Processor),
		workerID:   workerID,
		logger:     logger.With("component", "worker", "worker_id", workerID),
	}
}

// Register binds a processor to a job type. Later registrations replace
// earlier ones.
func (d *Dispatcher) Register(jobType model.JobType, p Processor) {
	d.processors[jobType] = p
}

// ProcessTask handles one work notification: claim the job, then hand it
// to the processor for its type.
func (d *Dispatcher) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload taskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	job, err := d.queue.Claim(ctx, payload.JobID, d.workerID)
	if err != nil {
		// Lost the claim race, or the job was canceled before pickup.
		// Either way the notification is spent.
		if errors.Is(err, queue.ErrConflict) || errors.Is(err, queue.ErrNotFound) {
			d.logger.Debug("skipping unclaimable job", "job_id", payload.JobID, "error", err)
			return nil
		}
		return err
	}

	proc, ok := d.processors[job.JobType]
	if !ok {
		d.failJob(job.ID, fmt.Sprintf("no processor for job type %s", job.JobType))
		return nil
	}

	d.logger.Info("processing job", "job_id", job.ID, "job_type", job.JobType)
	if err := proc.Process(ctx, job); err != nil {
		d.failJob(job.ID, err.Error())
	}
	return nil
}

// failJob settles a job whose processor gave up without writing a
// terminal state itself.
func (d *Dispatcher) failJob(jobID, msg string) {
	_, err := d.queue.Fail(context.Background(), jobID, msg)
	if err != nil && !errors.Is(err, queue.ErrConflict) && !errors.Is(err, queue.ErrNotFound) {
		d.logger.Error("failed to mark job failed", "job_id", jobID, "error", err)
	}
}

// Mux returns an asynq mux with the dispatcher mounted.
func (d *Dispatcher) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeJobProcess, d.ProcessTask)
	return mux
}
