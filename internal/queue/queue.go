package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tunesmith/api/internal/model"
	"github.com/tunesmith/api/internal/store"
)

// Notifier wakes workers after a job lands in the queue. The store row stays
// the single source of truth; a lost notification only delays pickup, it
// never loses work.
type Notifier interface {
	JobEnqueued(ctx context.Context, job *model.Job) error
}

// NopNotifier is used in tests and pull-only deployments.
type NopNotifier struct{}

func (NopNotifier) JobEnqueued(context.Context, *model.Job) error { return nil }

// Broadcaster fans job updates out to live subscribers. Implementations
// must not block; a slow subscriber is the hub's problem, not the queue's.
type Broadcaster interface {
	JobProgress(job *model.Job)
	JobDone(job *model.Job)
}

// NopBroadcaster drops all updates.
type NopBroadcaster struct{}

func (NopBroadcaster) JobProgress(*model.Job) {}
func (NopBroadcaster) JobDone(*model.Job)     {}

// Service owns the legality of job state transitions. Every mutation of a
// job row goes through here; the store only supplies atomic conditional
// writes, and this layer turns their zero-rows outcomes into typed errors.
type Service struct {
	store       store.Store
	notifier    Notifier
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewService creates the queue service.
func NewService(st store.Store, notifier Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		store:       st,
		notifier:    notifier,
		broadcaster: NopBroadcaster{},
		logger:      logger.With(slog.String("component", "queue")),
	}
}

// SetBroadcaster installs the live-update fan-out. Call before serving.
func (s *Service) SetBroadcaster(b Broadcaster) {
	if b != nil {
		s.broadcaster = b
	}
}

// Enqueue creates a queued job. Payload validation is the caller's concern;
// enqueue itself always succeeds unless the store or notifier is down.
func (s *Service) Enqueue(ctx context.Context, jobType model.JobType, requestData json.RawMessage, priority int) (*model.Job, error) {
	now := time.Now().UTC()
	job := &model.Job{
		ID:          uuid.New().String(),
		JobType:     jobType,
		Status:      model.JobStatusQueued,
		Progress:    0,
		Priority:    priority,
		RequestData: requestData,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, s.unavailable("create job", err)
	}
	s.recordEvent(ctx, job.ID, model.EventEnqueued, string(jobType))

	if err := s.notifier.JobEnqueued(ctx, job); err != nil {
		// A job nobody will ever pick up must not sit queued forever.
		s.logger.Error("notify failed, failing job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		if failed, ferr := s.store.CancelJob(ctx, job.ID, "queue unavailable"); ferr == nil {
			s.recordEvent(ctx, job.ID, model.EventFailed, "queue unavailable")
			_ = failed
		}
		return nil, fmt.Errorf("%w: enqueue notification: %v", ErrUnavailable, err)
	}

	s.logger.Info("job enqueued",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(jobType)),
		slog.Int("priority", priority),
	)
	return job, nil
}

// Get returns a job by id.
func (s *Service) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
		}
		return nil, s.unavailable("get job", err)
	}
	return job, nil
}

// List returns jobs matching the filter plus the unpaginated total.
func (s *Service) List(ctx context.Context, filter store.JobFilter) ([]model.Job, int, error) {
	jobs, total, err := s.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, 0, s.unavailable("list jobs", err)
	}
	return jobs, total, nil
}

// Claim transitions a specific queued job to processing for workerID.
// Exactly one concurrent caller can win; the rest get ErrConflict.
func (s *Service) Claim(ctx context.Context, id, workerID string) (*model.Job, error) {
	job, err := s.store.ClaimJob(ctx, id, workerID)
	if err == nil {
		s.recordEvent(ctx, id, model.EventClaimed, workerID)
		return job, nil
	}
	if !errors.Is(err, store.ErrNotUpdated) {
		return nil, s.unavailable("claim job", err)
	}
	return nil, s.classifyConflict(ctx, id, "claim")
}

// ClaimNext claims the highest-priority queued job among the given types,
// FIFO within a priority. Returns (nil, nil) when nothing is claimable.
func (s *Service) ClaimNext(ctx context.Context, types []model.JobType, workerID string) (*model.Job, error) {
	if len(types) == 0 {
		types = model.ValidJobTypes
	}
	job, err := s.store.ClaimNextJob(ctx, types, workerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, s.unavailable("claim next job", err)
	}
	s.recordEvent(ctx, job.ID, model.EventClaimed, workerID)
	return job, nil
}

// UpdateProgress records monotonic progress on a processing job. Regression
// and updates against non-processing jobs return ErrConflict.
func (s *Service) UpdateProgress(ctx context.Context, id string, progress int, message string) (*model.Job, error) {
	if progress < 0 || progress > 100 {
		return nil, fmt.Errorf("%w: progress %d out of range", ErrValidation, progress)
	}

	job, err := s.store.UpdateJobProgress(ctx, id, progress, message)
	if err == nil {
		s.recordEvent(ctx, id, model.EventProgress, fmt.Sprintf("%d%% %s", progress, message))
		s.broadcaster.JobProgress(job)
		return job, nil
	}
	if !errors.Is(err, store.ErrNotUpdated) {
		return nil, s.unavailable("update progress", err)
	}

	current, gerr := s.store.GetJob(ctx, id)
	if gerr != nil {
		if errors.Is(gerr, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
		}
		return nil, s.unavailable("update progress", gerr)
	}
	switch {
	case current.Status.IsTerminal():
		return nil, fmt.Errorf("%w: job %s is %s", ErrConflict, id, current.Status)
	case current.Status != model.JobStatusProcessing:
		return nil, fmt.Errorf("%w: job %s is not processing", ErrConflict, id)
	default:
		return nil, fmt.Errorf("%w: progress regression %d -> %d", ErrConflict, current.Progress, progress)
	}
}

// Complete transitions processing -> completed, writing result_data with the
// transition. A repeat call carrying an equivalent result payload is
// idempotent; any other repeat returns ErrConflict.
func (s *Service) Complete(ctx context.Context, id string, result json.RawMessage) (*model.Job, error) {
	job, err := s.store.CompleteJob(ctx, id, result)
	if err == nil {
		s.recordEvent(ctx, id, model.EventCompleted, "")
		s.broadcaster.JobDone(job)
		s.logger.Info("job completed", slog.String("job_id", id))
		return job, nil
	}
	if !errors.Is(err, store.ErrNotUpdated) {
		return nil, s.unavailable("complete job", err)
	}

	current, gerr := s.store.GetJob(ctx, id)
	if gerr != nil {
		if errors.Is(gerr, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
		}
		return nil, s.unavailable("complete job", gerr)
	}
	if current.Status == model.JobStatusCompleted && jsonEqual(current.ResultData, result) {
		return current, nil
	}
	return nil, fmt.Errorf("%w: job %s is %s", ErrConflict, id, current.Status)
}

// Fail transitions processing -> failed with the given error text.
func (s *Service) Fail(ctx context.Context, id, errMsg string) (*model.Job, error) {
	job, err := s.store.FailJob(ctx, id, errMsg)
	if err == nil {
		s.recordEvent(ctx, id, model.EventFailed, errMsg)
		s.broadcaster.JobDone(job)
		s.logger.Warn("job failed",
			slog.String("job_id", id),
			slog.String("error", errMsg),
		)
		return job, nil
	}
	if !errors.Is(err, store.ErrNotUpdated) {
		return nil, s.unavailable("fail job", err)
	}
	return nil, s.classifyConflict(ctx, id, "fail")
}

// Cancel transitions a still-queued job straight to failed. Jobs already
// claimed by a worker cannot be cancelled; they fall under the bridge's
// polling timeout instead.
func (s *Service) Cancel(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.store.CancelJob(ctx, id, "cancelled by client")
	if err == nil {
		s.recordEvent(ctx, id, model.EventCanceled, "")
		s.broadcaster.JobDone(job)
		return job, nil
	}
	if !errors.Is(err, store.ErrNotUpdated) {
		return nil, s.unavailable("cancel job", err)
	}
	return nil, s.classifyConflict(ctx, id, "cancel")
}

// Delete removes a terminal job. Active jobs return ErrConflict.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.DeleteJob(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotUpdated) {
		return s.unavailable("delete job", err)
	}
	return s.classifyConflict(ctx, id, "delete")
}

// Stats returns job counts by status, optionally narrowed to one type.
func (s *Service) Stats(ctx context.Context, jobType model.JobType) (*model.JobStats, error) {
	stats, err := s.store.JobStats(ctx, jobType)
	if err != nil {
		return nil, s.unavailable("job stats", err)
	}
	return stats, nil
}

// CleanupExpired reaps terminal jobs whose terminal transition is older than
// ttl. Queued and processing jobs are never reaped regardless of age.
func (s *Service) CleanupExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	count, err := s.store.DeleteExpiredJobs(ctx, cutoff)
	if err != nil {
		return 0, s.unavailable("cleanup expired jobs", err)
	}
	if count > 0 {
		s.logger.Info("expired jobs cleaned up", slog.Int("count", count))
	}
	return count, nil
}

// Events returns the audit trail for a job.
func (s *Service) Events(ctx context.Context, jobID string) ([]model.JobEvent, error) {
	if _, err := s.Get(ctx, jobID); err != nil {
		return nil, err
	}
	events, err := s.store.ListJobEvents(ctx, jobID)
	if err != nil {
		return nil, s.unavailable("list job events", err)
	}
	return events, nil
}

// SetRemoteID records the generation tier's task id against the job.
func (s *Service) SetRemoteID(ctx context.Context, id, remoteID string) error {
	if err := s.store.SetJobRemoteID(ctx, id, remoteID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: job %s", ErrNotFound, id)
		}
		return s.unavailable("set remote id", err)
	}
	return nil
}

// classifyConflict turns a zero-rows conditional write into NotFound or a
// precise Conflict based on the row's current state.
func (s *Service) classifyConflict(ctx context.Context, id, op string) error {
	current, err := s.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: job %s", ErrNotFound, id)
		}
		return s.unavailable(op, err)
	}
	return fmt.Errorf("%w: cannot %s job %s in status %s", ErrConflict, op, id, current.Status)
}

func (s *Service) recordEvent(ctx context.Context, jobID string, eventType model.EventType, message string) {
	event := &model.JobEvent{
		JobID:     jobID,
		EventType: eventType,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendJobEvent(ctx, event); err != nil {
		// Audit trail is best-effort; transitions must not fail on it.
		s.logger.Warn("failed to append job event",
			slog.String("job_id", jobID),
			slog.String("event", string(eventType)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) unavailable(op string, err error) error {
	s.logger.Error("store operation failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func jsonEqual(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var av, bv interface{}
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return false
	}
	ac, err1 := json.Marshal(av)
	bc, err2 := json.Marshal(bv)
	return err1 == nil && err2 == nil && bytes.Equal(ac, bc)
}
