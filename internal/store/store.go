package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tunesmith/api/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotUpdated is returned when a conditional write matched zero rows.
	// The queue layer classifies it (already claimed, terminal, regression).
	ErrNotUpdated = errors.New("no rows updated")
)

// JobFilter narrows ListJobs. Zero values mean "no filter".
type JobFilter struct {
	Status  model.JobStatus
	JobType model.JobType
	Limit   int
	Offset  int
}

// Store is durable persistence for jobs, tracks and job events. It enforces
// column-level constraints and row-transition atomicity only; the legality of
// state transitions is owned by the queue service on top of it.
//
// All conditional writes (Claim*, UpdateJobProgress, CompleteJob, FailJob,
// CancelJob, DeleteJob) are single atomic compare-and-set operations that
// return ErrNotUpdated when the row was not in the expected state.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, int, error)

	// ClaimJob transitions a specific queued job to processing.
	ClaimJob(ctx context.Context, id, workerID string) (*model.Job, error)

	// ClaimNextJob claims the highest-priority queued job of the given types,
	// ties broken by creation order. Returns ErrNotFound when the queue is
	// empty for those types.
	ClaimNextJob(ctx context.Context, types []model.JobType, workerID string) (*model.Job, error)

	// UpdateJobProgress sets progress/message on a processing job. The write
	// is conditional on status=processing and progress not regressing.
	UpdateJobProgress(ctx context.Context, id string, progress int, message string) (*model.Job, error)

	// CompleteJob transitions processing -> completed, writing result_data
	// atomically with the transition.
	CompleteJob(ctx context.Context, id string, result json.RawMessage) (*model.Job, error)

	// FailJob transitions processing -> failed, writing the error atomically.
	FailJob(ctx context.Context, id string, errMsg string) (*model.Job, error)

	// CancelJob transitions queued -> failed with a cancellation error.
	CancelJob(ctx context.Context, id string, errMsg string) (*model.Job, error)

	// SetJobRemoteID records the generation tier's own task identifier.
	SetJobRemoteID(ctx context.Context, id, remoteID string) error

	// DeleteJob removes a terminal job (and its events by cascade). Returns
	// ErrNotUpdated when the job exists but is still queued or processing.
	DeleteJob(ctx context.Context, id string) error

	// DeleteExpiredJobs removes terminal jobs whose terminal transition is
	// strictly older than cutoff. Active jobs are never touched.
	DeleteExpiredJobs(ctx context.Context, cutoff time.Time) (int, error)

	JobStats(ctx context.Context, jobType model.JobType) (*model.JobStats, error)

	// Events
	AppendJobEvent(ctx context.Context, event *model.JobEvent) error
	ListJobEvents(ctx context.Context, jobID string) ([]model.JobEvent, error)

	// Tracks
	CreateTrack(ctx context.Context, track *model.Track) error
	GetTrack(ctx context.Context, id string) (*model.Track, error)
	ListTracks(ctx context.Context, limit, offset int) ([]model.Track, int, error)
	UpdateTrackMetadata(ctx context.Context, id string, md model.Metadata) (*model.Track, error)

	Ping(ctx context.Context) error
	Close() error
}
