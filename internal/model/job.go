package model

import (
	"encoding/json"
	"time"
)

// Job is one unit of asynchronous work tracked through the queue state machine.
// Payloads are stored as raw JSON: RequestData is immutable after creation,
// ResultData is written exactly once at completion.
type Job struct {
	ID          string          `db:"id" json:"id"`
	JobType     JobType         `db:"job_type" json:"jobType"`
	Status      JobStatus       `db:"status" json:"status"`
	Progress    int             `db:"progress" json:"progress"`
	Priority    int             `db:"priority" json:"priority"`
	RequestData json.RawMessage `db:"request_data" json:"requestData,omitempty"`
	ResultData  json.RawMessage `db:"result_data" json:"resultData,omitempty"`
	Message     string          `db:"message" json:"message,omitempty"`
	Error       *string         `db:"error" json:"error,omitempty"`
	WorkerID    *string         `db:"worker_id" json:"workerId,omitempty"`
	RemoteID    *string         `db:"remote_id" json:"remoteId,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updatedAt"`
	StartedAt   *time.Time      `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
}

// IsTerminal reports whether the job reached completed or failed.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// IsActive reports whether the job is queued or being processed.
func (j *Job) IsActive() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusProcessing
}

// JobEvent is one append-only audit record for a job. Events are never
// mutated and are removed only by cascade when the job is deleted.
type JobEvent struct {
	ID        int64     `db:"id" json:"id"`
	JobID     string    `db:"job_id" json:"jobId"`
	EventType EventType `db:"event_type" json:"eventType"`
	Message   string    `db:"message" json:"message,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// GenerationResult is the result_data payload written by a completed
// generation job. It references the Track the export step produced.
type GenerationResult struct {
	TrackID  string  `json:"trackId"`
	AudioURL string  `json:"audioUrl"`
	WAVPath  string  `json:"wavPath"`
	MP3Path  string  `json:"mp3Path"`
	Duration float64 `json:"duration"`
}

// LoopResult is the result_data payload written by a completed loop job.
type LoopResult struct {
	TrackID    string      `json:"trackId"`
	SourceID   string      `json:"sourceTrackId"`
	Format     AudioFormat `json:"format"`
	FilePath   string      `json:"filePath"`
	Duration   float64     `json:"duration"`
	FadeInOut  bool        `json:"fadeInOut"`
}

// MetadataBatchResult is the result_data payload for a metadata batch job.
type MetadataBatchResult struct {
	Updated []string `json:"updated"`
}
