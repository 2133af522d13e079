package model

// Job status is the closed set persisted in the store. Anything finer-grained
// (model loading, prompt prep, export) travels in the job message, not here.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

var ValidStatuses = []JobStatus{
	JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed,
}

// IsTerminal reports whether no further transitions are permitted.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsValid reports whether s is one of the closed status set.
func (s JobStatus) IsValid() bool {
	for _, v := range ValidStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Job types
type JobType string

const (
	JobTypeGeneration    JobType = "generation"
	JobTypeLoop          JobType = "loop"
	JobTypeMetadataBatch JobType = "metadata_batch"
)

var ValidJobTypes = []JobType{
	JobTypeGeneration, JobTypeLoop, JobTypeMetadataBatch,
}

// IsValid reports whether t is a known job type.
func (t JobType) IsValid() bool {
	for _, v := range ValidJobTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Processing step labels carried in the job message while status=processing.
const (
	StepSubmitting      = "submitting"
	StepLoadingModel    = "loading_model"
	StepPreparingPrompt = "preparing_prompt"
	StepGenerating      = "generating"
	StepExporting       = "exporting"
)

// Job event types for the audit trail
type EventType string

const (
	EventEnqueued  EventType = "enqueued"
	EventClaimed   EventType = "claimed"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCanceled  EventType = "canceled"
)

// Audio formats produced by the export step
type AudioFormat string

const (
	FormatWAV AudioFormat = "wav"
	FormatMP3 AudioFormat = "mp3"
)
