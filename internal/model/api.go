package model

import (
	"encoding/json"
	"time"
)

// JobCreateRequest is the body of POST /api/jobs.
type JobCreateRequest struct {
	JobType     JobType         `json:"jobType" validate:"required,oneof=generation loop metadata_batch"`
	RequestData json.RawMessage `json:"requestData" validate:"required"`
	Priority    int             `json:"priority" validate:"omitempty,min=0,max=100"`
}

// GenerationRequest is the request_data payload for generation jobs.
type GenerationRequest struct {
	Prompt          string `json:"prompt" validate:"required,min=1,max=2000"`
	DurationSeconds int    `json:"durationSeconds" validate:"omitempty,min=10,max=300"`
	Language        string `json:"language" validate:"omitempty,oneof=en ru"`
	Genre           string `json:"genre" validate:"omitempty,max=64"`
	Mood            string `json:"mood" validate:"omitempty,max=64"`
}

// LoopRequest is the request_data payload for loop jobs.
type LoopRequest struct {
	TrackID         string      `json:"trackId" validate:"required,uuid"`
	DurationSeconds int         `json:"durationSeconds" validate:"required,min=5,max=600"`
	FadeInOut       bool        `json:"fadeInOut"`
	Format          AudioFormat `json:"format" validate:"omitempty,oneof=wav mp3"`
}

// MetadataBatchRequest is the request_data payload for metadata batch jobs.
type MetadataBatchRequest struct {
	TrackIDs []string `json:"trackIds" validate:"required,min=1,max=100,dive,uuid"`
	Metadata Metadata `json:"metadata" validate:"required"`
}

// ProgressUpdateRequest is the body of POST /api/jobs/:id/progress.
type ProgressUpdateRequest struct {
	Progress int    `json:"progress" validate:"min=0,max=100"`
	Message  string `json:"message" validate:"omitempty,max=500"`
}

// MetadataPatchRequest is the body of PATCH /api/tracks/:id/metadata.
type MetadataPatchRequest struct {
	Metadata Metadata `json:"metadata" validate:"required"`
}

// Pagination echoes the window of a list response.
type Pagination struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// JobListResponse is the body of GET /api/jobs.
type JobListResponse struct {
	Jobs       []Job      `json:"jobs"`
	Pagination Pagination `json:"pagination"`
}

// TrackListResponse is the body of GET /api/tracks.
type TrackListResponse struct {
	Tracks     []Track    `json:"tracks"`
	Pagination Pagination `json:"pagination"`
}

// JobStats counts jobs by status, with derived totals.
type JobStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
	Active     int `json:"active"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Checks    map[string]bool `json:"checks"`
	Timestamp time.Time       `json:"timestamp"`
}
