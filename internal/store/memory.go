package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/tunesmith/api/internal/model"
)

// MemoryStore is an in-process Store with the same conditional-transition
// semantics as the Postgres implementation. It backs tests and local
// development runs where no database is available; it is not durable.
type MemoryStore struct {
	mu      sync.Mutex
	jobs    map[string]*model.Job
	tracks  map[string]*model.Track
	events  map[string][]model.JobEvent
	eventID int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*model.Job),
		tracks: make(map[string]*model.Track),
		events: make(map[string][]model.JobEvent),
	}
}

func cloneJob(j *model.Job) *model.Job {
	c := *j
	return &c
}

func cloneTrack(t *model.Track) *model.Track {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(model.Metadata, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func (s *MemoryStore) CreateJob(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]model.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []*model.Job{}
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.JobType != "" && job.JobType != filter.JobType {
			continue
		}
		matched = append(matched, job)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset > len(matched) {
		matched = nil
	} else {
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

	jobs := make([]model.Job, len(matched))
	for i, job := range matched {
		jobs[i] = *cloneJob(job)
	}
	return jobs, total, nil
}

func (s *MemoryStore) ClaimJob(_ context.Context, id, workerID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != model.JobStatusQueued {
		return nil, ErrNotUpdated
	}
	s.markClaimed(job, workerID)
	return cloneJob(job), nil
}

func (s *MemoryStore) ClaimNextJob(_ context.Context, types []model.JobType, workerID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *model.Job
	for _, job := range s.jobs {
		if job.Status != model.JobStatusQueued || !typeMatches(job.JobType, types) {
			continue
		}
		if best == nil ||
			job.Priority > best.Priority ||
			(job.Priority == best.Priority && job.CreatedAt.Before(best.CreatedAt)) {
			best = job
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	s.markClaimed(best, workerID)
	return cloneJob(best), nil
}

func typeMatches(t model.JobType, types []model.JobType) bool {
	for _, candidate := range types {
		if t == candidate {
			return true
		}
	}
	return false
}

func (s *MemoryStore) markClaimed(job *model.Job, workerID string) {
	now := time.Now().UTC()
	job.Status = model.JobStatusProcessing
	job.WorkerID = &workerID
	job.StartedAt = &now
	job.UpdatedAt = now
}

func (s *MemoryStore) UpdateJobProgress(_ context.Context, id string, progress int, message string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != model.JobStatusProcessing || job.Progress > progress {
		return nil, ErrNotUpdated
	}
	job.Progress = progress
	job.Message = message
	job.UpdatedAt = time.Now().UTC()
	return cloneJob(job), nil
}

func (s *MemoryStore) CompleteJob(_ context.Context, id string, result json.RawMessage) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != model.JobStatusProcessing {
		return nil, ErrNotUpdated
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusCompleted
	job.Progress = 100
	job.ResultData = append(json.RawMessage(nil), result...)
	job.WorkerID = nil
	job.CompletedAt = &now
	job.UpdatedAt = now
	return cloneJob(job), nil
}

func (s *MemoryStore) FailJob(_ context.Context, id string, errMsg string) (*model.Job, error) {
	return s.failFrom(id, errMsg, model.JobStatusProcessing)
}

func (s *MemoryStore) CancelJob(_ context.Context, id string, errMsg string) (*model.Job, error) {
	return s.failFrom(id, errMsg, model.JobStatusQueued)
}

func (s *MemoryStore) failFrom(id, errMsg string, from model.JobStatus) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != from {
		return nil, ErrNotUpdated
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusFailed
	job.Error = &errMsg
	job.WorkerID = nil
	job.CompletedAt = &now
	job.UpdatedAt = now
	return cloneJob(job), nil
}

func (s *MemoryStore) SetJobRemoteID(_ context.Context, id, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.RemoteID = &remoteID
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || !job.IsTerminal() {
		return ErrNotUpdated
	}
	delete(s.jobs, id)
	delete(s.events, id)
	return nil
}

func (s *MemoryStore) DeleteExpiredJobs(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, job := range s.jobs {
		if job.IsTerminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			delete(s.events, id)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) JobStats(_ context.Context, jobType model.JobType) (*model.JobStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &model.JobStats{}
	for _, job := range s.jobs {
		if jobType != "" && job.JobType != jobType {
			continue
		}
		switch job.Status {
		case model.JobStatusQueued:
			stats.Queued++
		case model.JobStatusProcessing:
			stats.Processing++
		case model.JobStatusCompleted:
			stats.Completed++
		case model.JobStatusFailed:
			stats.Failed++
		}
	}
	stats.Total = stats.Queued + stats.Processing + stats.Completed + stats.Failed
	stats.Active = stats.Queued + stats.Processing
	return stats, nil
}

func (s *MemoryStore) AppendJobEvent(_ context.Context, event *model.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventID++
	event.ID = s.eventID
	s.events[event.JobID] = append(s.events[event.JobID], *event)
	return nil
}

func (s *MemoryStore) ListJobEvents(_ context.Context, jobID string) ([]model.JobEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]model.JobEvent, len(s.events[jobID]))
	copy(events, s.events[jobID])
	return events, nil
}

func (s *MemoryStore) CreateTrack(_ context.Context, track *model.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[track.ID] = cloneTrack(track)
	return nil
}

func (s *MemoryStore) GetTrack(_ context.Context, id string) (*model.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	track, ok := s.tracks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTrack(track), nil
}

func (s *MemoryStore) ListTracks(_ context.Context, limit, offset int) ([]model.Track, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*model.Track, 0, len(s.tracks))
	for _, track := range s.tracks {
		all = append(all, track)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset > len(all) {
		all = nil
	} else {
		all = all[offset:]
	}
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	tracks := make([]model.Track, len(all))
	for i, track := range all {
		tracks[i] = *cloneTrack(track)
	}
	return tracks, total, nil
}

func (s *MemoryStore) UpdateTrackMetadata(_ context.Context, id string, md model.Metadata) (*model.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	track, ok := s.tracks[id]
	if !ok {
		return nil, ErrNotFound
	}
	track.Metadata = md
	track.UpdatedAt = time.Now().UTC()
	return cloneTrack(track), nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
