package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/tunesmith/api/internal/model"
	"github.com/tunesmith/api/internal/store"
)

// Track accessors. Tracks are created by the export coordinator; the queue
// service is the read/edit façade so no caller touches the store directly.

// GetTrack returns a track by id.
func (s *Service) GetTrack(ctx context.Context, id string) (*model.Track, error) {
	track, err := s.store.GetTrack(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: track %s", ErrNotFound, id)
		}
		return nil, s.unavailable("get track", err)
	}
	return track, nil
}

// ListTracks returns tracks ordered newest first, plus the total count.
func (s *Service) ListTracks(ctx context.Context, limit, offset int) ([]model.Track, int, error) {
	tracks, total, err := s.store.ListTracks(ctx, limit, offset)
	if err != nil {
		return nil, 0, s.unavailable("list tracks", err)
	}
	return tracks, total, nil
}

// UpdateTrackMetadata replaces a track's free-form metadata. The owning job
// is not touched.
func (s *Service) UpdateTrackMetadata(ctx context.Context, id string, md model.Metadata) (*model.Track, error) {
	track, err := s.store.UpdateTrackMetadata(ctx, id, md)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: track %s", ErrNotFound, id)
		}
		return nil, s.unavailable("update track metadata", err)
	}
	return track, nil
}
