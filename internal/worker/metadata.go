package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tunesmith/api/internal/model"
	"github.com/tunesmith/api/internal/queue"
)

// MetadataBatchProcessor applies one metadata patch across many tracks.
// Unknown track ids are skipped and reported in the result; the job fails
// only when the store itself misbehaves or nothing could be updated.
type MetadataBatchProcessor struct {
	queue  *queue.Service
	logger *slog.Logger
}

// NewMetadataBatchProcessor creates the metadata batch processor.
func NewMetadataBatchProcessor(q *queue.Service, logger *slog.Logger) *MetadataBatchProcessor {
	return &MetadataBatchProcessor{
		queue:  q,
		logger: logger.With("component", "metadata_processor"),
	}
}

func (p *MetadataBatchProcessor) Process(ctx context.Context, job *model.Job) error {
	var req model.MetadataBatchRequest
	if err := json.Unmarshal(job.RequestData, &req); err != nil {
		return fmt.Errorf("bad request payload: %v", err)
	}

	updated := make([]string, 0, len(req.TrackIDs))
	for i, trackID := range req.TrackIDs {
		track, err := p.queue.GetTrack(ctx, trackID)
		if err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				p.logger.Warn("skipping unknown track", "job_id", job.ID, "track_id", trackID)
				continue
			}
			return err
		}

		merged := make(model.Metadata, len(track.Metadata)+len(req.Metadata))
		for k, v := range track.Metadata {
			merged[k] = v
		}
		for k, v := range req.Metadata {
			merged[k] = v
		}

		if _, err := p.queue.UpdateTrackMetadata(ctx, trackID, merged); err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				continue
			}
			return err
		}
		updated = append(updated, trackID)

		if pct := (i + 1) * 90 / len(req.TrackIDs); pct > 0 {
			p.progress(job.ID, pct, fmt.Sprintf("updated %d/%d tracks", i+1, len(req.TrackIDs)))
		}
	}

	if len(updated) == 0 {
		return fmt.Errorf("no tracks matched the batch")
	}

	payload, err := json.Marshal(model.MetadataBatchResult{Updated: updated})
	if err != nil {
		return fmt.Errorf("failed to encode result: %v", err)
	}
	if _, err := p.queue.Complete(ctx, job.ID, payload); err != nil {
		if errors.Is(err, queue.ErrConflict) {
			return nil
		}
		return err
	}
	return nil
}

func (p *MetadataBatchProcessor) progress(jobID string, pct int, msg string) {
	_, err := p.queue.UpdateProgress(context.Background(), jobID, pct, msg)
	if err != nil && !errors.Is(err, queue.ErrConflict) {
		p.logger.Warn("progress update failed", "job_id", jobID, "error", err)
	}
}
