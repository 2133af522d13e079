package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tunesmith/api/internal/export"
	"github.com/tunesmith/api/internal/model"
	"github.com/tunesmith/api/internal/queue"
)

// LoopProcessor renders a seamless loop from an existing track. The heavy
// lifting happens in the audio service; this processor drives progress and
// settles the job.
type LoopProcessor struct {
	queue    *queue.Service
	exporter *export.Exporter
	logger   *slog.Logger
}

// NewLoopProcessor creates the loop processor.
func NewLoopProcessor(q *queue.Service, e *export.Exporter, logger *slog.Logger) *LoopProcessor {
	return &LoopProcessor{
		queue:    q,
		exporter: e,
		logger:   logger.With("component", "loop_processor"),
	}
}

func (p *LoopProcessor) Process(ctx context.Context, job *model.Job) error {
	var req model.LoopRequest
	if err := json.Unmarshal(job.RequestData, &req); err != nil {
		return fmt.Errorf("bad request payload: %v", err)
	}

	source, err := p.queue.GetTrack(ctx, req.TrackID)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return fmt.Errorf("source track %s not found", req.TrackID)
		}
		return err
	}

	p.progress(job.ID, 20, "rendering loop")

	result, err := p.exporter.ExportLoop(ctx, job, source, &req)
	if err != nil {
		return err
	}

	p.progress(job.ID, 95, model.StepExporting)

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %v", err)
	}
	if _, err := p.queue.Complete(ctx, job.ID, payload); err != nil {
		if errors.Is(err, queue.ErrConflict) {
			p.logger.Warn("discarding late loop result", "job_id", job.ID, "error", err)
			return nil
		}
		return err
	}
	return nil
}

func (p *LoopProcessor) progress(jobID string, pct int, step string) {
	_, err := p.queue.UpdateProgress(context.Background(), jobID, pct, step)
	if err != nil && !errors.Is(err, queue.ErrConflict) {
		p.logger.Warn("progress update failed", "job_id", jobID, "error", err)
	}
}
