package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tunesmith/api/internal/client"
	"github.com/tunesmith/api/internal/config"
	"github.com/tunesmith/api/internal/model"
	"github.com/tunesmith/api/internal/queue"
)

// GenerationExporter turns a finished remote task into a Track and the
// result payload. Implemented by export.Exporter.
type GenerationExporter interface {
	ExportGeneration(ctx context.Context, job *model.Job, remote *client.StatusResult) (*model.GenerationResult, error)
}

// phase is the bridge's per-job state. Exactly one phase is live at a
// time; the run loop is a straight walk from submitting to done.
type phase int

const (
	phaseSubmitting phase = iota
	phasePolling
	phaseDone
)

// Bridge drives one claimed generation job against the generation tier:
// submit, poll until terminal, export, then write the job's terminal
// state. Every terminal write goes through the queue's conditional
// transitions, so a job canceled or failed elsewhere makes the bridge's
// late result a no-op.
type Bridge struct {
	queue         *queue.Service
	generator     client.MusicGenerator
	exporter      GenerationExporter
	pollInterval  time.Duration
	timeout       time.Duration
	maxPollErrors int
	logger        *slog.Logger
}

// New creates a Bridge with the given poll policy.
func New(q *queue.Service, gen client.MusicGenerator, exp GenerationExporter, cfg *config.BridgeConfig, logger *slog.Logger) *Bridge {
	return &Bridge{
		queue:         q,
		generator:     gen,
		exporter:      exp,
		pollInterval:  time.Duration(cfg.PollInterval) * time.Second,
		timeout:       time.Duration(cfg.Timeout) * time.Second,
		maxPollErrors: cfg.MaxPollErrors,
		logger:        logger.With("component", "bridge"),
	}
}

// Run processes a claimed generation job to a terminal state. The bridge
// settles the job itself, so errors surface on the job row rather than to
// the caller.
func (b *Bridge) Run(ctx context.Context, job *model.Job) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var (
		state    = phaseSubmitting
		remoteID string
		errs     int
	)

	for state != phaseDone {
		switch state {
		case phaseSubmitting:
			id, err := b.submit(ctx, job)
			if err != nil {
				b.fail(job.ID, fmt.Sprintf("submit failed: %v", err))
				return nil
			}
			remoteID = id
			state = phasePolling

		case phasePolling:
			status, err := b.generator.Status(ctx, remoteID)
			if err != nil {
				if ctx.Err() != nil {
					b.fail(job.ID, b.timeoutMessage(ctx))
					return nil
				}
				errs++
				b.logger.Warn("poll failed",
					"job_id", job.ID, "remote_id", remoteID, "consecutive", errs, "error", err)
				if errs >= b.maxPollErrors {
					b.fail(job.ID, fmt.Sprintf("generator unreachable after %d polls: %v", errs, err))
					return nil
				}
				// Back off: 1<<errs keeps transient blips cheap without
				// hammering a struggling generator.
				if !b.sleep(ctx, b.pollInterval*time.Duration(1<<errs)) {
					b.fail(job.ID, b.timeoutMessage(ctx))
					return nil
				}
				continue
			}
			errs = 0

			if status.Terminal() {
				b.finish(ctx, job, status)
				state = phaseDone
				continue
			}

			b.reportProgress(job.ID, status)
			if !b.sleep(ctx, b.pollInterval) {
				b.fail(job.ID, b.timeoutMessage(ctx))
				return nil
			}
		}
	}
	return nil
}

// submit parses the request payload, hands it to the generator, and
// records the remote task id on the job.
func (b *Bridge) submit(ctx context.Context, job *model.Job) (string, error) {
	b.progress(job.ID, 5, model.StepSubmitting)

	var req model.GenerationRequest
	if err := json.Unmarshal(job.RequestData, &req); err != nil {
		return "", fmt.Errorf("bad request payload: %w", err)
	}

	resp, err := b.generator.Submit(ctx, &client.GenerateRequest{
		Prompt:          req.Prompt,
		DurationSeconds: req.DurationSeconds,
		Language:        req.Language,
		Genre:           req.Genre,
		Mood:            req.Mood,
	})
	if err != nil {
		return "", err
	}

	if err := b.queue.SetRemoteID(ctx, job.ID, resp.TaskID); err != nil {
		return "", fmt.Errorf("failed to record remote id: %w", err)
	}

	b.logger.Info("submitted to generator", "job_id", job.ID, "remote_id", resp.TaskID)
	return resp.TaskID, nil
}

// finish maps a terminal remote status onto the job: export then complete
// on success, fail otherwise. Conflicts mean another actor already settled
// the job, so the remote result is discarded.
func (b *Bridge) finish(ctx context.Context, job *model.Job, status *client.StatusResult) {
	if status.Status == client.RemoteStatusFailed {
		msg := status.Error
		if msg == "" {
			msg = "generation failed"
		}
		b.fail(job.ID, msg)
		return
	}

	b.progress(job.ID, 95, model.StepExporting)

	result, err := b.exporter.ExportGeneration(ctx, job, status)
	if err != nil {
		b.fail(job.ID, fmt.Sprintf("export failed: %v", err))
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		b.fail(job.ID, fmt.Sprintf("failed to encode result: %v", err))
		return
	}

	if _, err := b.queue.Complete(context.WithoutCancel(ctx), job.ID, payload); err != nil {
		if errors.Is(err, queue.ErrConflict) || errors.Is(err, queue.ErrNotFound) {
			b.logger.Warn("discarding late result", "job_id", job.ID, "error", err)
			return
		}
		b.logger.Error("failed to complete job", "job_id", job.ID, "error", err)
	}
}

// reportProgress scales remote progress into the job's generation band.
// The submit and export edges own the ends of the range.
func (b *Bridge) reportProgress(jobID string, status *client.StatusResult) {
	p := status.Progress
	if p < 10 {
		p = 10
	}
	if p > 90 {
		p = 90
	}
	b.progress(jobID, p, model.StepGenerating)
}

// progress is best-effort: regression conflicts are expected when the
// remote tier restarts a task, and they must not stop the poll loop.
func (b *Bridge) progress(jobID string, pct int, step string) {
	_, err := b.queue.UpdateProgress(context.Background(), jobID, pct, step)
	if err != nil && !errors.Is(err, queue.ErrConflict) {
		b.logger.Warn("progress update failed", "job_id", jobID, "error", err)
	}
}

// fail writes the failed state, tolerating conflicts from jobs already
// settled elsewhere. A fresh context is used so a timed-out run can still
// record its own failure.
func (b *Bridge) fail(jobID, msg string) {
	_, err := b.queue.Fail(context.Background(), jobID, msg)
	if err != nil && !errors.Is(err, queue.ErrConflict) && !errors.Is(err, queue.ErrNotFound) {
		b.logger.Error("failed to mark job failed", "job_id", jobID, "error", err)
	}
}

func (b *Bridge) timeoutMessage(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("generation timeout after %s", b.timeout)
	}
	return "generation canceled"
}

// sleep waits for d or until ctx is done; it returns false on ctx done.
func (b *Bridge) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
