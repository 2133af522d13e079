package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunesmith/api/internal/client"
	"github.com/tunesmith/api/internal/model"
	"github.com/tunesmith/api/internal/queue"
	"github.com/tunesmith/api/internal/store"
)

type statusStep struct {
	status *client.StatusResult
	err    error
}

// fakeGenerator replays a scripted sequence of status responses. The last
// step repeats once the script runs out.
type fakeGenerator struct {
	mu        sync.Mutex
	submitErr error
	steps     []statusStep
	idx       int
	onStatus  func(n int)
}

func (g *fakeGenerator) Submit(context.Context, *client.GenerateRequest) (*client.SubmitResponse, error) {
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	return &client.SubmitResponse{TaskID: "remote-1", Status: client.RemoteStatusPending}, nil
}

func (g *fakeGenerator) Status(ctx context.Context, remoteID string) (*client.StatusResult, error) {
	g.mu.Lock()
	n := g.idx
	if g.idx < len(g.steps)-1 {
		g.idx++
	}
	step := g.steps[n]
	hook := g.onStatus
	g.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return step.status, step.err
}

func (g *fakeGenerator) HealthCheck(context.Context) error { return nil }

type fakeExporter struct {
	err    error
	result *model.GenerationResult
	calls  int
}

func (e *fakeExporter) ExportGeneration(context.Context, *model.Job, *client.StatusResult) (*model.GenerationResult, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

func running(progress int) statusStep {
	return statusStep{status: &client.StatusResult{
		TaskID: "remote-1", Status: client.RemoteStatusRunning, Progress: progress,
	}}
}

func completed() statusStep {
	return statusStep{status: &client.StatusResult{
		TaskID: "remote-1", Status: client.RemoteStatusCompleted,
		Progress: 100, AudioURL: "http://gen/audio/remote-1.wav", Duration: 30,
	}}
}

func remoteFailed(msg string) statusStep {
	return statusStep{status: &client.StatusResult{
		TaskID: "remote-1", Status: client.RemoteStatusFailed, Error: msg,
	}}
}

func pollErr() statusStep {
	return statusStep{err: errors.New("connection refused")}
}

func newTestBridge(t *testing.T, gen client.MusicGenerator, exp GenerationExporter) (*Bridge, *queue.Service) {
	t.Helper()
	st := store.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.NewService(st, nil, log)
	b := &Bridge{
		queue:         q,
		generator:     gen,
		exporter:      exp,
		pollInterval:  time.Millisecond,
		timeout:       time.Second,
		maxPollErrors: 3,
		logger:        log,
	}
	return b, q
}

func claimedJob(t *testing.T, q *queue.Service) *model.Job {
	t.Helper()
	ctx := context.Background()
	job, err := q.Enqueue(ctx, model.JobTypeGeneration,
		json.RawMessage(`{"prompt":"calm piano","durationSeconds":30}`), 0)
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, job.ID, "w1")
	require.NoError(t, err)
	return claimed
}

func TestRunCompletesJob(t *testing.T) {
	gen := &fakeGenerator{steps: []statusStep{running(40), completed()}}
	exp := &fakeExporter{result: &model.GenerationResult{
		TrackID: "track-1", AudioURL: "http://gen/audio/remote-1.wav", Duration: 30,
	}}
	b, q := newTestBridge(t, gen, exp)
	job := claimedJob(t, q)

	require.NoError(t, b.Run(context.Background(), job))

	got, err := q.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.RemoteID)
	assert.Equal(t, "remote-1", *got.RemoteID)

	var result model.GenerationResult
	require.NoError(t, json.Unmarshal(got.ResultData, &result))
	assert.Equal(t, "track-1", result.TrackID)
	assert.Equal(t, 1, exp.calls)
}

func TestRunSubmitFailureFailsJob(t *testing.T) {
	gen := &fakeGenerator{submitErr: errors.New("503 from generator")}
	b, q := newTestBridge(t, gen, &fakeExporter{})
	job := claimedJob(t, q)

	require.NoError(t, b.Run(context.Background(), job))

	got, err := q.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "submit failed")
}

func TestRunRemoteFailureFailsJob(t *testing.T) {
	gen := &fakeGenerator{steps: []statusStep{running(10), remoteFailed("prompt rejected")}}
	exp := &fakeExporter{}
	b, q := newTestBridge(t, gen, exp)
	job := claimedJob(t, q)

	require.NoError(t, b.Run(context.Background(), job))

	got, err := q.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "prompt rejected", *got.Error)
	assert.Equal(t, 0, exp.calls)
}

func TestRunToleratesTransientPollErrors(t *testing.T) {
	gen := &fakeGenerator{steps: []statusStep{pollErr(), pollErr(), running(60), completed()}}
	exp := &fakeExporter{result: &model.GenerationResult{TrackID: "track-1"}}
	b, q := newTestBridge(t, gen, exp)
	job := claimedJob(t, q)

	require.NoError(t, b.Run(context.Background(), job))

	got, err := q.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
}

func TestRunGivesUpAfterConsecutivePollErrors(t *testing.T) {
	gen := &fakeGenerator{steps: []statusStep{pollErr()}}
	b, q := newTestBridge(t, gen, &fakeExporter{})
	job := claimedJob(t, q)

	require.NoError(t, b.Run(context.Background(), job))

	got, err := q.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "generator unreachable")
}

func TestRunTimesOut(t *testing.T) {
	gen := &fakeGenerator{steps: []statusStep{running(50)}}
	b, q := newTestBridge(t, gen, &fakeExporter{})
	b.timeout = 30 * time.Millisecond
	job := claimedJob(t, q)

	require.NoError(t, b.Run(context.Background(), job))

	got, err := q.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "timeout")
}

func TestRunDiscardsLateResult(t *testing.T) {
	gen := &fakeGenerator{steps: []statusStep{completed()}}
	exp := &fakeExporter{result: &model.GenerationResult{TrackID: "track-1"}}
	b, q := newTestBridge(t, gen, exp)
	job := claimedJob(t, q)

	// An operator fails the job while the bridge is mid-flight
	gen.onStatus = func(int) {
		_, err := q.Fail(context.Background(), job.ID, "killed by operator")
		require.NoError(t, err)
		gen.onStatus = nil
	}

	require.NoError(t, b.Run(context.Background(), job))

	got, err := q.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "killed by operator", *got.Error)
	assert.Empty(t, got.ResultData)
}

func TestRunExportFailureFailsJob(t *testing.T) {
	gen := &fakeGenerator{steps: []statusStep{completed()}}
	exp := &fakeExporter{err: errors.New("disk full")}
	b, q := newTestBridge(t, gen, exp)
	job := claimedJob(t, q)

	require.NoError(t, b.Run(context.Background(), job))

	got, err := q.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "export failed")
}
