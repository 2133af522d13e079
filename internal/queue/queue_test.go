package queue

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

	"github.com/tunesmith/api/internal/model"
	"github.com/tunesmith/api/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	svc := NewService(st, nil, discardLogger())
	return svc, st
}

func enqueueOne(t *testing.T, svc *Service) *model.Job {
	t.Helper()
	job, err := svc.Enqueue(context.Background(), model.JobTypeGeneration,
		json.RawMessage(`{"prompt":"calm piano"}`), 0)
	require.NoError(t, err)
	return job
}

func TestEnqueueCreatesQueuedJob(t *testing.T) {
	svc, _ := newTestService(t)

	job := enqueueOne(t, svc)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)

	events, err := svc.Events(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventEnqueued, events[0].EventType)
}

type failingNotifier struct{}

func (failingNotifier) JobEnqueued(context.Context, *model.Job) error {
	return errors.New("redis down")
}

func TestEnqueueNotifierFailureFailsJob(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, failingNotifier{}, discardLogger())

	_, err := svc.Enqueue(context.Background(), model.JobTypeGeneration,
		json.RawMessage(`{}`), 0)
	require.ErrorIs(t, err, ErrUnavailable)

	// The orphaned row must not stay queued
	jobs, _, lerr := svc.List(context.Background(), store.JobFilter{})
	require.NoError(t, lerr)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobStatusFailed, jobs[0].Status)
}

func TestClaimExactlyOneWinner(t *testing.T) {
	svc, _ := newTestService(t)
	job := enqueueOne(t, svc)

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := svc.Claim(context.Background(), job.ID, string(rune('a'+n))); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrConflict)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)

	got, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, got.Status)
	assert.NotNil(t, got.WorkerID)
	assert.NotNil(t, got.StartedAt)
}

func TestClaimNextPriorityThenFIFO(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	low, err := svc.Enqueue(ctx, model.JobTypeGeneration, json.RawMessage(`{}`), 1)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	highOld, err := svc.Enqueue(ctx, model.JobTypeGeneration, json.RawMessage(`{}`), 9)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	highNew, err := svc.Enqueue(ctx, model.JobTypeGeneration, json.RawMessage(`{}`), 9)
	require.NoError(t, err)

	first, err := svc.ClaimNext(ctx, nil, "w1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, highOld.ID, first.ID)

	second, err := svc.ClaimNext(ctx, nil, "w1")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, highNew.ID, second.ID)

	third, err := svc.ClaimNext(ctx, nil, "w1")
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, low.ID, third.ID)

	empty, err := svc.ClaimNext(ctx, nil, "w1")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestClaimNextFiltersByType(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, model.JobTypeGeneration, json.RawMessage(`{}`), 5)
	require.NoError(t, err)
	loop, err := svc.Enqueue(ctx, model.JobTypeLoop, json.RawMessage(`{}`), 0)
	require.NoError(t, err)

	got, err := svc.ClaimNext(ctx, []model.JobType{model.JobTypeLoop}, "w1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, loop.ID, got.ID)
}

func TestProgressMonotonic(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	job := enqueueOne(t, svc)

	_, err := svc.Claim(ctx, job.ID, "w1")
	require.NoError(t, err)

	updated, err := svc.UpdateProgress(ctx, job.ID, 40, "generating")
	require.NoError(t, err)
	assert.Equal(t, 40, updated.Progress)
	assert.Equal(t, "generating", updated.Message)

	// Equal progress is allowed, regression is not
	_, err = svc.UpdateProgress(ctx, job.ID, 40, "still generating")
	require.NoError(t, err)

	_, err = svc.UpdateProgress(ctx, job.ID, 30, "rewind")
	assert.ErrorIs(t, err, ErrConflict)

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)
}

func TestProgressValidationAndState(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	job := enqueueOne(t, svc)

	_, err := svc.UpdateProgress(ctx, job.ID, 101, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.UpdateProgress(ctx, job.ID, -1, "")
	assert.ErrorIs(t, err, ErrValidation)

	// Not yet processing
	_, err = svc.UpdateProgress(ctx, job.ID, 10, "")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.UpdateProgress(ctx, "no-such-job", 10, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteSetsResultAndClearsWorker(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	job := enqueueOne(t, svc)

	_, err := svc.Claim(ctx, job.ID, "w1")
	require.NoError(t, err)

	result := json.RawMessage(`{"trackId":"t1"}`)
	done, err := svc.Complete(ctx, job.ID, result)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.JSONEq(t, string(result), string(done.ResultData))
	assert.Nil(t, done.WorkerID)
	assert.NotNil(t, done.CompletedAt)
}

func TestCompleteIdempotentOnSameResult(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	job := enqueueOne(t, svc)

	_, err := svc.Claim(ctx, job.ID, "w1")
	require.NoError(t, err)

	result := json.RawMessage(`{"trackId":"t1","duration":30}`)
	_, err = svc.Complete(ctx, job.ID, result)
	require.NoError(t, err)

	// Same payload, different key order: still idempotent
	again, err := svc.Complete(ctx, job.ID, json.RawMessage(`{"duration":30,"trackId":"t1"}`))
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, again.Status)

	// Different payload conflicts
	_, err = svc.Complete(ctx, job.ID, json.RawMessage(`{"trackId":"other"}`))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestTerminalJobsAreImmutable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	job := enqueueOne(t, svc)

	_, err := svc.Claim(ctx, job.ID, "w1")
	require.NoError(t, err)
	_, err = svc.Fail(ctx, job.ID, "generator exploded")
	require.NoError(t, err)

	_, err = svc.UpdateProgress(ctx, job.ID, 50, "")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.Complete(ctx, job.ID, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.Claim(ctx, job.ID, "w2")
	assert.ErrorIs(t, err, ErrConflict)

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "generator exploded", *got.Error)
}

func TestCancelOnlyQueuedJobs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	queued := enqueueOne(t, svc)
	canceled, err := svc.Cancel(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, canceled.Status)
	require.NotNil(t, canceled.Error)
	assert.Equal(t, "cancelled by client", *canceled.Error)

	claimed := enqueueOne(t, svc)
	_, err = svc.Claim(ctx, claimed.ID, "w1")
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, claimed.ID)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.Cancel(ctx, "no-such-job")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteOnlyTerminalJobs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	active := enqueueOne(t, svc)
	err := svc.Delete(ctx, active.ID)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.Cancel(ctx, active.ID)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, active.ID))

	_, err = svc.Get(ctx, active.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatsCountsByStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	q := enqueueOne(t, svc)
	_ = q
	p := enqueueOne(t, svc)
	_, err := svc.Claim(ctx, p.ID, "w1")
	require.NoError(t, err)
	c := enqueueOne(t, svc)
	_, err = svc.Claim(ctx, c.ID, "w1")
	require.NoError(t, err)
	_, err = svc.Complete(ctx, c.ID, json.RawMessage(`{}`))
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Queued)
	assert.Equal(t, 1, stats.Processing)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Active)

	loopStats, err := svc.Stats(ctx, model.JobTypeLoop)
	require.NoError(t, err)
	assert.Equal(t, 0, loopStats.Total)
}

func TestCleanupReapsOnlyExpiredTerminal(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	old := enqueueOne(t, svc)
	_, err := svc.Claim(ctx, old.ID, "w1")
	require.NoError(t, err)
	_, err = svc.Complete(ctx, old.ID, json.RawMessage(`{}`))
	require.NoError(t, err)

	fresh := enqueueOne(t, svc)
	_, err = svc.Cancel(ctx, fresh.ID)
	require.NoError(t, err)

	stillQueued := enqueueOne(t, svc)

	// Age the first job past the TTL by rewriting its completion time
	aged, err := st.GetJob(ctx, old.ID)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-48 * time.Hour)
	aged.CompletedAt = &past
	require.NoError(t, st.CreateJob(ctx, aged))

	count, err := svc.CleanupExpired(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = svc.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Get(ctx, fresh.ID)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, stillQueued.ID)
	assert.NoError(t, err)
}

func TestEventsTraceLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	job := enqueueOne(t, svc)

	_, err := svc.Claim(ctx, job.ID, "w1")
	require.NoError(t, err)
	_, err = svc.UpdateProgress(ctx, job.ID, 50, "generating")
	require.NoError(t, err)
	_, err = svc.Complete(ctx, job.ID, json.RawMessage(`{}`))
	require.NoError(t, err)

	events, err := svc.Events(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, model.EventEnqueued, events[0].EventType)
	assert.Equal(t, model.EventClaimed, events[1].EventType)
	assert.Equal(t, model.EventProgress, events[2].EventType)
	assert.Equal(t, model.EventCompleted, events[3].EventType)

	_, err = svc.Events(ctx, "no-such-job")
	assert.ErrorIs(t, err, ErrNotFound)
}
