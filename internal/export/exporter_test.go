package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunesmith/api/internal/client"
	"github.com/tunesmith/api/internal/config"
	"github.com/tunesmith/api/internal/model"
	"github.com/tunesmith/api/internal/store"
)

type fakeFetcher struct {
	payload string
	err     error
}

func (f *fakeFetcher) Fetch(context.Context, string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.payload)), nil
}

type fakeAudio struct {
	encodeErr error
	loopErr   error
}

func (a *fakeAudio) Encode(_ context.Context, req *client.EncodeRequest) (*client.EncodeResponse, error) {
	if a.encodeErr != nil {
		return nil, a.encodeErr
	}
	return &client.EncodeResponse{
		OutputPath: req.OutputPath,
		Format:     req.Format,
		Size:       512,
		Duration:   30,
	}, nil
}

func (a *fakeAudio) RenderLoop(_ context.Context, req *client.LoopRenderRequest) (*client.LoopRenderResponse, error) {
	if a.loopErr != nil {
		return nil, a.loopErr
	}
	return &client.LoopRenderResponse{
		OutputPath: req.OutputPath,
		Size:       2048,
		Duration:   float64(req.DurationSeconds),
	}, nil
}

func (a *fakeAudio) HealthCheck(context.Context) error { return nil }

func newTestExporter(t *testing.T, audio client.AudioProcessor, fetcher SourceFetcher) (*Exporter, *store.MemoryStore, string) {
	t.Helper()
	dir := t.TempDir()
	st := store.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewExporter(st, audio, fetcher, &config.ExportConfig{Dir: dir, MP3Bitrate: 192}, log)
	return e, st, dir
}

func generationJob(t *testing.T) *model.Job {
	t.Helper()
	req, err := json.Marshal(model.GenerationRequest{
		Prompt: "calm piano over rain", Genre: "ambient", Mood: "calm", Language: "en",
	})
	require.NoError(t, err)
	now := time.Now().UTC()
	return &model.Job{
		ID:          "job-1",
		JobType:     model.JobTypeGeneration,
		Status:      model.JobStatusProcessing,
		RequestData: req,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestExportGenerationWritesArtifactsAndTrack(t *testing.T) {
	e, st, dir := newTestExporter(t, &fakeAudio{}, &fakeFetcher{payload: "RIFFfakewavbytes"})
	job := generationJob(t)
	remote := &client.StatusResult{
		TaskID: "remote-1", Status: client.RemoteStatusCompleted,
		AudioURL: "http://gen/audio/remote-1.wav", Duration: 30,
	}

	result, err := e.ExportGeneration(context.Background(), job, remote)
	require.NoError(t, err)

	wavPath := filepath.Join(dir, "job-1.wav")
	assert.Equal(t, wavPath, result.WAVPath)
	data, err := os.ReadFile(wavPath)
	require.NoError(t, err)
	assert.Equal(t, "RIFFfakewavbytes", string(data))

	track, err := st.GetTrack(context.Background(), result.TrackID)
	require.NoError(t, err)
	assert.Equal(t, "job-1", track.JobID)
	assert.Equal(t, int64(len("RIFFfakewavbytes")), track.WAVSize)
	assert.Equal(t, int64(512), track.MP3Size)
	assert.Equal(t, 30.0, track.Duration)
	assert.Equal(t, "ambient", track.Metadata["genre"])
	assert.Equal(t, "calm piano over rain", track.Metadata["prompt"])
}

func TestExportGenerationNoAudioURL(t *testing.T) {
	e, st, _ := newTestExporter(t, &fakeAudio{}, &fakeFetcher{payload: "x"})
	remote := &client.StatusResult{TaskID: "remote-1", Status: client.RemoteStatusCompleted}

	_, err := e.ExportGeneration(context.Background(), generationJob(t), remote)
	require.Error(t, err)

	_, total, err := st.ListTracks(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestExportGenerationFetchFailure(t *testing.T) {
	e, _, dir := newTestExporter(t, &fakeAudio{}, &fakeFetcher{err: errors.New("404")})
	remote := &client.StatusResult{
		TaskID: "remote-1", Status: client.RemoteStatusCompleted,
		AudioURL: "http://gen/audio/gone.wav",
	}

	_, err := e.ExportGeneration(context.Background(), generationJob(t), remote)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "job-1.wav"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExportGenerationEncodeFailureCleansUp(t *testing.T) {
	e, st, dir := newTestExporter(t, &fakeAudio{encodeErr: errors.New("codec crashed")}, &fakeFetcher{payload: "bytes"})
	remote := &client.StatusResult{
		TaskID: "remote-1", Status: client.RemoteStatusCompleted,
		AudioURL: "http://gen/audio/remote-1.wav",
	}

	_, err := e.ExportGeneration(context.Background(), generationJob(t), remote)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mp3 encode failed")

	// Partial export leaves neither files nor rows
	_, statErr := os.Stat(filepath.Join(dir, "job-1.wav"))
	assert.True(t, os.IsNotExist(statErr))
	_, total, err := st.ListTracks(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestExportLoopCreatesTrack(t *testing.T) {
	e, st, dir := newTestExporter(t, &fakeAudio{}, &fakeFetcher{})
	source := &model.Track{
		ID: "track-src", JobID: "job-0", WAVPath: "/exports/job-0.wav", Duration: 30,
	}
	job := &model.Job{ID: "job-2", JobType: model.JobTypeLoop, Status: model.JobStatusProcessing}
	req := &model.LoopRequest{TrackID: "track-src", DurationSeconds: 60, FadeInOut: true}

	result, err := e.ExportLoop(context.Background(), job, source, req)
	require.NoError(t, err)
	assert.Equal(t, model.FormatWAV, result.Format)
	assert.Equal(t, filepath.Join(dir, "job-2_loop.wav"), result.FilePath)
	assert.Equal(t, 60.0, result.Duration)
	assert.True(t, result.FadeInOut)

	track, err := st.GetTrack(context.Background(), result.TrackID)
	require.NoError(t, err)
	assert.Equal(t, "job-2", track.JobID)
	assert.Equal(t, int64(2048), track.WAVSize)
	assert.Equal(t, "track-src", track.Metadata["source_track"])
}

func TestExportLoopRenderFailure(t *testing.T) {
	e, st, _ := newTestExporter(t, &fakeAudio{loopErr: errors.New("bad crossfade")}, &fakeFetcher{})
	source := &model.Track{ID: "track-src", WAVPath: "/exports/job-0.wav"}
	job := &model.Job{ID: "job-2", JobType: model.JobTypeLoop}

	_, err := e.ExportLoop(context.Background(), job, source, &model.LoopRequest{TrackID: "track-src", DurationSeconds: 10})
	require.Error(t, err)

	_, total, err := st.ListTracks(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}
