package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tunesmith/api/internal/client"
	"github.com/tunesmith/api/internal/config"
	"github.com/tunesmith/api/internal/model"
	"github.com/tunesmith/api/internal/store"
)

// SourceFetcher retrieves finished raw audio from the generation tier.
type SourceFetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPFetcher fetches audio over plain HTTP.
type HTTPFetcher struct {
	Client *http.Client
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("audio fetch failed: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Exporter turns finished remote audio into durable local artifacts. A
// successful export leaves a WAV file, an MP3 sibling, and a Track row; a
// failed export leaves nothing, so the job can be failed cleanly.
type Exporter struct {
	store   store.Store
	audio   client.AudioProcessor
	fetcher SourceFetcher
	dir     string
	bitrate int
	logger  *slog.Logger
}

// NewExporter creates an Exporter writing under cfg.Dir.
func NewExporter(st store.Store, audio client.AudioProcessor, fetcher SourceFetcher, cfg *config.ExportConfig, logger *slog.Logger) *Exporter {
	if fetcher == nil {
		fetcher = &HTTPFetcher{Client: &http.Client{Timeout: 120 * time.Second}}
	}
	return &Exporter{
		store:   st,
		audio:   audio,
		fetcher: fetcher,
		dir:     cfg.Dir,
		bitrate: cfg.MP3Bitrate,
		logger:  logger.With("component", "exporter"),
	}
}

// ExportGeneration downloads the remote audio for a finished generation
// job, encodes the MP3 sibling, and records the Track. The Track exists
// before the caller marks the job completed; any partial artifacts are
// removed on error.
func (e *Exporter) ExportGeneration(ctx context.Context, job *model.Job, remote *client.StatusResult) (*model.GenerationResult, error) {
	if remote.AudioURL == "" {
		return nil, fmt.Errorf("remote task %s finished without an audio url", remote.TaskID)
	}

	wavPath := filepath.Join(e.dir, job.ID+".wav")
	mp3Path := filepath.Join(e.dir, job.ID+".mp3")

	wavSize, err := e.download(ctx, remote.AudioURL, wavPath)
	if err != nil {
		return nil, err
	}

	enc, err := e.audio.Encode(ctx, &client.EncodeRequest{
		InputPath:  wavPath,
		OutputPath: mp3Path,
		Format:     "mp3",
		Bitrate:    e.bitrate,
	})
	if err != nil {
		os.Remove(wavPath)
		return nil, fmt.Errorf("mp3 encode failed: %w", err)
	}

	duration := remote.Duration
	if duration == 0 {
		duration = enc.Duration
	}

	track := &model.Track{
		ID:       uuid.NewString(),
		JobID:    job.ID,
		Duration: duration,
		WAVPath:  wavPath,
		WAVSize:  wavSize,
		MP3Path:  mp3Path,
		MP3Size:  enc.Size,
		Metadata: requestMetadata(job),
	}
	now := time.Now().UTC()
	track.CreatedAt = now
	track.UpdatedAt = now

	if err := e.store.CreateTrack(ctx, track); err != nil {
		os.Remove(wavPath)
		os.Remove(mp3Path)
		return nil, fmt.Errorf("failed to record track: %w", err)
	}

	e.logger.Info("exported track",
		"job_id", job.ID, "track_id", track.ID,
		"wav_size", wavSize, "mp3_size", enc.Size, "duration", duration)

	return &model.GenerationResult{
		TrackID:  track.ID,
		AudioURL: remote.AudioURL,
		WAVPath:  wavPath,
		MP3Path:  mp3Path,
		Duration: duration,
	}, nil
}

// ExportLoop renders a seamless loop from an existing track and records
// the new Track. Only the requested format is produced.
func (e *Exporter) ExportLoop(ctx context.Context, job *model.Job, source *model.Track, req *model.LoopRequest) (*model.LoopResult, error) {
	format := req.Format
	if format == "" {
		format = model.FormatWAV
	}

	input := source.WAVPath
	if format == model.FormatMP3 && source.MP3Path != "" {
		input = source.MP3Path
	}
	outPath := filepath.Join(e.dir, job.ID+"_loop."+string(format))

	rendered, err := e.audio.RenderLoop(ctx, &client.LoopRenderRequest{
		InputPath:       input,
		OutputPath:      outPath,
		DurationSeconds: req.DurationSeconds,
		FadeInOut:       req.FadeInOut,
		Format:          string(format),
	})
	if err != nil {
		return nil, fmt.Errorf("loop render failed: %w", err)
	}

	track := &model.Track{
		ID:       uuid.NewString(),
		JobID:    job.ID,
		Duration: rendered.Duration,
		Metadata: model.Metadata{"source_track": source.ID, "kind": "loop"},
	}
	switch format {
	case model.FormatMP3:
		track.MP3Path = rendered.OutputPath
		track.MP3Size = rendered.Size
	default:
		track.WAVPath = rendered.OutputPath
		track.WAVSize = rendered.Size
	}
	now := time.Now().UTC()
	track.CreatedAt = now
	track.UpdatedAt = now

	if err := e.store.CreateTrack(ctx, track); err != nil {
		os.Remove(rendered.OutputPath)
		return nil, fmt.Errorf("failed to record track: %w", err)
	}

	e.logger.Info("exported loop",
		"job_id", job.ID, "track_id", track.ID, "source_track", source.ID, "format", format)

	return &model.LoopResult{
		TrackID:   track.ID,
		SourceID:  source.ID,
		Format:    format,
		FilePath:  rendered.OutputPath,
		Duration:  rendered.Duration,
		FadeInOut: req.FadeInOut,
	}, nil
}

// download streams the remote audio to dest and returns its size. The
// partial file is removed on any error.
func (e *Exporter) download(ctx context.Context, url, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create export dir: %w", err)
	}

	body, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dest, err)
	}

	size, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return size, nil
}

// requestMetadata seeds track metadata from the generation request so the
// prompt context survives job cleanup.
func requestMetadata(job *model.Job) model.Metadata {
	md := model.Metadata{}
	var req model.GenerationRequest
	if len(job.RequestData) > 0 && json.Unmarshal(job.RequestData, &req) == nil {
		if req.Genre != "" {
			md["genre"] = req.Genre
		}
		if req.Mood != "" {
			md["mood"] = req.Mood
		}
		if req.Language != "" {
			md["language"] = req.Language
		}
		if req.Prompt != "" {
			md["prompt"] = truncate(req.Prompt, 200)
		}
	}
	return md
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
