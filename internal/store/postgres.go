package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tunesmith/api/internal/model"
)

const jobColumns = `id, job_type, status, progress, priority, request_data, result_data,
	message, error, worker_id, remote_id, created_at, updated_at, started_at, completed_at`

const trackColumns = `id, job_id, duration, wav_path, wav_size, mp3_path, mp3_size,
	metadata, created_at, updated_at`

// PostgresStore is the authoritative Store backed by Postgres. All state
// transitions are single UPDATE-with-WHERE statements (optimistic
// concurrency), so multiple worker processes can share one queue safely.
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore connects, configures the pool and runs migrations.
func NewPostgresStore(dsn string, maxOpen, maxIdle int, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(time.Hour)

	s := &PostgresStore{db: db, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	query := `
		INSERT INTO jobs (
			id, job_type, status, progress, priority,
			request_data, message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.JobType, job.Status, job.Progress, job.Priority,
		[]byte(job.RequestData), job.Message, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	if err := s.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.JobType != "" {
		where += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM jobs"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	// LIMIT NULL means no limit, matching the zero-value contract.
	var limit interface{}
	if filter.Limit > 0 {
		limit = filter.Limit
	}

	query := `SELECT ` + jobColumns + ` FROM jobs` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, filter.Offset)

	jobs := []model.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, total, nil
}

func (s *PostgresStore) ClaimJob(ctx context.Context, id, workerID string) (*model.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1, worker_id = $2, started_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND status = $4
		RETURNING ` + jobColumns

	var job model.Job
	err := s.db.QueryRowxContext(ctx, query,
		model.JobStatusProcessing, workerID, id, model.JobStatusQueued,
	).StructScan(&job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotUpdated
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("job claimed",
		slog.String("job_id", id),
		slog.String("worker_id", workerID),
	)
	return &job, nil
}

func (s *PostgresStore) ClaimNextJob(ctx context.Context, types []model.JobType, workerID string) (*model.Job, error) {
	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}

	// SKIP LOCKED keeps concurrent claimants from blocking on the same row:
	// exactly one caller wins a given job, the rest move on.
	query := `
		UPDATE jobs
		SET status = $1, worker_id = $2, started_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = $3 AND job_type = ANY($4)
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	var job model.Job
	err := s.db.QueryRowxContext(ctx, query,
		model.JobStatusProcessing, workerID, model.JobStatusQueued, pq.Array(typeNames),
	).StructScan(&job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to claim next job: %w", err)
	}
	return &job, nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id string, progress int, message string) (*model.Job, error) {
	query := `
		UPDATE jobs
		SET progress = $2, message = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4 AND progress <= $2
		RETURNING ` + jobColumns

	var job model.Job
	err := s.db.QueryRowxContext(ctx, query, id, progress, message, model.JobStatusProcessing).StructScan(&job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotUpdated
		}
		return nil, fmt.Errorf("failed to update progress: %w", err)
	}
	return &job, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string, result json.RawMessage) (*model.Job, error) {
	query := `
		UPDATE jobs
		SET status = $2, progress = 100, result_data = $3, worker_id = NULL,
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $4
		RETURNING ` + jobColumns

	var job model.Job
	err := s.db.QueryRowxContext(ctx, query,
		id, model.JobStatusCompleted, []byte(result), model.JobStatusProcessing,
	).StructScan(&job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotUpdated
		}
		return nil, fmt.Errorf("failed to complete job: %w", err)
	}
	return &job, nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id string, errMsg string) (*model.Job, error) {
	return s.failFrom(ctx, id, errMsg, model.JobStatusProcessing)
}

func (s *PostgresStore) CancelJob(ctx context.Context, id string, errMsg string) (*model.Job, error) {
	return s.failFrom(ctx, id, errMsg, model.JobStatusQueued)
}

func (s *PostgresStore) failFrom(ctx context.Context, id, errMsg string, from model.JobStatus) (*model.Job, error) {
	query := `
		UPDATE jobs
		SET status = $2, error = $3, worker_id = NULL,
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $4
		RETURNING ` + jobColumns

	var job model.Job
	err := s.db.QueryRowxContext(ctx, query, id, model.JobStatusFailed, errMsg, from).StructScan(&job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotUpdated
		}
		return nil, fmt.Errorf("failed to fail job: %w", err)
	}
	return &job, nil
}

func (s *PostgresStore) SetJobRemoteID(ctx context.Context, id, remoteID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET remote_id = $2, updated_at = NOW() WHERE id = $1`, id, remoteID)
	if err != nil {
		return fmt.Errorf("failed to set remote id: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE id = $1 AND status IN ($2, $3)`,
		id, model.JobStatusCompleted, model.JobStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotUpdated
	}
	return nil
}

func (s *PostgresStore) DeleteExpiredJobs(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN ($1, $2) AND completed_at < $3`,
		model.JobStatusCompleted, model.JobStatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) JobStats(ctx context.Context, jobType model.JobType) (*model.JobStats, error) {
	query := `SELECT status, COUNT(*) FROM jobs`
	args := []interface{}{}
	if jobType != "" {
		query += ` WHERE job_type = $1`
		args = append(args, jobType)
	}
	query += ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := &model.JobStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		switch model.JobStatus(status) {
		case model.JobStatusQueued:
			stats.Queued = count
		case model.JobStatusProcessing:
			stats.Processing = count
		case model.JobStatusCompleted:
			stats.Completed = count
		case model.JobStatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	stats.Total = stats.Queued + stats.Processing + stats.Completed + stats.Failed
	stats.Active = stats.Queued + stats.Processing
	return stats, nil
}

func (s *PostgresStore) AppendJobEvent(ctx context.Context, event *model.JobEvent) error {
	query := `
		INSERT INTO job_events (job_id, event_type, message, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		event.JobID, event.EventType, event.Message, event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to append job event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListJobEvents(ctx context.Context, jobID string) ([]model.JobEvent, error) {
	events := []model.JobEvent{}
	query := `
		SELECT id, job_id, event_type, message, created_at
		FROM job_events WHERE job_id = $1 ORDER BY id ASC
	`
	if err := s.db.SelectContext(ctx, &events, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to list job events: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) CreateTrack(ctx context.Context, track *model.Track) error {
	query := `
		INSERT INTO tracks (
			id, job_id, duration, wav_path, wav_size, mp3_path, mp3_size,
			metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		track.ID, track.JobID, track.Duration,
		track.WAVPath, track.WAVSize, track.MP3Path, track.MP3Size,
		track.Metadata, track.CreatedAt, track.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create track: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTrack(ctx context.Context, id string) (*model.Track, error) {
	var track model.Track
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = $1`

	if err := s.db.GetContext(ctx, &track, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get track: %w", err)
	}
	return &track, nil
}

func (s *PostgresStore) ListTracks(ctx context.Context, limit, offset int) ([]model.Track, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM tracks`); err != nil {
		return nil, 0, fmt.Errorf("failed to count tracks: %w", err)
	}

	tracks := []model.Track{}
	query := `SELECT ` + trackColumns + ` FROM tracks ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	if err := s.db.SelectContext(ctx, &tracks, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list tracks: %w", err)
	}
	return tracks, total, nil
}

func (s *PostgresStore) UpdateTrackMetadata(ctx context.Context, id string, md model.Metadata) (*model.Track, error) {
	query := `
		UPDATE tracks SET metadata = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + trackColumns

	var track model.Track
	if err := s.db.QueryRowxContext(ctx, query, id, md).StructScan(&track); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update track metadata: %w", err)
	}
	return &track, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
