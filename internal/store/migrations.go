package store

// Schema statements, applied in order on startup. Each statement is
// idempotent so restarts are safe without a migration version table.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id            UUID PRIMARY KEY,
		job_type      TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'queued'
		              CHECK (status IN ('queued', 'processing', 'completed', 'failed')),
		progress      INTEGER NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
		priority      INTEGER NOT NULL DEFAULT 0,
		request_data  JSONB,
		result_data   JSONB,
		message       TEXT NOT NULL DEFAULT '',
		error         TEXT,
		worker_id     TEXT,
		remote_id     TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at    TIMESTAMPTZ,
		completed_at  TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_job_type ON jobs (job_type)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs (status, priority DESC, created_at ASC)`,

	// No FK on tracks.job_id: tracks are durable artifacts that outlive
	// TTL cleanup of their owning job; the id stays as a historical link.
	`CREATE TABLE IF NOT EXISTS tracks (
		id          UUID PRIMARY KEY,
		job_id      UUID NOT NULL,
		duration    DOUBLE PRECISION NOT NULL DEFAULT 0,
		wav_path    TEXT NOT NULL DEFAULT '',
		wav_size    BIGINT NOT NULL DEFAULT 0,
		mp3_path    TEXT NOT NULL DEFAULT '',
		mp3_size    BIGINT NOT NULL DEFAULT 0,
		metadata    JSONB NOT NULL DEFAULT '{}',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_tracks_job_id ON tracks (job_id)`,

	`CREATE TABLE IF NOT EXISTS job_events (
		id          BIGSERIAL PRIMARY KEY,
		job_id      UUID NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
		event_type  TEXT NOT NULL,
		message     TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_job_events_job_id ON job_events (job_id)`,
}
