package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Metadata is free-form track metadata (artist, album, genre, ...). It is
// editable after creation without touching the owning job.
type Metadata map[string]string

// Value implements driver.Valuer so Metadata persists as JSON.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src interface{}) error {
	if src == nil {
		*m = Metadata{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
	return json.Unmarshal(data, m)
}

// Track is a durable output artifact produced by a completed generation or
// loop job: two sibling encodings of the same audio plus free-form metadata.
type Track struct {
	ID        string    `db:"id" json:"id"`
	JobID     string    `db:"job_id" json:"jobId"`
	Duration  float64   `db:"duration" json:"duration"`
	WAVPath   string    `db:"wav_path" json:"wavPath,omitempty"`
	WAVSize   int64     `db:"wav_size" json:"wavSize,omitempty"`
	MP3Path   string    `db:"mp3_path" json:"mp3Path,omitempty"`
	MP3Size   int64     `db:"mp3_size" json:"mp3Size,omitempty"`
	Metadata  Metadata  `db:"metadata" json:"metadata"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
