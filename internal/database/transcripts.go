package database

import (
	"context"
	"fmt"
	"time"
)

// TranscriptRow is the input for recording a completed transcription.
type TranscriptRow struct {
	UserID       string
	Text         string
	Confidence   *float32
	DurationSec  float64
	CreditsSpent int
	Provider     string
	Model        string
	MimeType     string
}

// TranscriptAPI is the transcript representation for API responses.
type TranscriptAPI struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	Text         string    `json:"text"`
	Confidence   *float32  `json:"confidence,omitempty"`
	DurationSec  float64   `json:"duration_seconds"`
	CreditsSpent int       `json:"credits_spent"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	MimeType     string    `json:"mime_type,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// InsertTranscript records a successful transcription and returns its id.
func (db *DB) InsertTranscript(ctx context.Context, row *TranscriptRow) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO transcripts (user_id, text, confidence, duration_sec, credits_spent, provider, model, mime_type)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		row.UserID, row.Text, row.Confidence, row.DurationSec, row.CreditsSpent,
		row.Provider, row.Model, row.MimeType).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert transcript: %w", err)
	}
	return id, nil
}

// ListTranscripts returns a user's most recent transcripts, newest first.
func (db *DB) ListTranscripts(ctx context.Context, userID string, limit int) ([]TranscriptAPI, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT id, user_id, text, confidence, duration_sec, credits_spent, provider, model, mime_type, created_at
		 FROM transcripts
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	out := make([]TranscriptAPI, 0, limit)
	for rows.Next() {
		var t TranscriptAPI
		if err := rows.Scan(&t.ID, &t.UserID, &t.Text, &t.Confidence, &t.DurationSec,
			&t.CreditsSpent, &t.Provider, &t.Model, &t.MimeType, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
