package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CompletedRecord marks a source URL as fetched into the library.
type CompletedRecord struct {
	SourceURL   string    `json:"source_url"`
	ItemID      string    `json:"item_id"`
	Query       string    `json:"query"`
	Artist      string    `json:"artist"`
	Title       string    `json:"title"`
	FilePath    string    `json:"file_path"`
	CompletedAt time.Time `json:"completed_at"`
}

// Resolution is the stored outcome of one search session.
type Resolution struct {
	ID          string    `json:"id"`
	Query       string    `json:"query"`
	Outcome     string    `json:"outcome"`
	Rounds      int       `json:"rounds"`
	SelectedURL string    `json:"selected_url"`
	Confidence  float64   `json:"confidence"`
	DurationMs  int64     `json:"duration_ms"`
	SessionJSON string    `json:"-"` // full session, stored as text
	CreatedAt   time.Time `json:"created_at"`
}
