package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// ItemType says how the item's URL field should be interpreted.
type ItemType string

const (
	TypeSongName        ItemType = "song_name"
	TypeSpotifyTrack    ItemType = "spotify_track"
	TypeSpotifyPlaylist ItemType = "spotify_playlist"
	TypeSoundCloudTrack ItemType = "soundcloud_track"
	TypeYouTubeURL      ItemType = "youtube_url"
)

// ParseItemType validates s as an ItemType.
func ParseItemType(s string) (ItemType, error) {
	switch t := ItemType(s); t {
	case TypeSongName, TypeSpotifyTrack, TypeSpotifyPlaylist, TypeSoundCloudTrack, TypeYouTubeURL:
		return t, nil
	}
	return "", fmt.Errorf("unknown item type %q", s)
}

// Metadata carries optional display hints known at enqueue time.
type Metadata struct {
	Title        string `json:"title,omitempty"`
	Artist       string `json:"artist,omitempty"`
	PlaylistName string `json:"playlist_name,omitempty"`
	TotalTracks  int    `json:"total_tracks,omitempty"`
	TrackIndex   int    `json:"track_index,omitempty"`
}

// Item is one durable unit of resolve and fetch work.
type Item struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Type         ItemType   `json:"item_type"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`
	Metadata     *Metadata  `json:"metadata,omitempty"`
}

// NewItem creates a pending item with a fresh UUID.
func NewItem(url string, typ ItemType, meta *Metadata) Item {
	return Item{
		ID:        uuid.NewString(),
		URL:       url,
		Type:      typ,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		Metadata:  meta,
	}
}

func (i *Item) StartProcessing(now time.Time) {
	i.Status = StatusInProgress
	i.StartedAt = &now
}

func (i *Item) Complete(now time.Time) {
	i.Status = StatusCompleted
	i.CompletedAt = &now
	i.ErrorMessage = nil
}

// Fail marks the item failed and counts the attempt.
func (i *Item) Fail(msg string, now time.Time) {
	i.Status = StatusFailed
	i.ErrorMessage = &msg
	i.CompletedAt = &now
	i.RetryCount++
}

// Skip marks the item skipped. Skips are not counted as attempts.
func (i *Item) Skip(reason string, now time.Time) {
	i.Status = StatusSkipped
	i.ErrorMessage = &reason
	i.CompletedAt = &now
}

// ResetForRetry returns the item to pending. RetryCount is kept.
func (i *Item) ResetForRetry() {
	i.Status = StatusPending
	i.StartedAt = nil
	i.CompletedAt = nil
	i.ErrorMessage = nil
}

// IsTerminal reports whether the item reached completed, failed or skipped.
func (i Item) IsTerminal() bool {
	switch i.Status {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// ErrorText returns the error message or "".
func (i Item) ErrorText() string {
	if i.ErrorMessage == nil {
		return ""
	}
	return *i.ErrorMessage
}

// DisplayName is a short human label for logs and status output.
func (i Item) DisplayName() string {
	if m := i.Metadata; m != nil {
		switch {
		case m.Artist != "" && m.Title != "":
			return m.Artist + " - " + m.Title
		case m.Title != "":
			return m.Title
		case m.PlaylistName != "":
			return "Playlist: " + m.PlaylistName
		}
	}
	r := []rune(i.URL)
	if len(r) > 50 {
		return string(r[:47]) + "..."
	}
	return i.URL
}
