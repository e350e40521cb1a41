package database

import (
	"time"
)

// Media types stored in MediaFile.MediaType.
const (
	MediaTypeMovie   = "movie"
	MediaTypeEpisode = "episode"
)

// MediaFile represents one playable unit in the library: a movie or an
// episode. The library scanner owns these rows; the streaming and subtitle
// components read them and only write the watch-progress columns.
type MediaFile struct {
	ID        int64  `gorm:"primaryKey" json:"id"`
	Path      string `gorm:"not null;uniqueIndex" json:"path"`
	Title     string `json:"title"`
	MediaType string `gorm:"index" json:"media_type"`

	// Episode linkage; null for movies.
	SeriesID *int64 `gorm:"index" json:"series_id,omitempty"`
	Season   *int   `json:"season,omitempty"`
	Episode  *int   `json:"episode,omitempty"`

	// Probed container summary; zero until first probe.
	DurationSeconds float64 `json:"duration_seconds"`
	Container       string  `json:"container,omitempty"`
	VideoCodec      string  `json:"video_codec,omitempty"`
	AudioCodec      string  `json:"audio_codec,omitempty"`

	// Watch progress. Single-profile server, so progress lives on the
	// media row itself.
	CurrentPosition int64      `json:"current_position"`
	IsWatched       bool       `json:"is_watched"`
	WatchedAt       *time.Time `json:"watched_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
