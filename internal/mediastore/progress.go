package mediastore

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"vetito/internal/database"
)

// Watch threshold: a position within the final minute of the file counts
// as watched.
const watchedTailSeconds = 60

// Progress is the stored watch state for one media file.
type Progress struct {
	MediaID   int64      `json:"media_id"`
	Position  int64      `json:"position"`
	IsWatched bool       `json:"is_watched"`
	WatchedAt *time.Time `json:"watched_at,omitempty"`
}

// GetProgress returns the watch state for a media file. Media that was never
// played reports a zero position.
func (s *Store) GetProgress(id int64) (*Progress, error) {
	media, err := s.FindByID(id)
	if err != nil {
		return nil, err
	}
	return &Progress{
		MediaID:   media.ID,
		Position:  media.CurrentPosition,
		IsWatched: media.IsWatched,
		WatchedAt: media.WatchedAt,
	}, nil
}

// SaveProgress records a playback position. The file is marked watched when
// the client says so, or when the position reaches the final minute of a
// file with a known duration. Once watched, a file stays watched even if
// playback later rewinds. Saving the same state twice is a no-op.
func (s *Store) SaveProgress(id int64, position int64, watched bool) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var media database.MediaFile
		if err := tx.First(&media, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if position < 0 {
			position = 0
		}

		updates := map[string]any{"current_position": position}
		nearEnd := media.DurationSeconds > 0 &&
			float64(position) >= media.DurationSeconds-watchedTailSeconds
		if !media.IsWatched && (watched || nearEnd) {
			now := time.Now().UTC()
			updates["is_watched"] = true
			updates["watched_at"] = &now
		}

		if media.CurrentPosition == position && len(updates) == 1 {
			return nil
		}

		return tx.Model(&database.MediaFile{}).Where("id = ?", id).Updates(updates).Error
	})
}
