// Package mediastore provides read access to the media library. The library
// scanner populates the tables; the streaming and subtitle components only
// look items up and enumerate episodes.
package mediastore

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"vetito/internal/database"
)

// ErrNotFound is returned when a media id does not exist in the library.
var ErrNotFound = errors.New("media not found")

// Store is the library repository.
type Store struct {
	db *gorm.DB
}

// New creates a media store backed by the given database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FindByID looks up a single media file.
func (s *Store) FindByID(id int64) (*database.MediaFile, error) {
	var media database.MediaFile
	err := s.db.First(&media, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &media, nil
}

// EpisodesBySeries returns all episodes of a series ordered by season then
// episode number. Batch generation depends on this ordering.
func (s *Store) EpisodesBySeries(seriesID int64) ([]database.MediaFile, error) {
	var episodes []database.MediaFile
	err := s.db.
		Where("series_id = ? AND media_type = ?", seriesID, database.MediaTypeEpisode).
		Order("season ASC, episode ASC").
		Find(&episodes).Error
	if err != nil {
		return nil, err
	}
	return episodes, nil
}

// EpisodesBySeason returns one season's episodes ordered by episode number.
func (s *Store) EpisodesBySeason(seriesID int64, season int) ([]database.MediaFile, error) {
	var episodes []database.MediaFile
	err := s.db.
		Where("series_id = ? AND media_type = ? AND season = ?", seriesID, database.MediaTypeEpisode, season).
		Order("episode ASC").
		Find(&episodes).Error
	if err != nil {
		return nil, err
	}
	return episodes, nil
}

// UpdateProbeSummary records the container details learned from a probe.
func (s *Store) UpdateProbeSummary(id int64, durationSeconds float64, container, videoCodec, audioCodec string) error {
	return s.db.Model(&database.MediaFile{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"duration_seconds": durationSeconds,
			"container":        container,
			"video_codec":      videoCodec,
			"audio_codec":      audioCodec,
		}).Error
}
