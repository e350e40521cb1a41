package subtitles

import (
	"context"
	"fmt"
	"strconv"

	"vetito/internal/metadata"
)

// Track source types.
const (
	TrackExternal = "external"
	TrackEmbedded = "embedded"
)

// ErrTrackNotFound is returned when a subtitle index is out of range.
var ErrTrackNotFound = fmt.Errorf("subtitle track not found")

// TrackRef is one selectable subtitle in the combined index space clients
// address: sidecar files first, then embedded streams.
type TrackRef struct {
	Index    int    `json:"index"`
	Type     string `json:"type"`
	Language string `json:"language,omitempty"`
	Title    string `json:"title,omitempty"`
	Codec    string `json:"codec,omitempty"`

	// Path is set for external tracks, EmbeddedIndex for embedded ones
	// (the N in ffmpeg -map 0:s:N).
	Path          string `json:"-"`
	EmbeddedIndex int    `json:"-"`
}

// ListTracks builds the combined subtitle list for a media file.
func ListTracks(mediaPath string, embedded []metadata.SubtitleTrack) []TrackRef {
	var tracks []TrackRef
	for _, ext := range DiscoverExternal(mediaPath) {
		tracks = append(tracks, TrackRef{
			Index:    len(tracks),
			Type:     TrackExternal,
			Language: ext.Language,
			Title:    ext.Title,
			Codec:    "subrip",
			Path:     ext.Path,
		})
	}
	for _, emb := range embedded {
		tracks = append(tracks, TrackRef{
			Index:         len(tracks),
			Type:          TrackEmbedded,
			Language:      emb.Language,
			Title:         emb.Title,
			Codec:         emb.Codec,
			EmbeddedIndex: emb.Index,
		})
	}
	return tracks
}

// ResolveTrack finds one entry of the combined list by index.
func ResolveTrack(mediaPath string, embedded []metadata.SubtitleTrack, index int) (*TrackRef, error) {
	tracks := ListTracks(mediaPath, embedded)
	if index < 0 || index >= len(tracks) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrTrackNotFound, index, len(tracks))
	}
	return &tracks[index], nil
}

// LoadTrack reads a track's cues: external files from disk, embedded
// streams demuxed with ffmpeg.
func LoadTrack(ctx context.Context, ffmpegPath, mediaPath string, track *TrackRef) ([]Segment, error) {
	if track.Type == TrackExternal {
		return ReadExternal(track.Path)
	}
	return ExtractEmbedded(ctx, ffmpegPath, mediaPath, track.EmbeddedIndex)
}

// ExtractEmbedded demuxes one embedded subtitle stream to SRT.
func ExtractEmbedded(ctx context.Context, ffmpegPath, mediaPath string, embeddedIndex int) ([]Segment, error) {
	cmd := commandContext(ctx, ffmpegPath,
		"-i", mediaPath,
		"-map", "0:s:"+strconv.Itoa(embeddedIndex),
		"-f", "srt",
		"-",
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to extract subtitle stream %d from %s: %w", embeddedIndex, mediaPath, err)
	}
	return ParseSRT(out), nil
}
