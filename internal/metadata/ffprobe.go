// Package metadata inspects media files with ffprobe and exposes their
// track layout. Results are cached per file and invalidated when the file
// changes on disk.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// ErrProbeFailed wraps any ffprobe invocation or parse failure.
var ErrProbeFailed = errors.New("probe failed")

// commandContext is swapped out in tests to avoid spawning real processes.
var commandContext = exec.CommandContext

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeStream struct {
	Index       int    `json:"index"`
	CodecType   string `json:"codec_type"`
	CodecName   string `json:"codec_name"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Channels    int    `json:"channels,omitempty"`
	Tags        ffprobeTags `json:"tags"`
	Disposition struct {
		Default int `json:"default"`
	} `json:"disposition"`
}

type ffprobeTags struct {
	Language string `json:"language"`
	Title    string `json:"title"`
}

func runFFprobe(ctx context.Context, ffprobePath, mediaPath string) (*ffprobeOutput, error) {
	cmd := commandContext(ctx, ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		mediaPath,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s on %s: %v", ErrProbeFailed, ffprobePath, mediaPath, err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed ffprobe output for %s: %v", ErrProbeFailed, mediaPath, err)
	}
	return &parsed, nil
}

// toMediaInfo flattens the raw ffprobe stream list into type-relative track
// lists. The audio track index here is the N in ffmpeg's -map 0:a:N, which
// is what the stream pipeline and the subtitle extractor both consume.
func (o *ffprobeOutput) toMediaInfo() *MediaInfo {
	info := &MediaInfo{
		Container: o.Format.FormatName,
	}
	if d, err := strconv.ParseFloat(o.Format.Duration, 64); err == nil {
		info.DurationSeconds = d
	}

	var videoIdx, audioIdx, subIdx int
	for _, s := range o.Streams {
		switch s.CodecType {
		case "video":
			info.Video = append(info.Video, VideoTrack{
				Index:  videoIdx,
				Codec:  s.CodecName,
				Width:  s.Width,
				Height: s.Height,
			})
			videoIdx++
		case "audio":
			info.Audio = append(info.Audio, AudioTrack{
				Index:    audioIdx,
				Codec:    s.CodecName,
				Language: s.Tags.Language,
				Title:    s.Tags.Title,
				Channels: s.Channels,
				Default:  s.Disposition.Default == 1,
			})
			audioIdx++
		case "subtitle":
			info.Subtitles = append(info.Subtitles, SubtitleTrack{
				Index:    subIdx,
				Codec:    s.CodecName,
				Language: s.Tags.Language,
				Title:    s.Tags.Title,
				Default:  s.Disposition.Default == 1,
			})
			subIdx++
		}
	}
	return info
}
