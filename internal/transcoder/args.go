// Package transcoder manages ffmpeg processes that remux or transcode media
// into fragmented MP4 on stdout for HTTP streaming.
package transcoder

import (
	"strconv"
	"strings"
)

// browserSafeVideo lists video codecs browsers decode natively. Anything
// else gets transcoded to H.264.
var browserSafeVideo = map[string]bool{
	"h264": true,
	"avc":  true,
	"avc1": true,
	"vp8":  true,
	"vp9":  true,
	"av1":  true,
	"av01": true,
}

// StartSpec describes one stream to produce.
type StartSpec struct {
	MediaPath     string
	OffsetSeconds int
	// AudioTrack is the type-relative audio stream index (ffmpeg -map 0:a:N).
	AudioTrack int
	VideoCodec string
	AudioCodec string
}

// VideoCopySafe reports whether the source video codec can be remuxed
// without transcoding.
func VideoCopySafe(codec string) bool {
	return browserSafeVideo[strings.ToLower(codec)]
}

// buildStreamArgs assembles the ffmpeg argument list for a fragmented MP4
// stream on stdout. Video is stream-copied when browser-safe, audio is
// stream-copied when already AAC; everything else is transcoded.
func buildStreamArgs(spec StartSpec) []string {
	args := []string{"-i", spec.MediaPath}

	if spec.OffsetSeconds > 0 {
		args = append(args, "-ss", strconv.Itoa(spec.OffsetSeconds))
	}

	args = append(args,
		"-map", "0:v:0",
		"-map", "0:a:"+strconv.Itoa(spec.AudioTrack),
	)

	if VideoCopySafe(spec.VideoCodec) {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-crf", "23")
	}

	if strings.EqualFold(spec.AudioCodec, "aac") {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-c:a", "aac", "-b:a", "192k", "-ac", "2")
	}

	args = append(args,
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
		"-",
	)
	return args
}
