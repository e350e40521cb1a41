package subtitles

import (
	"fmt"
	"strings"
	"time"
)

// ToVTT serializes segments as WebVTT, shifting every cue back by offset.
// The shift compensates for streams started mid-file: the player's clock is
// zero at the seek point, so cue times must be rebased. Cues that would end
// at or before zero are dropped; a cue straddling zero is clamped to start
// at zero.
func ToVTT(segments []Segment, offset time.Duration) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")

	for _, s := range segments {
		start := s.Start - offset
		end := s.End - offset
		if end <= 0 {
			continue
		}
		if start < 0 {
			start = 0
		}
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			formatVTTTime(start), formatVTTTime(end), s.Text)
	}
	return b.String()
}

// SRTToVTT converts raw SubRip bytes to WebVTT with a cue time offset.
func SRTToVTT(data []byte, offset time.Duration) string {
	return ToVTT(ParseSRT(data), offset)
}

func formatVTTTime(d time.Duration) string {
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	ms := (d - s*time.Second) / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
