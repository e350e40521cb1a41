// Package subtitles implements subtitle parsing, conversion, discovery and
// the whisper-based generation engine.
package subtitles

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Segment is one subtitle cue.
type Segment struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

// ParseSRT parses SubRip text into segments. Cues with malformed timestamps
// are skipped rather than failing the whole file; whisper occasionally
// emits a truncated final cue.
func ParseSRT(data []byte) []Segment {
	var segments []Segment
	scanner := bufio.NewScanner(strings.NewReader(decodeText(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var cur *Segment
	var textLines []string
	flush := func() {
		if cur != nil && len(textLines) > 0 {
			cur.Text = strings.Join(textLines, "\n")
			cur.Index = len(segments) + 1
			segments = append(segments, *cur)
		}
		cur = nil
		textLines = nil
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			flush()
		case cur == nil && isCueNumber(trimmed):
			// Cue counter line, ignored; we renumber on output.
		case strings.Contains(trimmed, "-->"):
			start, end, err := parseTimingLine(trimmed)
			if err != nil {
				cur = nil
				textLines = nil
				continue
			}
			cur = &Segment{Start: start, End: end}
		case cur != nil:
			textLines = append(textLines, line)
		}
	}
	flush()
	return segments
}

// FormatSRT serializes segments back to SubRip, renumbering from 1.
func FormatSRT(segments []Segment) string {
	var b strings.Builder
	for i, s := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1, formatSRTTime(s.Start), formatSRTTime(s.End), s.Text)
	}
	return b.String()
}

func isCueNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func parseTimingLine(line string) (time.Duration, time.Duration, error) {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed timing line: %q", line)
	}
	start, err := parseSRTTime(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	end, err := parseSRTTime(strings.Fields(strings.TrimSpace(parts[1]))[0])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseSRTTime parses "HH:MM:SS,mmm". A dot separator is tolerated since
// some tools emit VTT-style timestamps inside .srt files.
func parseSRTTime(s string) (time.Duration, error) {
	s = strings.Replace(s, ".", ",", 1)
	var h, m, sec, ms int
	if _, err := fmt.Sscanf(s, "%d:%d:%d,%d", &h, &m, &sec, &ms); err != nil {
		return 0, fmt.Errorf("malformed timestamp %q: %w", s, err)
	}
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

func formatSRTTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	ms := (d - s*time.Second) / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// decodeText returns UTF-8 text, reinterpreting as Latin-1 when the bytes
// are not valid UTF-8. External subtitle files from older sources are often
// Latin-1 or Windows-1252 encoded.
func decodeText(data []byte) string {
	data = stripBOM(data)
	if utf8.Valid(data) {
		return string(data)
	}
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
