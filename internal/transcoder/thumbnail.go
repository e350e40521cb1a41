package transcoder

import (
	"context"
	"fmt"
	"strconv"
)

// Thumbnail extracts a single JPEG frame from the media file, scaled to the
// given width (0 picks a default). The seek is placed before -i so ffmpeg
// jumps by keyframe instead of decoding up to the offset.
func (m *Manager) Thumbnail(ctx context.Context, mediaPath string, atSeconds, width int) ([]byte, error) {
	if atSeconds < 0 {
		atSeconds = 0
	}
	if width <= 0 {
		width = 480
	}

	cmd := commandContext(ctx, m.ffmpegPath,
		"-ss", strconv.Itoa(atSeconds),
		"-i", mediaPath,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:-2", width),
		"-f", "image2",
		"-c:v", "mjpeg",
		"-",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("thumbnail extraction failed for %s: %w", mediaPath, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("thumbnail extraction produced no frame for %s", mediaPath)
	}
	return out, nil
}
