package subtitles

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ErrAudioExtraction wraps failures to produce the intermediate WAV file.
var ErrAudioExtraction = errors.New("audio extraction failed")

// ErrTranscription wraps whisper invocation failures.
var ErrTranscription = errors.New("transcription failed")

// commandContext is swapped out in tests to avoid spawning real tools.
var commandContext = exec.CommandContext

// Transcriber drives whisper-cli against audio extracted from media files.
type Transcriber struct {
	ffmpegPath  string
	whisperPath string
	modelPath   string
	timeout     time.Duration
	logger      hclog.Logger
}

// NewTranscriber creates a whisper transcriber.
func NewTranscriber(ffmpegPath, whisperPath, modelPath string, timeout time.Duration, logger hclog.Logger) *Transcriber {
	return &Transcriber{
		ffmpegPath:  ffmpegPath,
		whisperPath: whisperPath,
		modelPath:   modelPath,
		timeout:     timeout,
		logger:      logger.Named("whisper"),
	}
}

// ModelAvailable reports whether the configured model file exists.
func (t *Transcriber) ModelAvailable() bool {
	_, err := os.Stat(t.modelPath)
	return err == nil
}

// BinaryAvailable reports whether whisper-cli can be found.
func (t *Transcriber) BinaryAvailable() bool {
	_, err := exec.LookPath(t.whisperPath)
	return err == nil
}

// ExtractAudio demuxes one audio track into a 16 kHz mono PCM WAV, the
// input format whisper expects.
func (t *Transcriber) ExtractAudio(ctx context.Context, mediaPath string, audioTrack int, wavPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := commandContext(ctx, t.ffmpegPath,
		"-y",
		"-i", mediaPath,
		"-map", "0:a:"+strconv.Itoa(audioTrack),
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		wavPath,
	)

	if out, err := cmd.CombinedOutput(); err != nil {
		// A cancelled context kills ffmpeg; report the cancellation, not
		// the kill signal.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v: %s", ErrAudioExtraction, err, tail(out))
	}

	st, err := os.Stat(wavPath)
	if err != nil || st.Size() == 0 {
		return fmt.Errorf("%w: no audio written for track %d of %s", ErrAudioExtraction, audioTrack, mediaPath)
	}
	return nil
}

// Transcribe runs whisper-cli on a WAV file and returns the parsed
// segments plus the spoken language. language may be empty to let whisper
// auto-detect; the detected language is read back from its log output.
func (t *Transcriber) Transcribe(ctx context.Context, wavPath, language string) ([]Segment, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	outBase := strings.TrimSuffix(wavPath, filepath.Ext(wavPath))
	args := []string{
		"-m", t.modelPath,
		"-f", wavPath,
		"-osrt",
		"-of", outBase,
		"-et", "2.4",
		"-lpt", "-0.5",
		"--max-context", "224",
		"-bo", "5",
		"-bs", "5",
	}
	if language != "" {
		args = append(args, "-l", language)
	}

	t.logger.Info("running whisper", "wav", wavPath, "language", language)
	cmd := commandContext(ctx, t.whisperPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, "", fmt.Errorf("%w: timed out after %s", ErrTranscription, t.timeout)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		return nil, "", fmt.Errorf("%w: %v: %s", ErrTranscription, err, tail(out))
	}

	detected := language
	if detected == "" {
		detected = detectedLanguage(out)
	}

	srtPath := outBase + ".srt"
	data, err := os.ReadFile(srtPath)
	if err != nil {
		return nil, "", fmt.Errorf("%w: whisper produced no output file: %v", ErrTranscription, err)
	}
	defer os.Remove(srtPath)

	segments := FilterHallucinations(ParseSRT(data))
	if len(segments) == 0 {
		return nil, "", fmt.Errorf("%w: no usable segments in whisper output", ErrTranscription)
	}
	return segments, detected, nil
}

// detectedLanguage scans whisper's log output for the auto-detection line,
// e.g. "whisper_full_with_state: auto-detected language: hu (p = 0.93)".
func detectedLanguage(out []byte) string {
	const marker = "auto-detected language:"
	for _, line := range strings.Split(string(out), "\n") {
		idx := strings.Index(line, marker)
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(line[idx+len(marker):])
		if fields := strings.Fields(rest); len(fields) > 0 {
			return strings.ToLower(fields[0])
		}
	}
	return ""
}

// hallucinationPhrases are texts whisper is known to invent on silence or
// music-only passages.
var hallucinationPhrases = []string{
	"thank you for watching",
	"thanks for watching",
	"subtitles by",
	"subscribe",
	"www.",
	"copyright",
	"[music]",
	"[applause]",
	"(music)",
	"♪",
}

// FilterHallucinations drops segments that are empty, match known
// hallucination phrases, or repeat the same text more than three times in a
// row (a whisper looping artifact).
func FilterHallucinations(segments []Segment) []Segment {
	var out []Segment
	repeats := 0
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text == "" || isHallucination(text) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Text == s.Text {
			repeats++
			if repeats >= 3 {
				continue
			}
		} else {
			repeats = 0
		}
		out = append(out, s)
	}
	return out
}

func isHallucination(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range hallucinationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func tail(out []byte) string {
	const max = 400
	s := strings.TrimSpace(string(out))
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return s
}
