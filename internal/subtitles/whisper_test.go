package subtitles

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTools intercepts tool invocations. ffmpeg calls write a stub WAV to
// their last argument; whisper calls write fixed SRT next to the -f input.
func fakeTools(t *testing.T, whisperSRT string) *[][]string {
	t.Helper()
	var invocations [][]string
	orig := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		invocations = append(invocations, append([]string{name}, args...))
		switch {
		case name == "ffmpeg":
			wav := args[len(args)-1]
			return exec.CommandContext(ctx, "sh", "-c", fmt.Sprintf("printf RIFF > %q", wav))
		case name == "whisper-cli":
			var wav string
			for i, a := range args {
				if a == "-f" && i+1 < len(args) {
					wav = args[i+1]
				}
			}
			srt := strings.TrimSuffix(wav, filepath.Ext(wav)) + ".srt"
			script := fmt.Sprintf(
				"echo 'whisper_full_with_state: auto-detected language: hu (p = 0.931)'\ncat > %q <<'EOF'\n%s\nEOF", srt, whisperSRT)
			return exec.CommandContext(ctx, "sh", "-c", script)
		default:
			return exec.CommandContext(ctx, "false")
		}
	}
	t.Cleanup(func() { commandContext = orig })
	return &invocations
}

func newTestTranscriber(t *testing.T) *Transcriber {
	t.Helper()
	model := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, os.WriteFile(model, []byte("weights"), 0o644))
	return NewTranscriber("ffmpeg", "whisper-cli", model, time.Minute, hclog.NewNullLogger())
}

func TestExtractAudioArgs(t *testing.T) {
	invocations := fakeTools(t, sampleSRT)
	tr := newTestTranscriber(t)
	wav := filepath.Join(t.TempDir(), "audio.wav")

	require.NoError(t, tr.ExtractAudio(context.Background(), "/library/movie.mkv", 2, wav))

	require.Len(t, *invocations, 1)
	joined := strings.Join((*invocations)[0], " ")
	assert.Contains(t, joined, "-map 0:a:2")
	assert.Contains(t, joined, "-ar 16000")
	assert.Contains(t, joined, "-ac 1")
	assert.Contains(t, joined, "-c:a pcm_s16le")
}

func TestTranscribeParsesOutput(t *testing.T) {
	invocations := fakeTools(t, sampleSRT)
	tr := newTestTranscriber(t)
	wav := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(wav, []byte("RIFF"), 0o644))

	segments, language, err := tr.Transcribe(context.Background(), wav, "hu")
	require.NoError(t, err)
	assert.Len(t, segments, 3)
	assert.Equal(t, "hu", language)

	joined := strings.Join((*invocations)[0], " ")
	assert.Contains(t, joined, "-osrt")
	assert.Contains(t, joined, "-et 2.4")
	assert.Contains(t, joined, "--max-context 224")
	assert.Contains(t, joined, "-l hu")
	// Output file is cleaned up after parsing.
	assert.NoFileExists(t, strings.TrimSuffix(wav, ".wav")+".srt")
}

func TestTranscribeAutoDetectOmitsLanguageFlag(t *testing.T) {
	invocations := fakeTools(t, sampleSRT)
	tr := newTestTranscriber(t)
	wav := filepath.Join(t.TempDir(), "audio.wav")

	_, language, err := tr.Transcribe(context.Background(), wav, "")
	require.NoError(t, err)
	assert.NotContains(t, strings.Join((*invocations)[0], " "), "-l ")
	// The language comes back from whisper's own detection log line.
	assert.Equal(t, "hu", language)
}

func TestTranscribeAllSegmentsFiltered(t *testing.T) {
	fakeTools(t, "1\n00:00:01,000 --> 00:00:02,000\n[Music]\n")
	tr := newTestTranscriber(t)
	wav := filepath.Join(t.TempDir(), "audio.wav")

	_, _, err := tr.Transcribe(context.Background(), wav, "")
	assert.ErrorIs(t, err, ErrTranscription)
}

func TestFilterHallucinations(t *testing.T) {
	seg := func(text string) Segment { return Segment{End: time.Second, Text: text} }
	in := []Segment{
		seg("Real dialogue."),
		seg("[Music]"),
		seg("Thank you for watching!"),
		seg("Subtitles by SomeGroup"),
		seg("   "),
		seg("More dialogue."),
	}
	out := FilterHallucinations(in)
	require.Len(t, out, 2)
	assert.Equal(t, "Real dialogue.", out[0].Text)
	assert.Equal(t, "More dialogue.", out[1].Text)
}

func TestFilterHallucinationsRepeatLoop(t *testing.T) {
	var in []Segment
	for i := 0; i < 10; i++ {
		in = append(in, Segment{Text: "same line"})
	}
	in = append(in, Segment{Text: "different"})

	out := FilterHallucinations(in)
	// The first few repeats survive, the loop tail is dropped.
	require.Len(t, out, 4)
	assert.Equal(t, "different", out[len(out)-1].Text)
}
