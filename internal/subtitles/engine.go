package subtitles

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"vetito/internal/metadata"
)

// ProgressFunc receives checkpoint updates during generation. percent is
// monotonic within one run.
type ProgressFunc func(percent int, message string)

// GenerateRequest describes one subtitle generation run.
type GenerateRequest struct {
	MediaPath  string
	AudioTrack int
	// Language is the spoken-language hint for whisper; empty means
	// auto-detect.
	Language string
	// Translate requests translation of the transcript. When set and the
	// translation backend is down, generation fails instead of silently
	// returning the untranslated transcript.
	Translate      bool
	TargetLanguage string
	// OutputPath is the destination .srt. Empty derives a sidecar path
	// next to the media file.
	OutputPath string
}

// GenerateResult summarizes a completed generation run.
type GenerateResult struct {
	OutputPath       string `json:"output_path"`
	Segments         int    `json:"segments"`
	Translated       bool   `json:"translated"`
	DetectedLanguage string `json:"detected_language,omitempty"`
	Fingerprint      string `json:"fingerprint,omitempty"`
}

// Capabilities reports which parts of the generation pipeline are usable on
// this host.
type Capabilities struct {
	WhisperBinary      bool `json:"whisper_binary"`
	WhisperModel       bool `json:"whisper_model"`
	TranslationEnabled bool `json:"translation_enabled"`
	OllamaReachable    bool `json:"ollama_reachable"`
	Fingerprinting     bool `json:"fingerprinting"`
}

// Engine runs the full generation pipeline: audio extraction, whisper
// transcription, optional ollama translation, SRT output.
type Engine struct {
	transcriber        *Transcriber
	ollama             *OllamaClient
	fpcalcPath         string
	translationEnabled bool
	logger             hclog.Logger
}

// NewEngine assembles the generation engine.
func NewEngine(transcriber *Transcriber, ollama *OllamaClient, fpcalcPath string, translationEnabled bool, logger hclog.Logger) *Engine {
	return &Engine{
		transcriber:        transcriber,
		ollama:             ollama,
		fpcalcPath:         fpcalcPath,
		translationEnabled: translationEnabled,
		logger:             logger.Named("subtitle-engine"),
	}
}

// Capabilities probes the pipeline's external dependencies.
func (e *Engine) Capabilities(ctx context.Context) Capabilities {
	caps := Capabilities{
		WhisperBinary:      e.transcriber.BinaryAvailable(),
		WhisperModel:       e.transcriber.ModelAvailable(),
		TranslationEnabled: e.translationEnabled,
	}
	if e.translationEnabled {
		caps.OllamaReachable = e.ollama.Available(ctx)
	}
	if _, err := exec.LookPath(e.fpcalcPath); err == nil {
		caps.Fingerprinting = true
	}
	return caps
}

// Generate runs the pipeline. The context is checked between steps, so a
// cancelled job stops at the next checkpoint rather than mid-extraction.
func (e *Engine) Generate(ctx context.Context, req GenerateRequest, progress ProgressFunc) (*GenerateResult, error) {
	if progress == nil {
		progress = func(int, string) {}
	}

	progress(5, "validating media file")
	if _, err := os.Stat(req.MediaPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAudioExtraction, err)
	}
	if req.Translate && !e.translationEnabled {
		return nil, fmt.Errorf("%w: translation disabled in configuration", ErrTranslationUnavailable)
	}
	if req.Translate && !e.ollama.Available(ctx) {
		return nil, fmt.Errorf("%w: ollama unreachable", ErrTranslationUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "subgen-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAudioExtraction, err)
	}
	defer os.RemoveAll(workDir)
	wavPath := filepath.Join(workDir, "audio.wav")

	progress(10, "extracting audio track")
	if err := e.transcriber.ExtractAudio(ctx, req.MediaPath, req.AudioTrack, wavPath); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress(15, "fingerprinting audio")
	var fingerprint string
	if fp, err := Fingerprint(ctx, e.fpcalcPath, wavPath); err != nil {
		e.logger.Warn("fingerprinting failed, continuing without", "error", err)
	} else if fp != nil {
		fingerprint = fp.Fingerprint
	}

	progress(25, "transcribing audio")
	segments, detected, err := e.transcriber.Transcribe(ctx, wavPath, req.Language)
	if err != nil {
		return nil, err
	}
	progress(60, "transcription complete")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	translated := false
	if req.Translate && metadata.LanguageMatches(detected, req.TargetLanguage) {
		e.logger.Info("transcript already in target language, skipping translation",
			"language", detected)
	} else if req.Translate {
		progress(65, "translating subtitles")
		segments, err = e.ollama.Translate(ctx, segments, req.TargetLanguage)
		if err != nil {
			return nil, err
		}
		translated = true
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress(90, "writing subtitle file")
	outPath := req.OutputPath
	if outPath == "" {
		outPath = deriveOutputPath(req, detected)
	}
	if err := os.WriteFile(outPath, []byte(FormatSRT(segments)), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write subtitle file: %w", err)
	}

	progress(100, "subtitle generation complete")
	e.logger.Info("generated subtitles",
		"media", req.MediaPath,
		"output", outPath,
		"segments", len(segments),
		"translated", translated)

	return &GenerateResult{
		OutputPath:       outPath,
		Segments:         len(segments),
		Translated:       translated,
		DetectedLanguage: detected,
		Fingerprint:      fingerprint,
	}, nil
}

// deriveOutputPath builds a sidecar path like "movie.hu.srt" so the
// external subtitle detector picks the result up on the next listing.
func deriveOutputPath(req GenerateRequest, detected string) string {
	base := strings.TrimSuffix(req.MediaPath, filepath.Ext(req.MediaPath))
	lang := req.Language
	if lang == "" {
		lang = detected
	}
	if req.Translate && req.TargetLanguage != "" {
		lang = req.TargetLanguage
	}
	if lang == "" {
		return base + ".srt"
	}
	return base + "." + strings.ToLower(lang) + ".srt"
}
