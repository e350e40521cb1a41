package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := Defaults()

	assert.Equal(t, "sqlite", c.Database.Type)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 1, c.Jobs.EngineConcurrency)
	assert.Equal(t, 10*time.Second, c.Transcoding.StartupTimeout.Std())
	assert.NoError(t, c.Validate())
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
jobs:
  engine_concurrency: 2
subtitles:
  ollama_model: qwen2.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c := Load(path)

	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, 2, c.Jobs.EngineConcurrency)
	assert.Equal(t, "qwen2.5", c.Subtitles.OllamaModel)
	// Untouched sections keep their defaults.
	assert.Equal(t, "ffmpeg", c.Transcoding.FFmpegPath)
}

func TestLoadDurationStrings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
transcoding:
  startup_timeout: 30s
subtitles:
  whisper_timeout: 1h30m
jobs:
  retention: 48h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c := Load(path)

	assert.Equal(t, 30*time.Second, c.Transcoding.StartupTimeout.Std())
	assert.Equal(t, 90*time.Minute, c.Subtitles.WhisperTimeout.Std())
	assert.Equal(t, 48*time.Hour, c.Jobs.Retention.Std())
	// Untouched durations keep their defaults.
	assert.Equal(t, 2*time.Second, c.Transcoding.TerminateGrace.Std())
}

func TestLoadMalformedFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not: a map"), 0o644))

	c := Load(path)

	assert.Equal(t, 8080, c.Server.Port)
	assert.NoError(t, c.Validate())
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("VETITO_PORT", "7070")
	t.Setenv("VETITO_ENGINE_CONCURRENCY", "3")

	c := Load("")

	assert.Equal(t, 7070, c.Server.Port)
	assert.Equal(t, 3, c.Jobs.EngineConcurrency)
}

func TestValidateRejectsBadValues(t *testing.T) {
	c := Defaults()
	c.Database.Type = "cassandra"
	assert.Error(t, c.Validate())

	c = Defaults()
	c.Jobs.EngineConcurrency = 0
	assert.Error(t, c.Validate())
}
