package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads "10s" style strings from YAML;
// bare integers are taken as nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %v", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration: %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	Database    DatabaseConfig    `yaml:"database" json:"database"`
	Transcoding TranscodingConfig `yaml:"transcoding" json:"transcoding"`
	Subtitles   SubtitlesConfig   `yaml:"subtitles" json:"subtitles"`
	Jobs        JobsConfig        `yaml:"jobs" json:"jobs"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	EnableCORS bool   `yaml:"enable_cors" json:"enable_cors"`
}

// DatabaseConfig selects and configures the backing database
type DatabaseConfig struct {
	Type         string `yaml:"type" json:"type"` // sqlite or postgres
	DatabasePath string `yaml:"database_path" json:"database_path"`
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password" json:"password"`
	Database     string `yaml:"database" json:"database"`
}

// TranscodingConfig controls the ffmpeg-based stream pipeline
type TranscodingConfig struct {
	FFmpegPath     string   `yaml:"ffmpeg_path" json:"ffmpeg_path"`
	FFprobePath    string   `yaml:"ffprobe_path" json:"ffprobe_path"`
	StartupTimeout Duration `yaml:"startup_timeout" json:"startup_timeout"`
	TerminateGrace Duration `yaml:"terminate_grace" json:"terminate_grace"`
}

// SubtitlesConfig controls the subtitle generation engine
type SubtitlesConfig struct {
	WhisperPath        string   `yaml:"whisper_path" json:"whisper_path"`
	WhisperModelPath   string   `yaml:"whisper_model_path" json:"whisper_model_path"`
	WhisperTimeout     Duration `yaml:"whisper_timeout" json:"whisper_timeout"`
	OllamaURL          string   `yaml:"ollama_url" json:"ollama_url"`
	OllamaModel        string   `yaml:"ollama_model" json:"ollama_model"`
	FpcalcPath         string   `yaml:"fpcalc_path" json:"fpcalc_path"`
	TranslationEnabled bool     `yaml:"translation_enabled" json:"translation_enabled"`
}

// JobsConfig controls background job execution
type JobsConfig struct {
	// EngineConcurrency bounds simultaneous generation engine invocations.
	// The inference engine is effectively single-capacity, so 1 is the
	// correct value on most deployments.
	EngineConcurrency int      `yaml:"engine_concurrency" json:"engine_concurrency"`
	Retention         Duration `yaml:"retention" json:"retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	JSON  bool   `yaml:"json" json:"json"`
}

var (
	cfg  *Config
	once sync.Once
)

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	once.Do(func() {
		cfg = Load(os.Getenv("VETITO_CONFIG"))
	})
	return cfg
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides on top of the defaults.
func Load(path string) *Config {
	c := Defaults()
	if path != "" {
		if data, err := os.ReadFile(path); err != nil {
			hclog.L().Warn("config file unreadable, using defaults", "path", path, "error", err)
		} else if err := yaml.Unmarshal(data, c); err != nil {
			// A malformed file falls back to defaults rather than
			// refusing to start, but never silently.
			hclog.L().Warn("ignoring malformed config file", "path", path, "error", err)
			c = Defaults()
		}
	}
	c.applyEnv()
	return c
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       8080,
			EnableCORS: true,
		},
		Database: DatabaseConfig{
			Type:         "sqlite",
			DatabasePath: "./data/vetito.db",
			Host:         "localhost",
			Port:         5432,
			Username:     "vetito",
			Database:     "vetito",
		},
		Transcoding: TranscodingConfig{
			FFmpegPath:     "ffmpeg",
			FFprobePath:    "ffprobe",
			StartupTimeout: Duration(10 * time.Second),
			TerminateGrace: Duration(2 * time.Second),
		},
		Subtitles: SubtitlesConfig{
			WhisperPath:        "whisper-cli",
			WhisperModelPath:   "./models/ggml-small.bin",
			WhisperTimeout:     Duration(2 * time.Hour),
			OllamaURL:          "http://localhost:11434",
			OllamaModel:        "llama3.1",
			FpcalcPath:         "fpcalc",
			TranslationEnabled: true,
		},
		Jobs: JobsConfig{
			EngineConcurrency: 1,
			Retention:         Duration(24 * time.Hour),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func (c *Config) applyEnv() {
	setString(&c.Server.Host, "VETITO_HOST")
	setInt(&c.Server.Port, "VETITO_PORT")
	setString(&c.Database.Type, "DATABASE_TYPE")
	setString(&c.Database.DatabasePath, "SQLITE_PATH")
	setString(&c.Database.Host, "POSTGRES_HOST")
	setInt(&c.Database.Port, "POSTGRES_PORT")
	setString(&c.Database.Username, "POSTGRES_USER")
	setString(&c.Database.Password, "POSTGRES_PASSWORD")
	setString(&c.Database.Database, "POSTGRES_DB")
	setString(&c.Transcoding.FFmpegPath, "VETITO_FFMPEG")
	setString(&c.Transcoding.FFprobePath, "VETITO_FFPROBE")
	setString(&c.Subtitles.WhisperPath, "VETITO_WHISPER")
	setString(&c.Subtitles.WhisperModelPath, "VETITO_WHISPER_MODEL")
	setString(&c.Subtitles.OllamaURL, "OLLAMA_URL")
	setString(&c.Subtitles.OllamaModel, "OLLAMA_MODEL")
	setString(&c.Subtitles.FpcalcPath, "VETITO_FPCALC")
	setInt(&c.Jobs.EngineConcurrency, "VETITO_ENGINE_CONCURRENCY")
	setString(&c.Logging.Level, "VETITO_LOG_LEVEL")
}

// Validate checks cross-field constraints before startup.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Jobs.EngineConcurrency < 1 {
		return fmt.Errorf("engine_concurrency must be at least 1, got %d", c.Jobs.EngineConcurrency)
	}
	return nil
}

// ListenAddr returns the host:port address the server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
