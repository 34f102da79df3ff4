// Package config provides the configuration structure for the page-narrator.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/page-narrator/internal/allocator"
	"github.com/book-expert/page-narrator/internal/analysis"
	"github.com/book-expert/page-narrator/internal/audio"
	"github.com/book-expert/page-narrator/internal/speech"
)

// Defaults applied by Validate to unset values.
const (
	DefaultNATSURL           = "nats://127.0.0.1:4222"
	DefaultSubmitSubject     = "narrator.submit"
	DefaultStatusSubject     = "narrator.status"
	DefaultListSubject       = "narrator.list"
	DefaultBucket            = "NARRATOR_FILES"
	DefaultLogsDir           = "logs"
	DefaultDatabasePath      = "data/jobs.db"
	DefaultAPIKeyEnv         = "GEMINI_API_KEY"
	DefaultAnalysisTemp      = 0.2
	DefaultSpeechURL         = "http://127.0.0.1:8880"
	DefaultSpeechTimeoutSecs = 120
	DefaultLanguage          = "en"
	DefaultMinPageSeconds    = 1.0
	DefaultPollIntervalMs    = 500
	DefaultMaxConcurrentJobs = 2
)

var (
	// ErrNegative indicates a numeric setting below zero.
	ErrNegative = errors.New("value cannot be negative")
	// ErrTemperatureRange indicates an analysis temperature outside [0, 2].
	ErrTemperatureRange = errors.New("temperature must be between 0.0 and 2.0")
	// ErrMissingAPIKey indicates the analysis key variable is unset.
	ErrMissingAPIKey = errors.New("analysis api key is not set")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL               string `toml:"url"`
	SubmitSubject     string `toml:"submit_subject"`
	StatusSubject     string `toml:"status_subject"`
	ListSubject       string `toml:"list_subject"`
	ObjectStoreBucket string `toml:"object_store_bucket"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir  string `toml:"base_logs_dir"`
	WorkspaceDir string `toml:"workspace_dir"`
	DatabasePath string `toml:"database_path"`
}

// RasterConfig configures pdftoppm.
type RasterConfig struct {
	Binary string `toml:"binary"`
	DPI    int    `toml:"dpi"`
}

// AnalysisConfig configures the page analysis model.
type AnalysisConfig struct {
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
	APIKeyEnv   string  `toml:"api_key_env"`
}

// SpeechConfig configures the speech service client.
type SpeechConfig struct {
	ServiceURL        string        `toml:"service_url"`
	TimeoutSeconds    int           `toml:"timeout_seconds"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	Language          string        `toml:"language"`
	Voices            speech.Voices `toml:"voices"`
}

// AllocatorConfig selects the page display policy.
type AllocatorConfig struct {
	Policy         string  `toml:"policy"`
	MinPageSeconds float64 `toml:"min_page_seconds"`
}

// ComposeConfig configures ffmpeg.
type ComposeConfig struct {
	FFmpegBinary string `toml:"ffmpeg_binary"`
	Width        int    `toml:"width"`
	Height       int    `toml:"height"`
	FPS          int    `toml:"fps"`
	AudioBitrate string `toml:"audio_bitrate"`
}

// OrchestratorConfig tunes job execution.
type OrchestratorConfig struct {
	MaxConcurrentJobs int  `toml:"max_concurrent_jobs"`
	KeepWorkspace     bool `toml:"keep_workspace"`
	PollIntervalMs    int  `toml:"poll_interval_ms"`
}

// Config is the root configuration structure.
type Config struct {
	NATS         NATSConfig         `toml:"nats"`
	Paths        PathsConfig        `toml:"paths"`
	Raster       RasterConfig       `toml:"raster"`
	Analysis     AnalysisConfig     `toml:"analysis"`
	Speech       SpeechConfig       `toml:"speech"`
	Timeline     audio.Format       `toml:"timeline"`
	Allocator    AllocatorConfig    `toml:"allocator"`
	Compose      ComposeConfig      `toml:"compose"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
}

// Load loads the configuration for the page-narrator and validates it.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	validationErr := cfg.Validate()
	if validationErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validationErr)
	}

	return &cfg, nil
}

// Validate fills unset values with defaults and rejects invalid ones.
func (c *Config) Validate() error {
	c.applyDefaults()

	negatives := map[string]float64{
		"raster.dpi":                       float64(c.Raster.DPI),
		"speech.timeout_seconds":           float64(c.Speech.TimeoutSeconds),
		"speech.requests_per_second":       c.Speech.RequestsPerSecond,
		"allocator.min_page_seconds":       c.Allocator.MinPageSeconds,
		"compose.width":                    float64(c.Compose.Width),
		"compose.height":                   float64(c.Compose.Height),
		"compose.fps":                      float64(c.Compose.FPS),
		"orchestrator.max_concurrent_jobs": float64(c.Orchestrator.MaxConcurrentJobs),
		"orchestrator.poll_interval_ms":    float64(c.Orchestrator.PollIntervalMs),
	}

	for name, value := range negatives {
		if value < 0 {
			return fmt.Errorf("%s: %w: got %v", name, ErrNegative, value)
		}
	}

	if c.Analysis.Temperature < 0 || c.Analysis.Temperature > 2 {
		return fmt.Errorf("%w: got %f", ErrTemperatureRange, c.Analysis.Temperature)
	}

	_, policyErr := allocator.ParsePolicy(c.Allocator.Policy)
	if policyErr != nil {
		return policyErr
	}

	formatErr := c.Timeline.Validate()
	if formatErr != nil {
		return fmt.Errorf("timeline: %w", formatErr)
	}

	return nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.NATS.URL, DefaultNATSURL)
	setDefault(&c.NATS.SubmitSubject, DefaultSubmitSubject)
	setDefault(&c.NATS.StatusSubject, DefaultStatusSubject)
	setDefault(&c.NATS.ListSubject, DefaultListSubject)
	setDefault(&c.NATS.ObjectStoreBucket, DefaultBucket)
	setDefault(&c.Paths.BaseLogsDir, DefaultLogsDir)
	setDefault(&c.Paths.DatabasePath, DefaultDatabasePath)
	setDefault(&c.Analysis.Model, analysis.DefaultModel)
	setDefault(&c.Analysis.APIKeyEnv, DefaultAPIKeyEnv)
	setDefault(&c.Speech.ServiceURL, DefaultSpeechURL)
	setDefault(&c.Speech.Language, DefaultLanguage)
	setDefault(&c.Allocator.Policy, string(allocator.PolicyEqual))

	if c.Analysis.Temperature == 0 {
		c.Analysis.Temperature = DefaultAnalysisTemp
	}

	if c.Speech.TimeoutSeconds == 0 {
		c.Speech.TimeoutSeconds = DefaultSpeechTimeoutSecs
	}

	if c.Allocator.MinPageSeconds == 0 {
		c.Allocator.MinPageSeconds = DefaultMinPageSeconds
	}

	if c.Orchestrator.MaxConcurrentJobs == 0 {
		c.Orchestrator.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}

	if c.Orchestrator.PollIntervalMs == 0 {
		c.Orchestrator.PollIntervalMs = DefaultPollIntervalMs
	}

	if c.Timeline == (audio.Format{}) {
		c.Timeline = audio.DefaultFormat()
	}
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}

// SpeechTimeout is the per-request timeout of the speech client.
func (c *Config) SpeechTimeout() time.Duration {
	return time.Duration(c.Speech.TimeoutSeconds) * time.Second
}

// MinPage is the shortest time a page may be shown under the weighted policy.
func (c *Config) MinPage() time.Duration {
	return time.Duration(c.Allocator.MinPageSeconds * float64(time.Second))
}

// PollInterval is how often job completion is polled.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Orchestrator.PollIntervalMs) * time.Millisecond
}

// APIKey reads the analysis key from the configured environment variable.
func (c *Config) APIKey() (string, error) {
	key := strings.TrimSpace(os.Getenv(c.Analysis.APIKeyEnv))
	if key == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingAPIKey, c.Analysis.APIKeyEnv)
	}

	return key, nil
}
