package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Worker    WorkerConfig    `yaml:"worker"`
	Batch     BatchConfig     `yaml:"batch"`
	Video     VideoConfig     `yaml:"video"`
	Narration NarrationConfig `yaml:"narration"`
	Publish   PublishConfig   `yaml:"publish"`
	Storage   StorageConfig   `yaml:"storage"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr          string        `yaml:"address"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	MaxBodySize   ByteSize      `yaml:"maxBodySize"`
	APIKey        string        `yaml:"apiKey"`        // optional static API key header (X-API-Key)
	ShutdownGrace time.Duration `yaml:"shutdownGrace"` // time to wait for an in-flight pass before forced stop
	LogLevel      string        `yaml:"logLevel"`      // debug|info|warn|error
}

// DatabaseConfig selects the Store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite|postgres
	Path   string `yaml:"path"`   // sqlite file, default data/reelforge.db
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// WorkerConfig tunes the dispatcher.
type WorkerConfig struct {
	BatchSize    int           `yaml:"batchSize"`
	LockName     string        `yaml:"lockName"`
	LockTTL      time.Duration `yaml:"lockTTL"`
	PollInterval time.Duration `yaml:"pollInterval"` // 0 disables the in-process ticker
	LockBackend  string        `yaml:"lockBackend"`  // store|redis
	Redis        RedisSettings `yaml:"redis"`
}

// RedisSettings for the redis lock backend.
type RedisSettings struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BatchConfig holds defaults for batch creation.
type BatchConfig struct {
	DefaultWorkflowMode string `yaml:"defaultWorkflowMode"` // autonomous|approval
	DefaultCostPreset   string `yaml:"defaultCostPreset"`   // cheap|balanced|max_quality
	DefaultVariantCount int    `yaml:"defaultVariantCount"`
	DefaultACount       int    `yaml:"defaultACount"`
	DefaultBCount       int    `yaml:"defaultBCount"`
}

// VideoConfig selects the default provider and holds per-provider options.
type VideoConfig struct {
	DefaultProvider string              `yaml:"defaultProvider"` // auto|openai|gemini|mock
	OpenAI          OpenAIVideoSettings `yaml:"openai"`
	Gemini          GeminiVideoSettings `yaml:"gemini"`
	Mock            MockVideoSettings   `yaml:"mock"`
}

// OpenAIVideoSettings config for the OpenAI videos API.
type OpenAIVideoSettings struct {
	BaseURL string        `yaml:"baseUrl"` // default https://api.openai.com/v1
	APIKey  string        `yaml:"apiKey"`
	Model   string        `yaml:"model"` // default sora-2
	Size    string        `yaml:"size"`  // default 720x1280
	Timeout time.Duration `yaml:"timeout"`
}

// GeminiVideoSettings config for the Gemini (Veo) long-running video API.
type GeminiVideoSettings struct {
	BaseURL     string        `yaml:"baseUrl"` // default https://generativelanguage.googleapis.com/v1beta
	APIKey      string        `yaml:"apiKey"`
	Model       string        `yaml:"model"`       // default veo-3.1-fast-generate-preview
	AspectRatio string        `yaml:"aspectRatio"` // default 9:16
	Timeout     time.Duration `yaml:"timeout"`
}

// MockVideoSettings config for the in-process mock provider.
type MockVideoSettings struct {
	Enabled          bool          `yaml:"enabled"`
	PollsToFinish    int           `yaml:"pollsToFinish"`
	CompleteOnCreate bool          `yaml:"completeOnCreate"`
	Delay            time.Duration `yaml:"delay"`
	BaseURL          string        `yaml:"baseUrl"`
}

// NarrationConfig selects the text-to-speech backend.
type NarrationConfig struct {
	Provider   string              `yaml:"provider"` // elevenlabs|mock|none
	ElevenLabs ElevenLabsSettings  `yaml:"elevenlabs"`
	Mock       MockNarrationConfig `yaml:"mock"`
}

// ElevenLabsSettings config for the ElevenLabs text-to-speech API.
type ElevenLabsSettings struct {
	BaseURL      string        `yaml:"baseUrl"` // default https://api.elevenlabs.io
	APIKey       string        `yaml:"apiKey"`
	Model        string        `yaml:"model"`        // default eleven_multilingual_v2
	OutputFormat string        `yaml:"outputFormat"` // default mp3_44100_128
	Timeout      time.Duration `yaml:"timeout"`
}

// MockNarrationConfig config for the mock synthesizer.
type MockNarrationConfig struct {
	Delay time.Duration `yaml:"delay"`
}

// PublishConfig holds social scheduling settings.
type PublishConfig struct {
	PostBridge PostBridgeSettings `yaml:"postBridge"`
}

// PostBridgeSettings config for the Post Bridge scheduling API.
type PostBridgeSettings struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"baseUrl"` // default https://api.post-bridge.com
	APIKey      string        `yaml:"apiKey"`
	WorkspaceID string        `yaml:"workspaceId"`
	Timeout     time.Duration `yaml:"timeout"`
}

// StorageConfig selects where generated artifacts are written.
type StorageConfig struct {
	Backend       string     `yaml:"backend"` // inline|fs|s3
	Dir           string     `yaml:"dir"`
	PublicBaseURL string     `yaml:"publicBaseUrl"`
	S3            S3Settings `yaml:"s3"`
}

// S3Settings config for an S3-compatible bucket (MinIO, AWS).
type S3Settings struct {
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"accessKey"`
	SecretKey     string `yaml:"secretKey"`
	Bucket        string `yaml:"bucket"`
	UseSSL        bool   `yaml:"useSSL"`
	PublicBaseURL string `yaml:"publicBaseUrl"` // optional, default {scheme}://{endpoint}/{bucket}
}

// TracingConfig selects the OpenTelemetry exporter.
type TracingConfig struct {
	Exporter    string `yaml:"exporter"` // none|stdout
	ServiceName string `yaml:"serviceName"`
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		parsed, err := ParseByteSize(strings.TrimSpace(value.Value))
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	up := strings.ToUpper(s)
	units := []struct {
		suffix string
		value  uint64
	}{
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var REELFORGE_CONFIG, then default to "config.yaml".
func Load(path string) (*Config, error) {
	if path == "" {
		if env := os.Getenv("REELFORGE_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse expands environment variables in data, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Driver == "sqlite" {
		if dir := filepath.Dir(cfg.Database.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("ensure database dir: %w", err)
			}
		}
	}
	if cfg.Storage.Backend == "fs" {
		if err := os.MkdirAll(cfg.Storage.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("ensure storage dir: %w", err)
		}
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = ByteSize(1024 * 1024) // 1 MiB default
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 30 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}

	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join("data", "reelforge.db")
	}

	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = 10
	}
	if strings.TrimSpace(cfg.Worker.LockName) == "" {
		cfg.Worker.LockName = "main-worker"
	}
	if cfg.Worker.LockTTL == 0 {
		cfg.Worker.LockTTL = 10 * time.Minute
	}
	cfg.Worker.LockBackend = strings.ToLower(strings.TrimSpace(cfg.Worker.LockBackend))
	if cfg.Worker.LockBackend == "" {
		cfg.Worker.LockBackend = "store"
	}

	if cfg.Batch.DefaultWorkflowMode == "" {
		cfg.Batch.DefaultWorkflowMode = "autonomous"
	}
	if cfg.Batch.DefaultCostPreset == "" {
		cfg.Batch.DefaultCostPreset = "balanced"
	}
	if cfg.Batch.DefaultVariantCount == 0 {
		cfg.Batch.DefaultVariantCount = 1
	}
	if cfg.Batch.DefaultACount == 0 && cfg.Batch.DefaultBCount == 0 {
		cfg.Batch.DefaultACount = 10
		cfg.Batch.DefaultBCount = 10
	}

	cfg.Video.DefaultProvider = strings.ToLower(strings.TrimSpace(cfg.Video.DefaultProvider))
	if cfg.Video.DefaultProvider == "" {
		cfg.Video.DefaultProvider = "auto"
	}
	if strings.TrimSpace(cfg.Video.OpenAI.BaseURL) == "" {
		cfg.Video.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(cfg.Video.OpenAI.Model) == "" {
		cfg.Video.OpenAI.Model = "sora-2"
	}
	if strings.TrimSpace(cfg.Video.OpenAI.Size) == "" {
		cfg.Video.OpenAI.Size = "720x1280"
	}
	if strings.TrimSpace(cfg.Video.Gemini.BaseURL) == "" {
		cfg.Video.Gemini.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if strings.TrimSpace(cfg.Video.Gemini.Model) == "" {
		cfg.Video.Gemini.Model = "veo-3.1-fast-generate-preview"
	}
	if strings.TrimSpace(cfg.Video.Gemini.AspectRatio) == "" {
		cfg.Video.Gemini.AspectRatio = "9:16"
	}
	if cfg.Video.Mock.PollsToFinish <= 0 {
		cfg.Video.Mock.PollsToFinish = 1
	}

	cfg.Narration.Provider = strings.ToLower(strings.TrimSpace(cfg.Narration.Provider))
	if cfg.Narration.Provider == "" {
		if cfg.Narration.ElevenLabs.APIKey != "" {
			cfg.Narration.Provider = "elevenlabs"
		} else {
			cfg.Narration.Provider = "none"
		}
	}
	if strings.TrimSpace(cfg.Narration.ElevenLabs.BaseURL) == "" {
		cfg.Narration.ElevenLabs.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.Narration.ElevenLabs.Model) == "" {
		cfg.Narration.ElevenLabs.Model = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.Narration.ElevenLabs.OutputFormat) == "" {
		cfg.Narration.ElevenLabs.OutputFormat = "mp3_44100_128"
	}

	if strings.TrimSpace(cfg.Publish.PostBridge.BaseURL) == "" {
		cfg.Publish.PostBridge.BaseURL = "https://api.post-bridge.com"
	}

	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "inline"
	}
	if cfg.Storage.Backend == "fs" && cfg.Storage.Dir == "" {
		cfg.Storage.Dir = filepath.Join("data", "files")
	}

	cfg.Tracing.Exporter = strings.ToLower(strings.TrimSpace(cfg.Tracing.Exporter))
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = "none"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "reelforge"
	}
}

func validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Database.DSN) == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", cfg.Database.Driver)
	}

	switch cfg.Worker.LockBackend {
	case "store":
	case "redis":
		if strings.TrimSpace(cfg.Worker.Redis.Addr) == "" {
			return errors.New("worker.redis.addr is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("unknown worker.lockBackend %q", cfg.Worker.LockBackend)
	}

	switch cfg.Batch.DefaultWorkflowMode {
	case "autonomous", "approval":
	default:
		return fmt.Errorf("unknown batch.defaultWorkflowMode %q", cfg.Batch.DefaultWorkflowMode)
	}
	switch cfg.Batch.DefaultCostPreset {
	case "cheap", "balanced", "max_quality":
	default:
		return fmt.Errorf("unknown batch.defaultCostPreset %q", cfg.Batch.DefaultCostPreset)
	}
	if cfg.Batch.DefaultACount < 0 || cfg.Batch.DefaultBCount < 0 {
		return errors.New("batch default counts must not be negative")
	}

	switch cfg.Video.DefaultProvider {
	case "auto", "openai", "gemini", "mock":
	default:
		return fmt.Errorf("unknown video.defaultProvider %q", cfg.Video.DefaultProvider)
	}
	if cfg.Video.DefaultProvider == "mock" && !cfg.Video.Mock.Enabled {
		return errors.New("video.defaultProvider is mock but video.mock.enabled is false")
	}

	switch cfg.Narration.Provider {
	case "none", "mock":
	case "elevenlabs":
		if strings.TrimSpace(cfg.Narration.ElevenLabs.APIKey) == "" {
			return errors.New("narration.elevenlabs.apiKey is required")
		}
	default:
		return fmt.Errorf("unknown narration.provider %q", cfg.Narration.Provider)
	}

	if p := cfg.Publish.PostBridge; p.Enabled {
		if strings.TrimSpace(p.APIKey) == "" {
			return errors.New("publish.postBridge.apiKey is required")
		}
		if strings.TrimSpace(p.WorkspaceID) == "" {
			return errors.New("publish.postBridge.workspaceId is required")
		}
	}

	switch cfg.Storage.Backend {
	case "inline", "fs":
	case "s3":
		s := cfg.Storage.S3
		if strings.TrimSpace(s.Endpoint) == "" || strings.TrimSpace(s.Bucket) == "" {
			return errors.New("storage.s3.endpoint and storage.s3.bucket are required")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", cfg.Storage.Backend)
	}

	switch cfg.Tracing.Exporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("unknown tracing.exporter %q", cfg.Tracing.Exporter)
	}
	return nil
}
