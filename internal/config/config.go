package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Intake      IntakeConfig      `yaml:"intake"`
	Suggestions SuggestionsConfig `yaml:"suggestions"`
	Learning    LearningConfig    `yaml:"learning"`
	Worker      WorkerConfig      `yaml:"worker"`
	Events      EventsConfig      `yaml:"events"`
	CORS        CORSConfig        `yaml:"cors"`
	Auth        AuthConfig        `yaml:"auth"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
// Driver is "sqlite" (Path) or "postgres" (DSN).
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"-"` // env-only, may carry credentials
}

// ClassifierConfig contains classification collaborator settings.
// An empty APIKey leaves only the rule-based classifier.
type ClassifierConfig struct {
	APIKey  string   `yaml:"-"` // env-only, never in YAML
	Model   string   `yaml:"model"`
	Timeout Duration `yaml:"timeout"`
}

// IntakeConfig contains webhook intake and idempotency settings.
type IntakeConfig struct {
	FreshnessWindow  Duration `yaml:"freshness_window"`
	SeenKeysCapacity int      `yaml:"seen_keys_capacity"`
	IdempotencyStore string   `yaml:"idempotency_store"` // "memory" or "store"
	IdempotencyTTL   Duration `yaml:"idempotency_ttl"`
	WebhookSecret    string   `yaml:"-"` // env-only
	RateLimitPerSec  float64  `yaml:"rate_limit_per_sec"`
	RateLimitBurst   int      `yaml:"rate_limit_burst"`
	MaxPayloadBytes  int64    `yaml:"max_payload_bytes"`
	// ProcessTimeout bounds the suggestion steps that run after the source
	// record is stored. They are not cancelled when the caller disconnects.
	ProcessTimeout   Duration `yaml:"process_timeout"`
}

// SuggestionsConfig contains suggestion lifecycle settings.
type SuggestionsConfig struct {
	Expiry Duration `yaml:"expiry"`
}

// LearningConfig contains pattern matching and learning constants.
type LearningConfig struct {
	HitThreshold      float64 `yaml:"hit_threshold"`
	MinConfidence     float64 `yaml:"min_confidence"`
	AcceptanceWeight  float64 `yaml:"acceptance_weight"`
	VolumeWeight      float64 `yaml:"volume_weight"`
	VolumeCap         int     `yaml:"volume_cap"`
	InitialConfidence float64 `yaml:"initial_confidence"`
	HistoryLimit      int     `yaml:"history_limit"`
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	ExpiryInterval      Duration `yaml:"expiry_interval"`
	LearningInterval    Duration `yaml:"learning_interval"`
	LearningBatchSize   int      `yaml:"learning_batch_size"`
	LearningMaxAttempts int      `yaml:"learning_max_attempts"`
	LearningBackoffBase Duration `yaml:"learning_backoff_base"`
}

// EventsConfig contains domain event publishing settings.
// An empty NATSURL keeps events in the store-backed log only.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// CORSConfig contains CORS settings for the review surface.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("TRIAGE_CONFIG_PATH", "config/triage.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabaseConfig loads only what the offline CLI commands need.
// API key validation is skipped.
func LoadDatabaseConfig() (*Config, error) {
	cfg := newDefaults()
	if err := loadYAMLFile(cfg, getEnv("TRIAGE_CONFIG_PATH", "config/triage.yaml")); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := cfg.validateDatabase(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "data/triage.db",
		},
		Classifier: ClassifierConfig{
			Model:   "gpt-4o-mini",
			Timeout: Duration(15 * time.Second),
		},
		Intake: IntakeConfig{
			FreshnessWindow:  Duration(5 * time.Minute),
			SeenKeysCapacity: 10000,
			IdempotencyStore: "memory",
			IdempotencyTTL:   Duration(24 * time.Hour),
			RateLimitPerSec:  10,
			RateLimitBurst:   20,
			MaxPayloadBytes:  1 << 20,
			ProcessTimeout:   Duration(30 * time.Second),
		},
		Suggestions: SuggestionsConfig{
			Expiry: Duration(7 * 24 * time.Hour),
		},
		Learning: LearningConfig{
			HitThreshold:      0.5,
			MinConfidence:     0.3,
			AcceptanceWeight:  0.7,
			VolumeWeight:      0.3,
			VolumeCap:         20,
			InitialConfidence: 0.3,
			HistoryLimit:      100,
		},
		Worker: WorkerConfig{
			ExpiryInterval:      Duration(15 * time.Minute),
			LearningInterval:    Duration(30 * time.Second),
			LearningBatchSize:   50,
			LearningMaxAttempts: 5,
			LearningBackoffBase: Duration(10 * time.Second),
		},
		Events: EventsConfig{
			SubjectPrefix: "triage",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("TRIAGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	setDuration("TRIAGE_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setDuration("TRIAGE_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	setDuration("TRIAGE_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	if v := os.Getenv("TRIAGE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("TRIAGE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TRIAGE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Classifier (OPENAI_API_KEY is industry convention)
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Classifier.APIKey = v
	}
	if v := os.Getenv("TRIAGE_CLASSIFIER_MODEL"); v != "" {
		cfg.Classifier.Model = v
	}
	setDuration("TRIAGE_CLASSIFIER_TIMEOUT", &cfg.Classifier.Timeout)

	// Intake
	setDuration("TRIAGE_FRESHNESS_WINDOW", &cfg.Intake.FreshnessWindow)
	setDuration("TRIAGE_PROCESS_TIMEOUT", &cfg.Intake.ProcessTimeout)
	if v := os.Getenv("TRIAGE_SEEN_KEYS_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Intake.SeenKeysCapacity = n
		}
	}
	if v := os.Getenv("TRIAGE_IDEMPOTENCY_STORE"); v != "" {
		cfg.Intake.IdempotencyStore = v
	}
	if v := os.Getenv("TRIAGE_WEBHOOK_SECRET"); v != "" {
		cfg.Intake.WebhookSecret = v
	}
	if v := os.Getenv("TRIAGE_RATE_LIMIT_PER_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Intake.RateLimitPerSec = f
		}
	}

	// Suggestions
	setDuration("TRIAGE_SUGGESTION_EXPIRY", &cfg.Suggestions.Expiry)

	// Worker
	setDuration("TRIAGE_EXPIRY_INTERVAL", &cfg.Worker.ExpiryInterval)
	setDuration("TRIAGE_LEARNING_INTERVAL", &cfg.Worker.LearningInterval)
	if v := os.Getenv("TRIAGE_LEARNING_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.LearningMaxAttempts = n
		}
	}

	// Events
	if v := os.Getenv("TRIAGE_NATS_URL"); v != "" {
		cfg.Events.NATSURL = v
	}

	// CORS
	if v := os.Getenv("TRIAGE_CORS_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = splitList(v)
	}

	// Auth
	if v := os.Getenv("TRIAGE_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Log
	if v := os.Getenv("TRIAGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TRIAGE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
// In dev mode (TRIAGE_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateLearning(); err != nil {
		return err
	}
	switch c.Intake.IdempotencyStore {
	case "memory", "store":
	default:
		return fmt.Errorf("intake.idempotency_store must be memory or store, got %q", c.Intake.IdempotencyStore)
	}
	if c.Intake.SeenKeysCapacity <= 0 {
		return errors.New("intake.seen_keys_capacity must be positive")
	}
	if c.Intake.ProcessTimeout <= 0 {
		return errors.New("intake.process_timeout must be positive")
	}

	if os.Getenv("TRIAGE_DEV_MODE") == "true" {
		return nil
	}

	if c.Auth.APIKey == "" {
		return errors.New("TRIAGE_API_KEY is required")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("TRIAGE_DATABASE_DSN is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

func (c *Config) validateLearning() error {
	l := c.Learning
	for name, v := range map[string]float64{
		"learning.hit_threshold":      l.HitThreshold,
		"learning.min_confidence":     l.MinConfidence,
		"learning.acceptance_weight":  l.AcceptanceWeight,
		"learning.volume_weight":      l.VolumeWeight,
		"learning.initial_confidence": l.InitialConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if l.AcceptanceWeight+l.VolumeWeight > 1.0000001 {
		return errors.New("learning.acceptance_weight + learning.volume_weight must not exceed 1")
	}
	if l.VolumeCap <= 0 {
		return errors.New("learning.volume_cap must be positive")
	}
	if l.HistoryLimit <= 0 {
		return errors.New("learning.history_limit must be positive")
	}
	return nil
}

func setDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
