/**
 * Configuration for the Vision Read worker
 *
 * Values come from, in increasing priority: defaults, an optional YAML file,
 * .env files, the process environment and bound command-line flags. Keys
 * use the environment variable names.
 */

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/adverant/nexus/vision-read-worker/internal/clients"
	"github.com/adverant/nexus/vision-read-worker/internal/match"
	"github.com/adverant/nexus/vision-read-worker/internal/processor"
)

// Queue backends.
const (
	BackendRedis = "redis"
	BackendAsynq = "asynq"
)

// DefaultEnvFiles are loaded by LoadEnvFiles when no file is named.
var DefaultEnvFiles = []string{".env", ".env.vision"}

// Config holds worker configuration
type Config struct {
	// Computer Vision service
	VisionEndpoint        string        `mapstructure:"vision_endpoint"`
	VisionSubscriptionKey string        `mapstructure:"vision_subscription_key"`
	VisionAPIVersion      string        `mapstructure:"vision_api_version"`
	VisionHTTPTimeout     time.Duration `mapstructure:"vision_http_timeout"`

	// Read options
	ReadLanguage     string `mapstructure:"read_language"`
	ReadModelVersion string `mapstructure:"read_model_version"`
	ReadReadingOrder string `mapstructure:"read_reading_order"`
	RecognitionMode  string `mapstructure:"recognition_mode"`

	// Polling
	PollInitialInterval time.Duration `mapstructure:"poll_initial_interval"`
	PollMultiplier      float64       `mapstructure:"poll_multiplier"`
	PollMaxInterval     time.Duration `mapstructure:"poll_max_interval"`
	PollTimeout         time.Duration `mapstructure:"poll_timeout"`
	PollMaxAttempts     int           `mapstructure:"poll_max_attempts"`

	// Pattern matching
	RegexSyntax       string        `mapstructure:"regex_syntax"`
	RegexMatchTimeout time.Duration `mapstructure:"regex_match_timeout"`

	// Preflight
	MaxFileSize       int64 `mapstructure:"max_file_size"`
	MinImageDimension int   `mapstructure:"min_image_dimension"`
	MaxImageDimension int   `mapstructure:"max_image_dimension"`

	// Queue
	RedisURL          string        `mapstructure:"redis_url"`
	QueueBackend      string        `mapstructure:"queue_backend"`
	QueueName         string        `mapstructure:"queue_name"`
	QueueMaxRetries   int           `mapstructure:"queue_max_retries"`
	WorkerConcurrency int           `mapstructure:"worker_concurrency"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`

	// Job audit table, optional
	DatabaseURL string `mapstructure:"database_url"`

	MetricsAddr        string `mapstructure:"metrics_addr"`
	LogLevel           string `mapstructure:"log_level"`
	TesseractLanguages string `mapstructure:"tesseract_languages"`
}

var defaults = map[string]interface{}{
	"VISION_ENDPOINT":         "",
	"VISION_SUBSCRIPTION_KEY": "",
	"VISION_API_VERSION":      "v3.2",
	"VISION_HTTP_TIMEOUT":     "30s",
	"READ_LANGUAGE":           "",
	"READ_MODEL_VERSION":      "",
	"READ_READING_ORDER":      "",
	"RECOGNITION_MODE":        "read",
	"POLL_INITIAL_INTERVAL":   "500ms",
	"POLL_MULTIPLIER":         1.5,
	"POLL_MAX_INTERVAL":       "10s",
	"POLL_TIMEOUT":            "2m",
	"POLL_MAX_ATTEMPTS":       120,
	"REGEX_SYNTAX":            "re2",
	"REGEX_MATCH_TIMEOUT":     "1s",
	"MAX_FILE_SIZE":           50 * 1024 * 1024,
	"MIN_IMAGE_DIMENSION":     50,
	"MAX_IMAGE_DIMENSION":     10000,
	"REDIS_URL":               "redis://localhost:6379",
	"QUEUE_BACKEND":           BackendRedis,
	"QUEUE_NAME":              "vision:read:jobs",
	"QUEUE_MAX_RETRIES":       3,
	"WORKER_CONCURRENCY":      10,
	"PROCESSING_TIMEOUT":      "5m",
	"DATABASE_URL":            "",
	"METRICS_ADDR":            ":9090",
	"LOG_LEVEL":               "info",
	"TESSERACT_LANGUAGES":     "eng",
}

// Keys returns every configuration key, e.g. for flag binding.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	return keys
}

// LoadEnvFiles loads .env files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = DefaultEnvFiles
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults and environment lookup set up.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile (if not empty) into v and returns the validated Config.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	cfg, err := LoadWithoutValidation(v, configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithoutValidation is Load without Validate, for commands that need only
// part of the configuration.
func LoadWithoutValidation(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// LoadConfig loads .env files and the environment into a validated Config.
func LoadConfig() (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}
	return Load(NewViper(), os.Getenv("CONFIG_FILE"))
}

// Validate checks everything needed to recognize documents.
func (c *Config) Validate() error {
	var errs []error

	if c.VisionEndpoint == "" {
		errs = append(errs, fmt.Errorf("VISION_ENDPOINT is required"))
	} else if u, err := url.Parse(c.VisionEndpoint); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("VISION_ENDPOINT must be an absolute URL, got %q", c.VisionEndpoint))
	}
	if c.VisionSubscriptionKey == "" {
		errs = append(errs, fmt.Errorf("VISION_SUBSCRIPTION_KEY is required"))
	}
	if c.VisionHTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("VISION_HTTP_TIMEOUT must be positive, got %s", c.VisionHTTPTimeout))
	}
	if _, err := processor.ParseMode(c.RecognitionMode); err != nil {
		errs = append(errs, fmt.Errorf("RECOGNITION_MODE: %w", err))
	}

	if c.PollInitialInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INITIAL_INTERVAL must be positive, got %s", c.PollInitialInterval))
	}
	if c.PollMultiplier < 1 {
		errs = append(errs, fmt.Errorf("POLL_MULTIPLIER must be at least 1, got %g", c.PollMultiplier))
	}
	if c.PollMaxInterval < c.PollInitialInterval {
		errs = append(errs, fmt.Errorf("POLL_MAX_INTERVAL %s is below POLL_INITIAL_INTERVAL %s", c.PollMaxInterval, c.PollInitialInterval))
	}
	if c.PollTimeout < 0 || c.PollMaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("POLL_TIMEOUT and POLL_MAX_ATTEMPTS must not be negative"))
	}
	if c.PollTimeout == 0 && c.PollMaxAttempts == 0 {
		errs = append(errs, fmt.Errorf("at least one of POLL_TIMEOUT and POLL_MAX_ATTEMPTS must be set"))
	}

	if _, ok := match.ParseSyntax(c.RegexSyntax); !ok {
		errs = append(errs, fmt.Errorf("REGEX_SYNTAX must be re2 or dotnet, got %q", c.RegexSyntax))
	}
	if c.RegexMatchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REGEX_MATCH_TIMEOUT must be positive, got %s", c.RegexMatchTimeout))
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 500*1024*1024 { // 1KB to 500MB
		errs = append(errs, fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 500MB, got %d", c.MaxFileSize))
	}
	if c.MinImageDimension < 1 || c.MaxImageDimension < c.MinImageDimension {
		errs = append(errs, fmt.Errorf("image dimensions must satisfy 1 <= MIN_IMAGE_DIMENSION (%d) <= MAX_IMAGE_DIMENSION (%d)",
			c.MinImageDimension, c.MaxImageDimension))
	}

	return errors.Join(errs...)
}

// ValidateWorker checks the queue settings on top of Validate.
func (c *Config) ValidateWorker() error {
	var errs []error
	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.RedisURL == "" {
		errs = append(errs, fmt.Errorf("REDIS_URL is required"))
	}
	if c.QueueBackend != BackendRedis && c.QueueBackend != BackendAsynq {
		errs = append(errs, fmt.Errorf("QUEUE_BACKEND must be %s or %s, got %q", BackendRedis, BackendAsynq, c.QueueBackend))
	}
	if c.QueueName == "" {
		errs = append(errs, fmt.Errorf("QUEUE_NAME is required"))
	}
	if c.QueueMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("QUEUE_MAX_RETRIES must not be negative, got %d", c.QueueMaxRetries))
	}
	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency))
	}
	if c.ProcessingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("PROCESSING_TIMEOUT must be positive, got %s", c.ProcessingTimeout))
	}
	return errors.Join(errs...)
}

// VisionConfig returns the client configuration.
func (c *Config) VisionConfig() clients.VisionConfig {
	return clients.VisionConfig{
		Endpoint:        c.VisionEndpoint,
		SubscriptionKey: c.VisionSubscriptionKey,
		APIVersion:      c.VisionAPIVersion,
		HTTPTimeout:     c.VisionHTTPTimeout,
	}
}

// ReadOptions returns the query options sent with every Read submission.
func (c *Config) ReadOptions() clients.ReadOptions {
	return clients.ReadOptions{
		Language:     c.ReadLanguage,
		ReadingOrder: c.ReadReadingOrder,
		ModelVersion: c.ReadModelVersion,
	}
}

// PollPolicy returns the polling policy. The delay sequence has no jitter.
func (c *Config) PollPolicy() clients.PollPolicy {
	return clients.PollPolicy{
		InitialInterval: c.PollInitialInterval,
		Multiplier:      c.PollMultiplier,
		MaxInterval:     c.PollMaxInterval,
		Timeout:         c.PollTimeout,
		MaxAttempts:     c.PollMaxAttempts,
	}
}

// MatchEngine returns an engine for the configured pattern syntax.
func (c *Config) MatchEngine() *match.Engine {
	syntax, ok := match.ParseSyntax(c.RegexSyntax)
	if !ok {
		syntax = match.SyntaxRE2
	}
	return match.NewEngine(match.WithSyntax(syntax), match.WithMatchTimeout(c.RegexMatchTimeout))
}

// PreflightLimits returns the input limits.
func (c *Config) PreflightLimits() processor.PreflightLimits {
	return processor.PreflightLimits{
		MaxFileSize:  c.MaxFileSize,
		MinDimension: c.MinImageDimension,
		MaxDimension: c.MaxImageDimension,
	}
}

// Mode returns the default recognition mode.
func (c *Config) Mode() processor.Mode {
	mode, err := processor.ParseMode(c.RecognitionMode)
	if err != nil {
		return processor.ModeRead
	}
	return mode
}

// Languages returns the Tesseract languages as a list.
func (c *Config) Languages() []string {
	return strings.FieldsFunc(c.TesseractLanguages, func(r rune) bool {
		return r == ',' || r == '+' || r == ' '
	})
}
