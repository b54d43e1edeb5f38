package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/vision-read-worker/internal/match"
	"github.com/adverant/nexus/vision-read-worker/internal/processor"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("VISION_ENDPOINT", "https://example.cognitiveservices.azure.com")
	t.Setenv("VISION_SUBSCRIPTION_KEY", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, "v3.2", cfg.VisionAPIVersion)
	assert.Equal(t, 30*time.Second, cfg.VisionHTTPTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInitialInterval)
	assert.Equal(t, 1.5, cfg.PollMultiplier)
	assert.Equal(t, 10*time.Second, cfg.PollMaxInterval)
	assert.Equal(t, 2*time.Minute, cfg.PollTimeout)
	assert.Equal(t, 120, cfg.PollMaxAttempts)
	assert.Equal(t, int64(50*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, BackendRedis, cfg.QueueBackend)
	assert.Equal(t, 5*time.Minute, cfg.ProcessingTimeout)
	assert.Equal(t, processor.ModeRead, cfg.Mode())
	assert.NoError(t, cfg.ValidateWorker())
}

func TestLoadFromEnvironment(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_TIMEOUT", "45s")
	t.Setenv("POLL_MAX_ATTEMPTS", "10")
	t.Setenv("POLL_MULTIPLIER", "2")
	t.Setenv("REGEX_SYNTAX", "dotnet")
	t.Setenv("MAX_FILE_SIZE", "2048")
	t.Setenv("RECOGNITION_MODE", "ocr")
	t.Setenv("TESSERACT_LANGUAGES", "eng+deu")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	policy := cfg.PollPolicy()
	assert.Equal(t, 45*time.Second, policy.Timeout)
	assert.Equal(t, 10, policy.MaxAttempts)
	assert.Equal(t, 2.0, policy.Multiplier)
	assert.Zero(t, policy.RandomizationFactor)
	assert.Equal(t, int64(2048), cfg.PreflightLimits().MaxFileSize)
	assert.Equal(t, match.SyntaxDotNet, cfg.MatchEngine().Syntax())
	assert.Equal(t, processor.ModeOCR, cfg.Mode())
	assert.Equal(t, []string{"eng", "deu"}, cfg.Languages())
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("VISION_SUBSCRIPTION_KEY", "from-env")

	path := filepath.Join(t.TempDir(), "vision.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"VISION_ENDPOINT: https://file.example.com\n"+
			"VISION_SUBSCRIPTION_KEY: from-file\n"+
			"READ_LANGUAGE: de\n"+
			"POLL_MAX_ATTEMPTS: 7\n"), 0o600))

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, "https://file.example.com", cfg.VisionEndpoint)
	assert.Equal(t, "from-env", cfg.VisionSubscriptionKey, "environment overrides the file")
	assert.Equal(t, "de", cfg.ReadOptions().Language)
	assert.Equal(t, 7, cfg.PollMaxAttempts)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing endpoint", map[string]string{"VISION_ENDPOINT": ""}, "VISION_ENDPOINT is required"},
		{"relative endpoint", map[string]string{"VISION_ENDPOINT": "example.com"}, "absolute URL"},
		{"missing key", map[string]string{"VISION_SUBSCRIPTION_KEY": ""}, "VISION_SUBSCRIPTION_KEY is required"},
		{"multiplier", map[string]string{"POLL_MULTIPLIER": "0.5"}, "POLL_MULTIPLIER"},
		{"max below initial", map[string]string{"POLL_MAX_INTERVAL": "100ms"}, "POLL_MAX_INTERVAL"},
		{"unbounded polling", map[string]string{"POLL_TIMEOUT": "0s", "POLL_MAX_ATTEMPTS": "0"}, "at least one of"},
		{"syntax", map[string]string{"REGEX_SYNTAX": "pcre"}, "REGEX_SYNTAX"},
		{"file size", map[string]string{"MAX_FILE_SIZE": "10"}, "MAX_FILE_SIZE"},
		{"dimensions", map[string]string{"MIN_IMAGE_DIMENSION": "100", "MAX_IMAGE_DIMENSION": "50"}, "image dimensions"},
		{"mode", map[string]string{"RECOGNITION_MODE": "fax"}, "RECOGNITION_MODE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(NewViper(), "")

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateWorker(t *testing.T) {
	setRequired(t)
	t.Setenv("QUEUE_BACKEND", "kafka")
	t.Setenv("WORKER_CONCURRENCY", "0")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	err = cfg.ValidateWorker()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUEUE_BACKEND")
	assert.Contains(t, err.Error(), "WORKER_CONCURRENCY")
}

func TestLoadEnvFilesDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("READ_LANGUAGE=fr\nREAD_MODEL_VERSION=latest\n"), 0o600))

	t.Setenv("READ_LANGUAGE", "en")
	t.Setenv("READ_MODEL_VERSION", "")
	os.Unsetenv("READ_MODEL_VERSION")

	require.NoError(t, LoadEnvFiles(path, filepath.Join(dir, "missing.env")))
	t.Cleanup(func() { os.Unsetenv("READ_MODEL_VERSION") })

	assert.Equal(t, "en", os.Getenv("READ_LANGUAGE"))
	assert.Equal(t, "latest", os.Getenv("READ_MODEL_VERSION"))
}

func TestKeysCoverDefaults(t *testing.T) {
	keys := Keys()
	assert.Len(t, keys, len(defaults))
	assert.Contains(t, keys, "POLL_TIMEOUT")
	assert.Contains(t, keys, "QUEUE_BACKEND")
}
