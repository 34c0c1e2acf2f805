package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_FieldErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"url scheme", func(c *Config) { c.API.URL = "ftp://example.com" }, "api.url"},
		{"url host", func(c *Config) { c.API.URL = "https://" }, "api.url"},
		{"timeout unparsable", func(c *Config) { c.API.Timeout = "forever" }, "api.timeout"},
		{"timeout too short", func(c *Config) { c.API.Timeout = "10ms" }, "api.timeout"},
		{"name uppercase", func(c *Config) { c.Deployment.Name = "MyApp" }, "deployment.name"},
		{"name trailing hyphen", func(c *Config) { c.Deployment.Name = "app-" }, "deployment.name"},
		{"mode", func(c *Config) { c.Deployment.Mode = "production" }, "deployment.mode"},
		{"memory unparsable", func(c *Config) { c.Deployment.Memory = "lots" }, "deployment.memory"},
		{"memory too small", func(c *Config) { c.Deployment.Memory = "32Mi" }, "deployment.memory"},
		{"cpu zero", func(c *Config) { c.Deployment.CPU = "0" }, "deployment.cpu"},
		{"cpu text", func(c *Config) { c.Deployment.CPU = "half" }, "deployment.cpu"},
		{"env name", func(c *Config) { c.Deployment.Env = map[string]string{"1BAD": "x"} }, "deployment.env"},
		{"debounce", func(c *Config) { c.Watch.DebounceInterval = "50ms" }, "watch.debounce_interval"},
		{"poll interval", func(c *Config) { c.Watch.PollInterval = "x" }, "watch.poll_interval"},
		{"override grace negative", func(c *Config) { c.Watch.OverrideGrace = "-1s" }, "watch.override_grace"},
		{"poll attempts zero", func(c *Config) { c.Watch.PollAttempts = 0 }, "watch.poll_attempts"},
		{"poll attempts huge", func(c *Config) { c.Watch.PollAttempts = 5000 }, "watch.poll_attempts"},
		{"not found grace", func(c *Config) { c.Watch.NotFoundGrace = 0 }, "watch.not_found_grace"},
		{"bad dir glob", func(c *Config) { c.Watch.SkipDirs = []string{"[abc"} }, "watch.skip_dirs"},
		{"empty file glob", func(c *Config) { c.Watch.SkipFiles = []string{""} }, "watch.skip_files"},
		{"log level", func(c *Config) { c.Logging.LogLevel = "verbose" }, "logging.log_level"},
		{"log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "logging.log_format"},
		{"log retention", func(c *Config) { c.Logging.LogRetentionDays = 0 }, "logging.log_retention_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Deployment.Mode = "bogus"
	cfg.Watch.PollAttempts = -1
	cfg.Logging.LogFormat = "yaml"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Equal(t, 3, countLines(err.Error()))
}

func TestValidate_AcceptedValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.URL = "http://localhost:3000"
	cfg.Deployment.Name = "my-app-2"
	cfg.Deployment.Mode = "development"
	cfg.Deployment.Memory = "2Gi"
	cfg.Deployment.CPU = "0.25"
	cfg.Deployment.Env = map[string]string{"_PRIVATE": "1", "PORT": "3000"}
	cfg.Watch.OverrideGrace = "0s"
	cfg.Watch.SkipDirs = []string{"tmp*", "coverage"}
	cfg.Watch.SkipFiles = []string{"*.log", "?.bak"}
	cfg.Logging.LogLevel = "debug"
	cfg.Logging.LogFormat = "text"

	assert.NoError(t, Validate(cfg))
}

func TestValidDeploymentName(t *testing.T) {
	assert.True(t, ValidDeploymentName("a"))
	assert.True(t, ValidDeploymentName("web-1"))
	assert.False(t, ValidDeploymentName(""))
	assert.False(t, ValidDeploymentName("-web"))
	assert.False(t, ValidDeploymentName("web_1"))
	assert.False(t, ValidDeploymentName(strings.Repeat("a", 64))))
}
