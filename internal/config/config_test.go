package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "artifacts", cfg.Paths.ArtifactsDir)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SEG_SERVER_PORT", "9090")
	t.Setenv("SEG_PATHS_ARTIFACTS_DIR", "/var/lib/segcli/artifacts")
	t.Setenv("SEG_LOGGING_LEVEL", "debug")
	t.Setenv("SEG_SECURITY_RATE_LIMIT_RPS", "25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/var/lib/segcli/artifacts", cfg.Paths.ArtifactsDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 25.0, cfg.Security.RateLimit.RPS)

	// Untouched fields keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"negative read timeout", func(c *Config) { c.Server.ReadTimeout = -time.Second }},
		{"cors without origins", func(c *Config) { c.Security.AllowedOrigins = nil }},
		{"rate limit without rps", func(c *Config) { c.Security.RateLimit.RPS = 0 }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"empty artifacts dir", func(c *Config) { c.Paths.ArtifactsDir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("SEG_SERVER_PORT", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}
