package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfigFile(t *testing.T, dir string, doc map[string]any) {
	t.Helper()
	data, err := yaml.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o644))
}

func loadFrom(t *testing.T, dir string) (*Config, error) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return Load()
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadFrom(t, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Auth.AcquireAttempts)
	assert.Equal(t, 150*time.Millisecond, cfg.Auth.AcquireBackoff)
	assert.Equal(t, 10*time.Second, cfg.Auth.HydrateTimeout)
	assert.Equal(t, 8*time.Second, cfg.Auth.SoftVerifyTimeout)
	assert.Equal(t, 60*time.Second, cfg.Auth.HardVerifyTimeout)
	assert.Equal(t, 3*time.Second, cfg.Profile.Timeout)
	assert.Equal(t, 5, cfg.Auth.MFAMaxAttempts)
	assert.Equal(t, CacheBackendFile, cfg.Cache.Backend)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, map[string]any{
		"provider": map[string]any{
			"base_url":    "https://id.example.com",
			"anon_key":    "anon-key",
			"project_ref": "siteorg-prod",
		},
		"cache": map[string]any{
			"backend": "memory",
		},
		"auth": map[string]any{
			"soft_verify_timeout": "2s",
			"hard_verify_timeout": "5s",
		},
	})

	cfg, err := loadFrom(t, dir)
	require.NoError(t, err)

	assert.Equal(t, "https://id.example.com", cfg.Provider.BaseURL)
	assert.Equal(t, "siteorg-prod", cfg.Provider.ProjectRef)
	assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
	assert.Equal(t, 2*time.Second, cfg.Auth.SoftVerifyTimeout)
	assert.Equal(t, 5*time.Second, cfg.Auth.HardVerifyTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "bad cache backend",
			mutate:  func(c *Config) { c.Cache.Backend = "postgres" },
			wantErr: "unsupported cache backend",
		},
		{
			name:    "zero acquire attempts",
			mutate:  func(c *Config) { c.Auth.AcquireAttempts = 0 },
			wantErr: "acquire_attempts",
		},
		{
			name:    "soft timeout above hard timeout",
			mutate:  func(c *Config) { c.Auth.SoftVerifyTimeout = c.Auth.HardVerifyTimeout },
			wantErr: "soft_verify_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadFrom(t, t.TempDir())
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
