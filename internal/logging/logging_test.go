package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "reposyncd", cfg.Fields["service"])
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:   "console format",
			mutate: func(c *Config) { c.Format = "console" },
		},
		{
			name:    "unknown format",
			mutate:  func(c *Config) { c.Format = "logfmt" },
			wantErr: "format must be",
		},
		{
			name:    "bad level",
			mutate:  func(c *Config) { c.Level = "loud" },
			wantErr: "invalid level",
		},
		{
			name:    "empty field key",
			mutate:  func(c *Config) { c.Fields = map[string]string{"": "x"} },
			wantErr: "field key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		logger, err := NewLogger(nil)
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("hello")
	})

	t.Run("debug console", func(t *testing.T) {
		logger, err := NewLogger(&Config{Level: "debug", Format: "console"})
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		_, err := NewLogger(&Config{Level: "info", Format: "xml"})
		require.Error(t, err)
	})
}
