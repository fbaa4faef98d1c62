// Package config provides configuration loading for reposyncd.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/reposyncd/internal/logging"
)

// Config is the top-level reposyncd configuration.
type Config struct {
	Remote    RemoteConfig    `koanf:"remote"`
	Workspace WorkspaceConfig `koanf:"workspace"`
	Database  DatabaseConfig  `koanf:"database"`
	Logging   logging.Config  `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// RemoteConfig configures the Git-hosting REST API client.
type RemoteConfig struct {
	// BaseURL is the root URL of the remote host (e.g. https://git.example.org).
	BaseURL string `koanf:"base_url"`

	// Token is the API token used for all requests. Redacted in logs.
	Token Secret `koanf:"token"`

	// RequestTimeout bounds each REST call.
	RequestTimeout Duration `koanf:"request_timeout"`

	// DefaultBranch is the branch new repositories are initialized with.
	DefaultBranch string `koanf:"default_branch"`
}

// WorkspaceConfig configures local working-copy management.
type WorkspaceConfig struct {
	// Root is the directory under which working copies live,
	// laid out as <root>/<owner>/<slug>.
	Root string `koanf:"root"`

	// CloneTimeout bounds a single git clone subprocess.
	CloneTimeout Duration `koanf:"clone_timeout"`
}

// DatabaseConfig configures the relational project store.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `koanf:"path"`
}

// NewDefaultConfig returns config with defaults applied.
func NewDefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			RequestTimeout: Duration(30 * time.Second),
			DefaultBranch:  "main",
		},
		Workspace: WorkspaceConfig{
			CloneTimeout: Duration(300 * time.Second),
		},
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: NewDefaultTelemetryConfig(),
	}
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	def := NewDefaultConfig()

	if cfg.Remote.RequestTimeout == 0 {
		cfg.Remote.RequestTimeout = def.Remote.RequestTimeout
	}
	if cfg.Remote.DefaultBranch == "" {
		cfg.Remote.DefaultBranch = def.Remote.DefaultBranch
	}
	if cfg.Workspace.CloneTimeout == 0 {
		cfg.Workspace.CloneTimeout = def.Workspace.CloneTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Logging.Fields == nil {
		cfg.Logging.Fields = def.Logging.Fields
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = def.Telemetry.Endpoint
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = def.Telemetry.SampleRate
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = def.Telemetry.ExportInterval
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil {
		return fmt.Errorf("remote.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("remote.base_url must use http or https, got %q", u.Scheme)
	}
	if c.Remote.RequestTimeout.Duration() <= 0 {
		return fmt.Errorf("remote.request_timeout must be > 0")
	}

	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root is required")
	}
	if !filepath.IsAbs(c.Workspace.Root) {
		return fmt.Errorf("workspace.root must be an absolute path, got %q", c.Workspace.Root)
	}
	if c.Workspace.CloneTimeout.Duration() <= 0 {
		return fmt.Errorf("workspace.clone_timeout must be > 0")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}
