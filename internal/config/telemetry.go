package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TelemetryConfig configures OpenTelemetry export. Disabled by default;
// operators without a collector lose nothing.
type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`

	// Endpoint is the OTLP gRPC collector address (host:port).
	Endpoint string `koanf:"endpoint"`

	ServiceName string `koanf:"service_name"`

	// Insecure disables TLS; only allowed for local collectors.
	Insecure bool `koanf:"insecure"`

	// SampleRate is the trace sampling ratio within [0, 1].
	SampleRate float64 `koanf:"sample_rate"`

	// ExportInterval is the metric export period.
	ExportInterval Duration `koanf:"export_interval"`
}

// NewDefaultTelemetryConfig returns telemetry defaults.
func NewDefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		ServiceName:    "reposyncd",
		Insecure:       true,
		SampleRate:     1.0,
		ExportInterval: Duration(15 * time.Second),
	}
}

// Validate checks the telemetry configuration.
func (c *TelemetryConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("telemetry endpoint is required when enabled")
	}
	if c.ServiceName == "" {
		return errors.New("telemetry service_name is required when enabled")
	}
	if c.Insecure && !isLocalEndpoint(c.Endpoint) {
		return fmt.Errorf("insecure telemetry export to remote endpoint %q is not allowed", c.Endpoint)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("telemetry sample_rate must be within [0, 1], got %g", c.SampleRate)
	}
	if c.ExportInterval.Duration() <= 0 {
		return errors.New("telemetry export_interval must be positive")
	}
	return nil
}

func isLocalEndpoint(endpoint string) bool {
	host := endpoint
	if idx := strings.LastIndex(host, ":"); idx != -1 && !strings.Contains(host[idx:], "]") {
		host = host[:idx]
	}
	host = strings.Trim(host, "[]")
	return host == "localhost" || host == "::1" || strings.HasPrefix(host, "127.")
}
