package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetryConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TelemetryConfig)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*TelemetryConfig) {}},
		{
			name:   "disabled skips validation",
			mutate: func(c *TelemetryConfig) { c.Endpoint = "" },
		},
		{
			name:    "enabled requires endpoint",
			mutate:  func(c *TelemetryConfig) { c.Enabled = true; c.Endpoint = "" },
			wantErr: "endpoint is required",
		},
		{
			name:    "enabled requires service name",
			mutate:  func(c *TelemetryConfig) { c.Enabled = true; c.ServiceName = "" },
			wantErr: "service_name is required",
		},
		{
			name: "insecure remote endpoint rejected",
			mutate: func(c *TelemetryConfig) {
				c.Enabled = true
				c.Endpoint = "collector.example.org:4317"
			},
			wantErr: "not allowed",
		},
		{
			name:    "sample rate bounds",
			mutate:  func(c *TelemetryConfig) { c.Enabled = true; c.SampleRate = 1.5 },
			wantErr: "sample_rate",
		},
		{
			name:    "export interval must be positive",
			mutate:  func(c *TelemetryConfig) { c.Enabled = true; c.ExportInterval = 0 },
			wantErr: "export_interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultTelemetryConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsLocalEndpoint(t *testing.T) {
	assert.True(t, isLocalEndpoint("localhost:4317"))
	assert.True(t, isLocalEndpoint("127.0.0.1:4317"))
	assert.True(t, isLocalEndpoint("[::1]:4317"))
	assert.False(t, isLocalEndpoint("collector.example.org:4317"))
	assert.False(t, isLocalEndpoint("10.0.0.5:4317"))
}
