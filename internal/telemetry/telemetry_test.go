package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestConfig(t *testing.T) {
	cfg := Config{ServiceName: "leadlink-server"}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "development", cfg.Environment)
	require.Equal(t, 1.0, cfg.SampleRatio)
	require.Equal(t, 10*time.Second, cfg.MetricInterval)

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing service name", cfg: Config{SampleRatio: 0.5}},
		{name: "ratio above one", cfg: Config{ServiceName: "leadlink-server", SampleRatio: 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.cfg.Validate())
		})
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		ratio    float64
		expected string
	}{
		{ratio: 1, expected: "root:AlwaysOnSampler"},
		{ratio: 0.25, expected: "root:TraceIDRatioBased{0.25}"},
		{ratio: 0.01, expected: "root:TraceIDRatioBased{0.01}"},
	}

	for _, tt := range tests {
		desc := newSampler(tt.ratio).Description()
		require.Contains(t, desc, "ParentBased{")
		require.Contains(t, desc, tt.expected)
	}
}

func TestNewResource(t *testing.T) {
	t.Setenv("OTEL_RESOURCE_ATTRIBUTES", "team=growth")

	cfg := Config{ServiceName: "leadlink-telegram", Version: "1.2.3", Environment: "staging", SampleRatio: 0.5}
	res, err := newResource(context.Background(), cfg)
	require.NoError(t, err)

	attrs := res.Set()
	expected := map[attribute.Key]string{
		semconv.ServiceNameKey:           "leadlink-telegram",
		semconv.ServiceVersionKey:        "1.2.3",
		semconv.ServiceNamespaceKey:      ServiceNamespace,
		semconv.DeploymentEnvironmentKey: "staging",
		"team":                           "growth",
	}
	for key, value := range expected {
		got, ok := attrs.Value(key)
		require.True(t, ok, key)
		require.Equal(t, value, got.AsString(), key)
	}

	ratio, ok := attrs.Value("leadlink.trace.sample_ratio")
	require.True(t, ok)
	require.Equal(t, 0.5, ratio.AsFloat64())
}
