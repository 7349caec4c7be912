package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 8192, cfg.Query.MaxLength)
	assert.True(t, cfg.Query.ReadOnly())
	assert.Equal(t, 16, cfg.Sanitizer.MaxViolations)
	assert.Equal(t, DefaultDeniedProcedures, cfg.Sanitizer.DeniedProcedures)
	assert.Equal(t, DefaultWeights(), cfg.Complexity.Weights)
	assert.Equal(t, 200, cfg.Complexity.MaxScore)
	assert.Equal(t, 32, cfg.RateLimit.Shards)
	assert.True(t, cfg.RateLimit.ChargesRejected())
	assert.True(t, cfg.Gateway.Propagate())
	assert.Equal(t, CallerHashed, cfg.Audit.CallerMode)
	assert.Equal(t, []SinkConfig{{Type: "stdout"}}, cfg.Audit.Sinks)
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphgate.yaml")
	data := `
server:
  addr: ":9090"
projects:
  - id: analytics
    api_keys: ["key-a"]
query:
  mode: read_write
  max_length: 2048
sanitizer:
  denied_char_classes: [zero_width, bidi, control, confusable]
  disabled_rules: [comment_injection]
complexity:
  max_range: 4
  allow_cartesian: true
  weights:
    pattern: 1
rate_limit:
  requests_per_window: 15
  window: 60s
  burst: 5
  charge_rejected: false
audit:
  strict: true
  caller_mode: raw
  sinks:
    - type: file_jsonl
      path: /tmp/audit.jsonl
    - type: webhook
      url: https://audit.example.com/events
gateway:
  propagate_internal_errors: false
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.False(t, cfg.Query.ReadOnly())
	assert.Equal(t, 2048, cfg.Query.MaxLength)
	assert.Len(t, cfg.Sanitizer.DeniedCharClasses, 4)
	assert.Equal(t, []string{"comment_injection"}, cfg.Sanitizer.DisabledRules)
	assert.Equal(t, 4, cfg.Complexity.MaxRange)
	assert.True(t, cfg.Complexity.AllowCartesian)
	// partially filled weights are taken as written
	assert.Equal(t, WeightsConfig{Pattern: 1}, cfg.Complexity.Weights)
	assert.InDelta(t, 0.25, cfg.RateLimit.Rate(), 1e-9)
	assert.Equal(t, float64(5), cfg.RateLimit.Burst)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.False(t, cfg.RateLimit.ChargesRejected())
	assert.True(t, cfg.Audit.Strict)
	assert.Equal(t, CallerRaw, cfg.Audit.CallerMode)
	require.Len(t, cfg.Audit.Sinks, 2)
	assert.Equal(t, 3*time.Second, cfg.Audit.Sinks[1].Timeout)
	assert.False(t, cfg.Gateway.Propagate())
}

func TestParse_InvalidIsConfigError(t *testing.T) {
	_, err := Parse([]byte("rate_limit:\n  burst: -3\n"))
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "rate_limit.burst")

	_, err = Parse([]byte("server: [not, a, map]"))
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}
