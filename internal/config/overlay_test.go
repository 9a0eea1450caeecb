package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/storeload/internal/load"
	"github.com/wesleyorama2/storeload/internal/load/executor"
)

const peakOverlay = `
profiles:
  peak:
    stages:
      - duration: 10s
        target: 100
        name: spike
      - duration: 30s
        target: 100
      - duration: 10s
        target: 0
    gracefulRampDown: 5s
    thresholds:
      http_req_duration: ["p95 < 2s"]
    pacing:
      final: {min: 50ms, max: 500ms}
      beforeAuth: null
  smoke:
    vus: 4
    duration: "20"
    selection: random
`

func baseConfig(t *testing.T) *RunConfig {
	t.Helper()
	cfg, err := FromEnvironment(nil)
	require.NoError(t, err)
	return cfg
}

func TestApplyOverlay(t *testing.T) {
	cfg := baseConfig(t)

	overlay, err := ParseOverlay([]byte(peakOverlay))
	require.NoError(t, err)

	out, err := cfg.ApplyOverlay(overlay)
	require.NoError(t, err)

	peak := out.Profiles[ProfilePeak]
	assert.Equal(t, []executor.Stage{
		{Duration: 10 * time.Second, Target: 100, Name: "spike"},
		{Duration: 30 * time.Second, Target: 100},
		{Duration: 10 * time.Second, Target: 0},
	}, peak.Stages)
	assert.Equal(t, 5*time.Second, peak.GracefulRampDown)
	assert.Equal(t, []string{"p95 < 2s"}, peak.Thresholds.HTTPReqDuration)
	assert.Equal(t, []string{"rate < 0.02"}, peak.Thresholds.HTTPReqFailed, "unset threshold lists are kept")
	assert.Equal(t, load.Range{Min: 50 * time.Millisecond, Max: 500 * time.Millisecond}, peak.Pacing.Final)
	assert.True(t, peak.Pacing.BeforeAuth.IsZero(), "null disables the slot")
	assert.Equal(t, load.Seconds(0.1, 0.8), peak.Pacing.AfterCatalog, "untouched slots are kept")

	smoke := out.Profiles[ProfileSmoke]
	assert.Equal(t, 4, smoke.VUs)
	assert.Equal(t, 20*time.Second, smoke.Duration)
	assert.Equal(t, load.SelectRandom, smoke.Selection)
	assert.Equal(t, LoginShared, smoke.Login)

	// The source configuration is not modified.
	assert.Equal(t, 50, cfg.Profiles[ProfilePeak].MaxVUs())
	assert.Equal(t, 10, cfg.Profiles[ProfileSmoke].VUs)
}

func TestParseOverlay_JSON(t *testing.T) {
	overlay, err := ParseOverlay([]byte(`{"profiles": {"soak": {"vus": 2, "duration": "1m", "login": "shared"}}}`))
	require.NoError(t, err)

	out, err := baseConfig(t).ApplyOverlay(overlay)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Profiles[ProfileSoak].VUs)
	assert.Equal(t, LoginShared, out.Profiles[ProfileSoak].Login)
}

func TestParseOverlay_SchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		overlay string
	}{
		{"unknown profile", "profiles:\n  spike:\n    vus: 3\n"},
		{"zero vus", "profiles:\n  smoke:\n    vus: 0\n"},
		{"bad duration", "profiles:\n  soak:\n    duration: forever\n"},
		{"unknown field", "profiles:\n  ramp:\n    rate: 5\n"},
		{"bad login", "profiles:\n  ramp:\n    login: sometimes\n"},
		{"negative target", "profiles:\n  ramp:\n    stages:\n      - duration: 1s\n        target: -1\n"},
		{"unknown pacing slot", "profiles:\n  ramp:\n    pacing:\n      afterCheckout: {min: 1s, max: 2s}\n"},
		{"missing profiles", "vus: 3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOverlay([]byte(tt.overlay))
			require.Error(t, err)

			var errs *ValidationErrors
			assert.ErrorAs(t, err, &errs)
		})
	}
}

func TestParseOverlay_InvalidYAML(t *testing.T) {
	_, err := ParseOverlay([]byte("profiles: [unclosed"))
	assert.Error(t, err)
}

func TestApplyOverlay_SemanticErrors(t *testing.T) {
	cfg := baseConfig(t)

	tests := []struct {
		name    string
		overlay string
		field   string
	}{
		{
			"inverted pacing range",
			"profiles:\n  ramp:\n    pacing:\n      final: {min: 2s, max: 1s}\n",
			"profiles.ramp.pacing.final",
		},
		{
			"bad threshold metric",
			"profiles:\n  ramp:\n    thresholds:\n      http_req_failed: [\"p95 < 1\"]\n",
			"profiles.ramp.thresholds.http_req_failed[0]",
		},
		{
			"constant executor without vus",
			"profiles:\n  peak:\n    executor: constant-vus\n",
			"profiles.peak.duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			overlay, err := ParseOverlay([]byte(tt.overlay))
			require.NoError(t, err)

			_, err = cfg.ApplyOverlay(overlay)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(peakOverlay), 0o600))

	out, err := baseConfig(t).LoadOverlay(path)
	require.NoError(t, err)
	assert.Equal(t, 100, out.Profiles[ProfilePeak].MaxVUs())

	_, err = baseConfig(t).LoadOverlay(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
