package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 0.2, cfg.LatencyOffset)
	assert.Equal(t, 1.0, cfg.WindowBeats)
	assert.Equal(t, 0.1, cfg.StaleEpsilon)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, time.Second, cfg.WatchdogInterval)
	assert.Equal(t, 1, cfg.JudgeEveryN)
	assert.Equal(t, 50.0, cfg.Level3MinScore)
	assert.Equal(t, 30.0, cfg.Level2MinScore)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LEVEL3_MIN_SCORE", "70")
	t.Setenv("LEVEL2_MIN_SCORE", "40")
	t.Setenv("JUDGE_TIMEOUT", "750ms")
	t.Setenv("GIN_MODE", "release")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 70.0, cfg.Level3MinScore)
	assert.Equal(t, 40.0, cfg.Level2MinScore)
	assert.Equal(t, 750*time.Millisecond, cfg.JudgeTimeout)
	assert.True(t, cfg.IsProduction())
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"port out of range", "PORT", "70000"},
		{"throttle zero", "JUDGE_EVERY_N", "0"},
		{"window zero", "WINDOW_BEATS", "0"},
		{"inverted thresholds", "LEVEL2_MIN_SCORE", "80"},
		{"negative latency", "LATENCY_OFFSET", "-1"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Setenv(c.key, c.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
