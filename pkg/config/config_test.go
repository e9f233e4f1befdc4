package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_DefaultsFromEnvOnly(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), "test")
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Version)
	assert.Equal(t, "https://api.github.com", cfg.GitHub.BaseURL)
	assert.Equal(t, 500, cfg.GitHub.SafetyThreshold)
	assert.Equal(t, 2000, cfg.Discovery.MinStars)
	assert.Equal(t, 24, cfg.Discovery.MaxAgeMonths)
	assert.Equal(t, 90, cfg.Discovery.MaxDaysSincePush)
	assert.Equal(t, 30, cfg.Queue.StaleDays)
	assert.Equal(t, 5000, cfg.Analysis.MaxCallsPerRun)
	assert.InDelta(t, 1.0, cfg.Watchlist.Momentum.sum(), 1e-9)
	assert.InDelta(t, 1.0, cfg.Watchlist.Durability.sum(), 1e-9)
	assert.InDelta(t, 1.0, cfg.Watchlist.Adoption.sum(), 1e-9)
}

func TestLoadFile_YAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
discovery:
  min_stars: 1000
  max_age_months: 12
queue:
  stale_days: 45
watchlist:
  momentum:
    first: 0.5
    second: 0.25
    third: 0.25
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadFile(path, "test")
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Discovery.MinStars)
	assert.Equal(t, 12, cfg.Discovery.MaxAgeMonths)
	assert.Equal(t, 45, cfg.Queue.StaleDays)
	assert.Equal(t, 0.5, cfg.Watchlist.Momentum.First)
	// Unset tracks keep their defaults.
	assert.Equal(t, 0.5, cfg.Watchlist.Adoption.First)
}

func TestLoadFile_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("discovery:\n  min_stars: 1000\n"), 0o600))
	t.Setenv("DISCOVERY_MIN_STARS", "3000")

	cfg, err := LoadFile(path, "test")
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Discovery.MinStars)
}

func TestValidate_RejectsBadWeights(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
watchlist:
  momentum:
    first: 0.9
    second: 0.3
    third: 0.3
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	_, err := LoadFile(path, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights must sum to 1.0")
}

func TestValidate_RejectsNonPositiveBudget(t *testing.T) {
	t.Setenv("ANALYSIS_MAX_CALLS_PER_RUN", "0")
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_calls_per_run")
}

func TestDatabaseURL(t *testing.T) {
	c := DatabaseConfig{
		Host: "db", Port: 5433, User: "u", Password: "p",
		Database: "pulse", SSLMode: "require",
	}
	assert.Equal(t, "postgres://u:p@db:5433/pulse?sslmode=require", c.URL())
}
