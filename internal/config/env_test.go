package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultInitTimeout, cfg.InitTimeout)
	assert.Equal(t, DefaultSaveDir, cfg.SaveDir)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv(envInitTimeout, "45s")
	t.Setenv(envRunTimeout, "5")
	t.Setenv(envSaveDir, "/tmp/zones")
	t.Setenv(envLogLevel, "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.InitTimeout)
	assert.Equal(t, 5*time.Second, cfg.RunTimeout)
	assert.Equal(t, "/tmp/zones", cfg.SaveDir)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	t.Setenv(envLogLevel, "verbose")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	t.Setenv(envInitTimeout, "not-a-duration")
	_, err := Load()
	assert.Error(t, err)
}
