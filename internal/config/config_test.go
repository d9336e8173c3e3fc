package config_test

import (
	"testing"

	"element-hunter/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg, err := config.New()
	require.NoError(t, err)

	assert.Equal(t, config.DriverPlaywright, cfg.BrowserConfig.Driver)
	assert.Equal(t, 3, cfg.BrowserConfig.Concurrency)
	assert.InDelta(t, 0.75, cfg.SelectorConfig.ConfidenceFloor, 1e-9)
	assert.Equal(t, 10, cfg.SelectorConfig.MaxCandidates)
	assert.InDelta(t, 0.3, cfg.DetectionConfig.TestAttrWeight, 1e-9)
	assert.True(t, cfg.DetectionConfig.UseAdvancedSelectors)
}

func TestNewOverrides(t *testing.T) {
	t.Setenv("BROWSER_DRIVER", "rod")
	t.Setenv("SELECTOR_CONFIDENCE_FLOOR", "0.6")
	t.Setenv("BROWSER_CONCURRENCY", "0")

	cfg, err := config.New()
	require.NoError(t, err)

	assert.Equal(t, config.DriverRod, cfg.BrowserConfig.Driver)
	assert.InDelta(t, 0.6, cfg.SelectorConfig.ConfidenceFloor, 1e-9)
	assert.Equal(t, 1, cfg.BrowserConfig.Concurrency)
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	t.Setenv("BROWSER_DRIVER", "selenium")

	_, err := config.New()
	require.Error(t, err)
}
