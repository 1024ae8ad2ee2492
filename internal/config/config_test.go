package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReturnsDefaultsWhenNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.LLM.BaseURL)
	assert.Equal(t, "local-model", cfg.Models.Planner)
	assert.Equal(t, 5, cfg.Loop.DKPingThreshold)
	assert.Len(t, cfg.Profiles, 4)
}

func TestLoadReadsYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	yaml := `
llm:
  base_url: http://example.internal:9000
models:
  planner: big-model
  implementer: small-model
  consultant: big-model
loop:
  dk_ping_threshold: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "isomoira.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "http://example.internal:9000", cfg.LLM.BaseURL)
	assert.Equal(t, "big-model", cfg.Models.Planner)
	assert.Equal(t, "small-model", cfg.Models.Implementer)
	assert.Equal(t, 10, cfg.Loop.DKPingThreshold)
	// Unset fields still fall back to defaults.
	assert.Equal(t, 5, cfg.Loop.StuckThreshold)
	assert.Equal(t, 20, cfg.Rate.RequestsPerMinute)
}

func TestApplyDefaultsFillsZeroFields(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	d := DefaultConfig()
	assert.Equal(t, d.LLM.BaseURL, cfg.LLM.BaseURL)
	assert.Equal(t, d.Models, cfg.Models)
	assert.Equal(t, d.Rate, cfg.Rate)
	assert.Equal(t, d.Loop, cfg.Loop)
	assert.Len(t, cfg.Profiles, 4)
}
