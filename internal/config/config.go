// Package config loads isomoira's runtime configuration: model endpoint,
// role-to-model assignment, and sampling profiles.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/daydemir/isomoira/internal/profile"
)

// Config is isomoira's full runtime configuration.
type Config struct {
	LLM    LLMConfig       `mapstructure:"llm"`
	Models ModelsConfig    `mapstructure:"models"`
	Rate   RateConfig      `mapstructure:"rate"`
	Loop   LoopConfig      `mapstructure:"loop"`
	Profiles map[string]profile.Profile `mapstructure:"profiles"`
}

// LLMConfig describes the local model server.
type LLMConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// ModelsConfig assigns concrete model IDs to the three logical roles.
type ModelsConfig struct {
	Planner     string `mapstructure:"planner"`
	Implementer string `mapstructure:"implementer"`
	Consultant  string `mapstructure:"consultant"`
}

// RateConfig bounds how fast each role may call the model server.
type RateConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// LoopConfig bounds the convergence controller. There is no iteration cap:
// only stall-escalation (DKPingThreshold) and the task size cap bound how
// long a run may continue to make progress.
type LoopConfig struct {
	StuckThreshold   int `mapstructure:"stuck_threshold"`
	DKPingThreshold  int `mapstructure:"dk_ping_threshold"`
	TaskSizeCapExtra int `mapstructure:"task_size_cap_extra"`
}

// Load reads isomoira.yaml from the project directory, falling back to
// defaults for anything unset. It also loads a .env file in the project
// directory (if present) before viper's own environment binding, so
// ISOMOIRA_LLM_BASE_URL and friends can override the YAML.
func Load(projectDir string) (*Config, error) {
	_ = godotenv.Load(filepath.Join(projectDir, ".env"))

	configPath := filepath.Join(projectDir, "isomoira.yaml")

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ISOMOIRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// DefaultConfig returns isomoira's built-in defaults: a single local
// endpoint, the same model bound to all three roles (single-model
// deployment), and the four named sampling profiles.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL: "http://localhost:8080",
		},
		Models: ModelsConfig{
			Planner:     "local-model",
			Implementer: "local-model",
			Consultant:  "local-model",
		},
		Rate: RateConfig{
			RequestsPerMinute: 20,
			Burst:             2,
		},
		Loop: LoopConfig{
			StuckThreshold:   5,
			DKPingThreshold:  5,
			TaskSizeCapExtra: 2000,
		},
		Profiles: profile.Defaults(),
	}
}

func applyDefaults(cfg *Config) {
	d := DefaultConfig()

	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = d.LLM.BaseURL
	}
	if cfg.Models.Planner == "" {
		cfg.Models.Planner = d.Models.Planner
	}
	if cfg.Models.Implementer == "" {
		cfg.Models.Implementer = d.Models.Implementer
	}
	if cfg.Models.Consultant == "" {
		cfg.Models.Consultant = d.Models.Consultant
	}
	if cfg.Rate.RequestsPerMinute == 0 {
		cfg.Rate.RequestsPerMinute = d.Rate.RequestsPerMinute
	}
	if cfg.Rate.Burst == 0 {
		cfg.Rate.Burst = d.Rate.Burst
	}
	if cfg.Loop.StuckThreshold == 0 {
		cfg.Loop.StuckThreshold = d.Loop.StuckThreshold
	}
	if cfg.Loop.DKPingThreshold == 0 {
		cfg.Loop.DKPingThreshold = d.Loop.DKPingThreshold
	}
	if cfg.Loop.TaskSizeCapExtra == 0 {
		cfg.Loop.TaskSizeCapExtra = d.Loop.TaskSizeCapExtra
	}
	if cfg.Profiles == nil || len(cfg.Profiles) == 0 {
		cfg.Profiles = d.Profiles
	}
}
