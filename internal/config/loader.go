package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// FileName is the project-level config file name, grounded on orc's
// ".orc/config.yaml" convention (orc/internal/config/loader.go).
const FileName = "team-config.yaml"

// ProjectDir is the directory under the workspace root holding the config
// file. The learning store lives under its own directory (learning.ProjectDir).
const ProjectDir = ".team-forge"

// FileConfig is the on-disk, YAML-shaped partial configuration. Every field
// is optional; absent fields fall back to the built-in defaults.
type FileConfig struct {
	Gate     *GateConfig     `yaml:"gate,omitempty"`
	Throttle *ThrottleConfig `yaml:"throttle,omitempty"`
}

// Config is the fully merged, ready-to-use configuration.
type Config struct {
	Gate     GateConfig
	Throttle ThrottleConfig
	Health   HealthConfig
	Yolo     map[string]any // not populated by Default or LoadProject; types.DefaultYoloConfig supplies typed defaults
}

// Default returns the built-in configuration with no overrides applied.
func Default() Config {
	return Config{
		Gate:     DefaultGateConfig(),
		Throttle: DefaultThrottleConfig(),
		Health:   DefaultHealthConfig(),
	}
}

// LoadProject loads {projectDir}/.team-forge/team-config.yaml (if present),
// deep-merges it over the defaults, and applies TEAMFORGE_* environment
// variable overrides. Missing files are not an error (grounded on orc's
// LoadWithSources: system/user/project files are all optional, only a
// malformed project file is fatal).
func LoadProject(projectDir string, logger *slog.Logger) (Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := Default()

	path := filepath.Join(projectDir, ProjectDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read project config %s: %w", path, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse project config %s: %w", path, err)
	}

	if fc.Gate != nil {
		merged, err := MergeGateConfig(cfg.Gate, fc.Gate)
		if err != nil {
			return cfg, fmt.Errorf("merge gate config: %w", err)
		}
		cfg.Gate = merged
	}
	if fc.Throttle != nil && fc.Throttle.MaxCallsPerTool != nil {
		cfg.Throttle = MergeThrottleConfig(cfg.Throttle, fc.Throttle.MaxCallsPerTool)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides applies a small set of TEAMFORGE_* environment
// variables, following orc's ApplyEnvVars convention of letting the
// environment be the final, highest-priority layer.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TEAMFORGE_PASS_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Gate.PassThreshold = ClampPassThreshold(n)
		}
	}
	if v := os.Getenv("TEAMFORGE_MAX_REVIEW_CYCLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Gate.MaxReviewCycles = n
		}
	}
}
