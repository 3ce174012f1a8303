// Package config loads run configuration from YAML. Flags still win
// over file values; the file covers the knobs too numerous for flags.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full run configuration. Zero-valued fields keep the
// defaults from Default().
type Config struct {
	// Case names the embedded network case (or a JSON file path).
	Case string `yaml:"case"`

	// ThresholdPU is the violation cutoff in per-unit.
	ThresholdPU float64 `yaml:"threshold_pu"`

	Compensation CompensationConfig `yaml:"compensation"`
	Retry        RetryConfig        `yaml:"retry"`
	Solver       SolverConfig       `yaml:"solver"`
	Logging      LoggingConfig      `yaml:"logging"`

	// MetricsListen is the Prometheus listen address; empty disables
	// the endpoint.
	MetricsListen string `yaml:"metrics_listen"`
}

// CompensationConfig bounds the per-bus shunt search.
type CompensationConfig struct {
	StepQMVAr             float64 `yaml:"step_q_mvar"`
	MaxQMVAr              float64 `yaml:"max_q_mvar"`
	ImprovementEpsPU      float64 `yaml:"improvement_eps_pu"`
	DeferEpsPU            float64 `yaml:"defer_eps_pu"`
	OptimalPerBusMaxQMVAr float64 `yaml:"optimal_per_bus_max_q_mvar"`
}

// RetryConfig bounds the convergence guard.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts"`
	LoadBackoff float64 `yaml:"load_backoff"`
}

// SolverConfig bounds the bundled power-flow estimator.
type SolverConfig struct {
	MaxSweeps       int     `yaml:"max_sweeps"`
	TolerancePU     float64 `yaml:"tolerance_pu"`
	CollapseFloorPU float64 `yaml:"collapse_floor_pu"`
}

// LoggingConfig selects log verbosity and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Case:        "case14",
		ThresholdPU: 0.95,
		Compensation: CompensationConfig{
			StepQMVAr:             5.0,
			MaxQMVAr:              150.0,
			ImprovementEpsPU:      1e-3,
			DeferEpsPU:            0.005,
			OptimalPerBusMaxQMVAr: 75.0,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			LoadBackoff: 0.7,
		},
		Solver: SolverConfig{
			MaxSweeps:       500,
			TolerancePU:     1e-8,
			CollapseFloorPU: 0.7,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations no run could use.
func (c Config) Validate() error {
	if c.ThresholdPU <= 0 || c.ThresholdPU >= 2 {
		return fmt.Errorf("threshold_pu %g out of range", c.ThresholdPU)
	}
	if c.Compensation.StepQMVAr <= 0 {
		return fmt.Errorf("compensation.step_q_mvar %g must be positive", c.Compensation.StepQMVAr)
	}
	if c.Compensation.MaxQMVAr < c.Compensation.StepQMVAr {
		return fmt.Errorf("compensation.max_q_mvar %g below step", c.Compensation.MaxQMVAr)
	}
	if c.Compensation.DeferEpsPU < 0 {
		return fmt.Errorf("compensation.defer_eps_pu %g must not be negative", c.Compensation.DeferEpsPU)
	}
	if c.Compensation.OptimalPerBusMaxQMVAr <= 0 {
		return fmt.Errorf("compensation.optimal_per_bus_max_q_mvar %g must be positive", c.Compensation.OptimalPerBusMaxQMVAr)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts %d must be at least 1", c.Retry.MaxAttempts)
	}
	if c.Retry.LoadBackoff <= 0 || c.Retry.LoadBackoff >= 1 {
		return fmt.Errorf("retry.load_backoff %g must sit in (0, 1)", c.Retry.LoadBackoff)
	}
	if c.Solver.MaxSweeps < 1 {
		return fmt.Errorf("solver.max_sweeps %d must be at least 1", c.Solver.MaxSweeps)
	}
	if c.Solver.TolerancePU <= 0 {
		return fmt.Errorf("solver.tolerance_pu %g must be positive", c.Solver.TolerancePU)
	}
	if c.Solver.CollapseFloorPU <= 0 || c.Solver.CollapseFloorPU >= 1 {
		return fmt.Errorf("solver.collapse_floor_pu %g must sit in (0, 1)", c.Solver.CollapseFloorPU)
	}
	return nil
}
