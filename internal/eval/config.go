// Package eval drives the steered-persona x test-persona evaluation matrix:
// experiment state and persistence, calibration and testing phases, and
// resume semantics.
package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"steerbench/internal/retry"
)

// Defaults mirroring the run parameters the harness started with.
const (
	DefaultSeed               = 42
	DefaultSteerObservations  = 4
	DefaultMaxObservations    = 100
	DefaultMaxConcurrent      = 8
	DefaultInferenceBatchSize = 10
	DefaultOutputBaseDir      = "output/experiments"
)

// Config is everything required to reproduce a run. It is persisted verbatim
// into the experiment directory at creation.
type Config struct {
	// Backend selection.
	SteerableSystemType   string         `json:"steerable_system_type" yaml:"steerable_system_type"`
	SteerableSystemConfig map[string]any `json:"steerable_system_config" yaml:"steerable_system_config"`

	// Dataset sources and sampling.
	PersonasPath               string `json:"personas_path" yaml:"personas_path"`
	ObservationsPath           string `json:"observations_path" yaml:"observations_path"`
	MaxPersonas                int    `json:"max_personas" yaml:"max_personas"`
	RandomSeed                 int64  `json:"random_seed" yaml:"random_seed"`
	SteerObservationsPerPersona int   `json:"n_steer_observations_per_persona" yaml:"n_steer_observations_per_persona"`
	MaxObservations            int    `json:"max_observations" yaml:"max_observations"`

	// Execution.
	RunConcurrent      bool `json:"run_concurrent" yaml:"run_concurrent"`
	MaxConcurrent      int  `json:"max_concurrent_tests" yaml:"max_concurrent_tests"`
	InferenceBatchSize int  `json:"inference_batch_size" yaml:"inference_batch_size"`
	RetryAttempts      int  `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBaseDelayMS   int  `json:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`

	// Output.
	OutputBaseDir  string `json:"output_base_dir" yaml:"output_base_dir"`
	ExperimentName string `json:"experiment_name" yaml:"experiment_name"`
	Resume         bool   `json:"resume" yaml:"resume"`
}

// WithDefaults fills zero-valued fields with the baseline run parameters.
func (c Config) WithDefaults() Config {
	if c.RandomSeed == 0 {
		c.RandomSeed = DefaultSeed
	}
	if c.SteerObservationsPerPersona == 0 {
		c.SteerObservationsPerPersona = DefaultSteerObservations
	}
	if c.MaxObservations == 0 {
		c.MaxObservations = DefaultMaxObservations
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.InferenceBatchSize == 0 {
		c.InferenceBatchSize = DefaultInferenceBatchSize
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = retry.DefaultAttempts
	}
	if c.RetryBaseDelayMS == 0 {
		c.RetryBaseDelayMS = int(retry.DefaultBaseDelay.Milliseconds())
	}
	if c.OutputBaseDir == "" {
		c.OutputBaseDir = DefaultOutputBaseDir
	}
	if c.ExperimentName == "" {
		c.ExperimentName = time.Now().Format("2006-01-02_15-04-05")
	}
	return c
}

// Validate reports configuration errors that must stop the run before any
// work begins.
func (c Config) Validate() error {
	if c.SteerableSystemType == "" {
		return fmt.Errorf("steerable_system_type is required")
	}
	if c.PersonasPath == "" || c.ObservationsPath == "" {
		return fmt.Errorf("personas_path and observations_path are required")
	}
	if c.SteerObservationsPerPersona <= 0 || c.SteerObservationsPerPersona%2 != 0 {
		return fmt.Errorf("n_steer_observations_per_persona must be positive and even, got %d", c.SteerObservationsPerPersona)
	}
	if c.MaxObservations <= 0 {
		return fmt.Errorf("max_observations must be positive, got %d", c.MaxObservations)
	}
	if c.RunConcurrent && c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent_tests must be positive in concurrent mode, got %d", c.MaxConcurrent)
	}
	return nil
}

// RetryPolicy builds the bounded backoff policy from the configured knobs.
func (c Config) RetryPolicy() retry.Policy {
	p := retry.Default()
	p.Attempts = c.RetryAttempts
	p.BaseDelay = time.Duration(c.RetryBaseDelayMS) * time.Millisecond
	return p
}

// LoadConfig reads a config file, YAML or JSON. Format is detected by
// extension, falling back to content sniffing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(path))
	isJSON := ext == ".json" || (ext != ".yaml" && ext != ".yml" && strings.HasPrefix(strings.TrimSpace(string(data)), "{"))
	if isJSON {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config json: %w", err)
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config yaml: %w", err)
	}
	return cfg, nil
}
