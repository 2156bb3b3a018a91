package config

import (
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

// ParseYAML parses a Config from YAML bytes, applies defaults and validates it.
func ParseYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}

	applyDefaults(&cfg)

	if err := expandSweepRange(&cfg.Sweep); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// ParseYAMLString parses a Config from a YAML string and validates it.
func ParseYAMLString(yamlText string) (*Config, error) {
	return ParseYAML([]byte(yamlText))
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Model.Kind == "" {
		cfg.Model.Kind = "damped"
	}
	if cfg.Model.QPoints == 0 {
		cfg.Model.QPoints = 100
	}
	if cfg.Model.QMax == 0 {
		cfg.Model.QMax = 0.2
	}
	if cfg.Model.QMin == 0 {
		cfg.Model.QMin = 0.005
	}
	if cfg.Noise.CountingTime == 0 {
		cfg.Noise.CountingTime = 1.0
	}
	if cfg.Noise.RelativeError == 0 {
		cfg.Noise.RelativeError = 0.05
	}
	if cfg.Noise.MinRelativeError == 0 {
		cfg.Noise.MinRelativeError = 0.01
	}
	if cfg.Sampler.Steps == 0 {
		cfg.Sampler.Steps = 2000
	}
	if cfg.Sampler.Burn == 0 {
		cfg.Sampler.Burn = 1000
	}
	if cfg.Sweep.Realizations == 0 {
		cfg.Sweep.Realizations = 3
	}
	if cfg.Sweep.EntropyMethod == "" {
		cfg.Sweep.EntropyMethod = "kdn"
	}
	if cfg.Sweep.OnFailure == "" {
		cfg.Sweep.OnFailure = "degrade"
	}
	if cfg.Output.Path == "" {
		cfg.Output.Path = "optimization_results.json"
	}
}

// expandSweepRange turns a min/max/steps range into the explicit candidate
// list the rest of the planner works with. The range is inclusive on both
// ends.
func expandSweepRange(s *Sweep) error {
	if s.Steps == 0 && s.Min == 0 && s.Max == 0 {
		return nil
	}
	if len(s.Values) > 0 {
		return fmt.Errorf("sweep values and min/max/steps are mutually exclusive")
	}
	if s.Steps < 2 {
		return fmt.Errorf("sweep steps must be at least 2, got %d", s.Steps)
	}
	if math.IsInf(s.Min, 0) || math.IsInf(s.Max, 0) || math.IsNaN(s.Min) || math.IsNaN(s.Max) {
		return fmt.Errorf("sweep range has non-finite bounds: min=%g max=%g", s.Min, s.Max)
	}
	if s.Max <= s.Min {
		return fmt.Errorf("sweep range is inverted: min=%g max=%g", s.Min, s.Max)
	}

	step := (s.Max - s.Min) / float64(s.Steps-1)
	s.Values = make([]float64, s.Steps)
	for i := range s.Values {
		s.Values[i] = s.Min + float64(i)*step
	}
	// Land on the upper bound exactly
	s.Values[s.Steps-1] = s.Max
	return nil
}

// validateConfig performs validation on the configuration
func validateConfig(cfg *Config) error {
	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}

	// Validate model
	validKinds := map[string]bool{
		"linear": true,
		"damped": true,
	}
	if !validKinds[cfg.Model.Kind] {
		return fmt.Errorf("invalid model kind: %s (must be linear or damped)", cfg.Model.Kind)
	}
	if cfg.Model.QPoints < 2 {
		return fmt.Errorf("model q_points must be at least 2, got %d", cfg.Model.QPoints)
	}
	if cfg.Model.QMax <= cfg.Model.QMin {
		return fmt.Errorf("model q range is inverted: q_min=%g q_max=%g", cfg.Model.QMin, cfg.Model.QMax)
	}
	for _, p := range cfg.Model.Parameters {
		if p.Name == "" {
			return fmt.Errorf("model parameter name cannot be empty")
		}
		if !p.Fixed {
			if math.IsInf(p.Min, 0) || math.IsInf(p.Max, 0) || math.IsNaN(p.Min) || math.IsNaN(p.Max) {
				return fmt.Errorf("model parameter %s has non-finite bounds", p.Name)
			}
			if p.Max <= p.Min {
				return fmt.Errorf("model parameter %s has invalid bounds: min=%g max=%g", p.Name, p.Min, p.Max)
			}
		}
	}

	// Validate noise
	if cfg.Noise.CountingTime <= 0 {
		return fmt.Errorf("noise counting_time must be positive, got %g", cfg.Noise.CountingTime)
	}
	if cfg.Noise.RelativeError <= 0 {
		return fmt.Errorf("noise relative_error must be positive, got %g", cfg.Noise.RelativeError)
	}
	if cfg.Noise.MinRelativeError <= 0 {
		return fmt.Errorf("noise min_relative_error must be positive, got %g", cfg.Noise.MinRelativeError)
	}

	// Validate sampler
	if cfg.Sampler.Steps <= 0 {
		return fmt.Errorf("sampler steps must be positive, got %d", cfg.Sampler.Steps)
	}
	if cfg.Sampler.Burn < 0 {
		return fmt.Errorf("sampler burn cannot be negative, got %d", cfg.Sampler.Burn)
	}

	// Validate sweep
	if cfg.Sweep.Parameter == "" {
		return fmt.Errorf("sweep parameter cannot be empty")
	}
	if len(cfg.Sweep.Values) == 0 {
		return fmt.Errorf("sweep must list at least one candidate value")
	}
	if cfg.Sweep.Realizations <= 0 {
		return fmt.Errorf("sweep realizations must be positive, got %d", cfg.Sweep.Realizations)
	}
	if cfg.Sweep.EntropyMethod != "mvn" && cfg.Sweep.EntropyMethod != "kdn" {
		return fmt.Errorf("invalid entropy_method: %s (must be mvn or kdn)", cfg.Sweep.EntropyMethod)
	}
	if cfg.Sweep.OnFailure != "degrade" && cfg.Sweep.OnFailure != "abort" {
		return fmt.Errorf("invalid on_failure: %s (must be degrade or abort)", cfg.Sweep.OnFailure)
	}
	if cfg.Sweep.MaxWorkers < 0 {
		return fmt.Errorf("sweep max_workers cannot be negative, got %d", cfg.Sweep.MaxWorkers)
	}

	return nil
}
