package config

// Config represents a full planner run configuration
type Config struct {
	LogLevel string  `yaml:"log_level"`
	Model    Model   `yaml:"model"`
	Noise    Noise   `yaml:"noise"`
	Sampler  Sampler `yaml:"sampler"`
	Sweep    Sweep   `yaml:"sweep"`
	Output   Output  `yaml:"output"`
}

// Model selects and configures the forward model
type Model struct {
	Kind    string  `yaml:"kind"` // linear or damped
	QMin    float64 `yaml:"q_min"`
	QMax    float64 `yaml:"q_max"`
	QPoints int     `yaml:"q_points"`
	// Optional overrides of the model's built-in parameter table
	Parameters []ParamSpec `yaml:"parameters,omitempty"`
}

// ParamSpec overrides one model parameter
type ParamSpec struct {
	Name  string  `yaml:"name"`
	Value float64 `yaml:"value"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	Fixed bool    `yaml:"fixed,omitempty"`
}

// Noise configures the instrument noise simulator
type Noise struct {
	CountingTime     float64 `yaml:"counting_time"`
	RelativeError    float64 `yaml:"relative_error"`
	MinRelativeError float64 `yaml:"min_relative_error"`
	// When set, per-point relative errors are derived from this
	// measurement file instead of the fixed relative_error
	DataFile string `yaml:"data_file,omitempty"`
	// Seed pins the noise draws; 0 selects time-based seeding
	Seed int64 `yaml:"seed,omitempty"`
}

// Sampler configures the posterior sampler
type Sampler struct {
	Steps int   `yaml:"steps"`
	Burn  int   `yaml:"burn"`
	Seed  int64 `yaml:"seed,omitempty"`
}

// Sweep configures the design-value sweep. Candidate values come either
// from an explicit list or from an inclusive min/max/steps range.
type Sweep struct {
	Parameter            string    `yaml:"parameter"`
	Values               []float64 `yaml:"values,omitempty"`
	Min                  float64   `yaml:"min,omitempty"`
	Max                  float64   `yaml:"max,omitempty"`
	Steps                int       `yaml:"steps,omitempty"`
	Realizations         int       `yaml:"realizations"`
	EntropyMethod        string    `yaml:"entropy_method"` // mvn or kdn
	Parallel             *bool     `yaml:"parallel,omitempty"`
	MaxWorkers           int       `yaml:"max_workers,omitempty"`
	OnFailure            string    `yaml:"on_failure"` // degrade or abort
	ParametersOfInterest []string  `yaml:"parameters_of_interest,omitempty"`
}

// Output configures where results are written
type Output struct {
	Path string `yaml:"path"`
}

// IsParallel reports whether the sweep should use the parallel driver.
// Parallel execution is the default.
func (s *Sweep) IsParallel() bool {
	if s.Parallel == nil {
		return true
	}
	return *s.Parallel
}
