package sampler

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/mdoucet/refl-planner/internal/model"
	"github.com/mdoucet/refl-planner/pkg/utils"
)

// defaultStepFraction sizes the random-walk proposal as a fraction of each
// parameter's bound width
const defaultStepFraction = 0.05

// Metropolis is a random-walk Metropolis sampler over a model's fit
// parameters, with a uniform prior on each parameter's bounds and a Gaussian
// likelihood on the dataset.
type Metropolis struct {
	// StepFraction is the proposal stddev as a fraction of bound width
	StepFraction float64
}

// NewMetropolis creates a Metropolis sampler with the default proposal size.
func NewMetropolis() *Metropolis {
	return &Metropolis{StepFraction: defaultStepFraction}
}

// Sample runs the random walk and returns cfg.Steps posterior draws after
// cfg.Burn discarded steps. The caller's model is cloned, never mutated.
func (s *Metropolis) Sample(m model.ForwardModel, data Dataset, cfg Config) (*Result, error) {
	if err := data.validate(); err != nil {
		return nil, err
	}
	if cfg.Steps <= 0 {
		return nil, fmt.Errorf("sampler steps must be positive, got %d", cfg.Steps)
	}
	if cfg.Burn < 0 {
		return nil, fmt.Errorf("sampler burn cannot be negative, got %d", cfg.Burn)
	}

	params := model.FitParams(m)
	if len(params) == 0 {
		return nil, fmt.Errorf("model %s has no free parameters to sample", m.Name())
	}

	stepFraction := s.StepFraction
	if stepFraction <= 0 {
		stepFraction = defaultStepFraction
	}

	// Work on a private copy so the caller's model state is untouched
	work := m.Clone()
	rng := utils.NewRandSource(cfg.Seed)

	names := make([]string, len(params))
	current := make([]float64, len(params))
	widths := make([]float64, len(params))
	for i, p := range params {
		names[i] = p.Name
		current[i] = p.Value
		widths[i] = p.Max - p.Min
		if widths[i] <= 0 || math.IsInf(widths[i], 0) || math.IsNaN(widths[i]) {
			return nil, fmt.Errorf("parameter %s has unusable bounds [%g, %g]", p.Name, p.Min, p.Max)
		}
	}

	logPost, err := logPosterior(work, names, current, data)
	if err != nil {
		return nil, err
	}

	best := append([]float64(nil), current...)
	bestLogPost := logPost

	draws := mat.NewDense(cfg.Steps, len(params), nil)
	proposal := make([]float64, len(params))
	accepted := 0

	total := cfg.Burn + cfg.Steps
	for step := 0; step < total; step++ {
		inBounds := true
		for i := range current {
			proposal[i] = rng.NormFloat64(current[i], stepFraction*widths[i])
			if proposal[i] < params[i].Min || proposal[i] > params[i].Max {
				inBounds = false
			}
		}

		if inBounds {
			propLogPost, err := logPosterior(work, names, proposal, data)
			if err != nil {
				return nil, err
			}
			if propLogPost >= logPost || rng.Float64() < math.Exp(propLogPost-logPost) {
				copy(current, proposal)
				logPost = propLogPost
				accepted++
				if logPost > bestLogPost {
					bestLogPost = logPost
					copy(best, current)
				}
			}
		}

		if step >= cfg.Burn {
			draws.SetRow(step-cfg.Burn, current)
		}
	}

	return &Result{
		Draws:    draws,
		Names:    names,
		Best:     best,
		Accepted: accepted,
	}, nil
}

// logPosterior evaluates the unnormalized log-posterior at point: a Gaussian
// likelihood over the dataset. Bounds are enforced by the proposal step, so
// the prior contributes only a constant here.
func logPosterior(work model.ForwardModel, names []string, point []float64, data Dataset) (float64, error) {
	for i, name := range names {
		if err := work.Set(name, point[i]); err != nil {
			return 0, err
		}
	}

	_, pred := work.Predict()
	if len(pred) != len(data.R) {
		return 0, fmt.Errorf("model predicts %d points but dataset has %d", len(pred), len(data.R))
	}

	chi2 := 0.0
	for i := range pred {
		if data.Errors[i] <= 0 {
			continue
		}
		resid := (data.R[i] - pred[i]) / data.Errors[i]
		chi2 += resid * resid
	}
	return -0.5 * chi2, nil
}
