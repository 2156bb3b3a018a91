// Package sampler defines the posterior-sampler contract consumed by the
// planner, plus a simple default implementation.
//
// A sampler receives a forward model and one synthetic noisy dataset and
// returns draws from the posterior distribution over the model's fit
// parameters. Calls may be arbitrarily slow; the planner imposes no timeout.
package sampler

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/mdoucet/refl-planner/internal/model"
)

// Dataset is one synthetic noisy measurement.
type Dataset struct {
	Q      []float64
	DQ     []float64
	R      []float64
	Errors []float64
}

func (d *Dataset) validate() error {
	if len(d.Q) == 0 {
		return fmt.Errorf("dataset is empty")
	}
	if len(d.R) != len(d.Q) || len(d.Errors) != len(d.Q) {
		return fmt.Errorf("dataset arrays disagree in length: q=%d r=%d errors=%d",
			len(d.Q), len(d.R), len(d.Errors))
	}
	return nil
}

// Config controls a sampling run.
type Config struct {
	// Steps is the number of posterior draws to keep
	Steps int
	// Burn is the number of initial steps to discard
	Burn int
	// Seed makes the run reproducible; 0 selects a time-based seed
	Seed int64
}

// Result holds the posterior draws over all fit parameters plus the state
// needed for reporting: the highest-posterior point seen and the parameter
// names, column-aligned with Draws.
type Result struct {
	Draws    *mat.Dense
	Names    []string
	Best     []float64
	Accepted int
}

// Sampler produces posterior draws for a model given one noisy dataset.
type Sampler interface {
	Sample(m model.ForwardModel, data Dataset, cfg Config) (*Result, error)
}
