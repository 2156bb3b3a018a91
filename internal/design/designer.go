// Package design owns the experiment parameter set and the entropy
// bookkeeping around it: which parameters are of interest, their uniform
// prior entropy, and the marginal posterior samples that belong to them.
package design

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/mdoucet/refl-planner/internal/model"
	"github.com/mdoucet/refl-planner/pkg/logger"
)

// ConfigError reports an invalid parameter configuration: an unknown name
// or unusable bounds. It is always propagated to the caller, never
// recovered locally.
type ConfigError struct {
	Param  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("parameter %s: %s", e.Param, e.Reason)
}

// SampleParameter is one fit parameter with its entropy bookkeeping.
// PriorBits is only meaningful for a uniform prior over [Min, Max].
type SampleParameter struct {
	Name          string
	Value         float64
	Min           float64
	Max           float64
	OfInterest    bool
	PriorBits     float64
	PosteriorBits float64
}

// Designer binds a forward model to the planner: it holds the fit-parameter
// table, computes prior entropy over the parameters of interest, mutates the
// design parameter, and restricts posterior samples to the columns of
// interest. A Designer is not safe for concurrent use; parallel workers each
// get their own via Clone.
type Designer struct {
	model    model.ForwardModel
	interest []string
	params   []*SampleParameter
}

// New builds a Designer for a model. parametersOfInterest selects the subset
// the information gain is computed over; nil or empty means every fit
// parameter is of interest. Names that match no model parameter are logged
// and ignored.
func New(m model.ForwardModel, parametersOfInterest []string) *Designer {
	interest := parametersOfInterest
	if len(interest) == 0 {
		interest = nil
	}

	wanted := make(map[string]bool, len(interest))
	for _, name := range interest {
		wanted[name] = true
	}

	var params []*SampleParameter
	for _, p := range model.FitParams(m) {
		params = append(params, &SampleParameter{
			Name:       p.Name,
			Value:      p.Value,
			Min:        p.Min,
			Max:        p.Max,
			OfInterest: interest == nil || wanted[p.Name],
		})
	}

	if interest != nil {
		known := make(map[string]bool)
		for _, p := range m.Params() {
			known[p.Name] = true
		}
		var missing []string
		for _, name := range interest {
			if !known[name] {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			logger.Warn("parameters of interest not found in model", "missing", missing)
		}
	}

	return &Designer{
		model:    m,
		interest: append([]string(nil), interest...),
		params:   params,
	}
}

// Model returns the designer's forward model.
func (d *Designer) Model() model.ForwardModel {
	return d.model
}

// Params returns a copy of the fit-parameter table.
func (d *Designer) Params() []SampleParameter {
	out := make([]SampleParameter, len(d.params))
	for i, p := range d.params {
		out[i] = *p
	}
	return out
}

// PriorEntropy returns the Shannon entropy of the uniform prior over the
// parameters of interest, in bits: the sum of log2(max-min) over those
// parameters. Parameters not of interest contribute nothing.
func (d *Designer) PriorEntropy() (float64, error) {
	total := 0.0
	for _, p := range d.params {
		if !p.OfInterest {
			continue
		}
		if math.IsInf(p.Min, 0) || math.IsInf(p.Max, 0) || math.IsNaN(p.Min) || math.IsNaN(p.Max) {
			return 0, &ConfigError{Param: p.Name, Reason: "bounds are not finite"}
		}
		if p.Max <= p.Min {
			return 0, &ConfigError{
				Param:  p.Name,
				Reason: fmt.Sprintf("invalid bounds: %g >= %g", p.Min, p.Max),
			}
		}
		p.PriorBits = math.Log2(p.Max - p.Min)
		total += p.PriorBits
	}
	return total, nil
}

// SetParameter sets a named model parameter (free or fixed) and propagates
// the change to the forward model, so the next Predict reflects it.
func (d *Designer) SetParameter(name string, value float64) error {
	if err := d.model.Set(name, value); err != nil {
		return &ConfigError{Param: name, Reason: "not found in model parameters"}
	}
	for _, p := range d.params {
		if p.Name == name {
			p.Value = value
		}
	}
	return nil
}

// MarginalSamples restricts a full posterior sample matrix to the columns of
// the parameters of interest, preserving row order. When every fit parameter
// is of interest, or no interest column matches the matrix, the full matrix
// is returned unchanged.
func (d *Designer) MarginalSamples(samples *mat.Dense) *mat.Dense {
	if d.interest == nil {
		return samples
	}

	rows, cols := samples.Dims()
	var indices []int
	for i, p := range d.params {
		if p.OfInterest && i < cols {
			indices = append(indices, i)
		}
	}

	if len(indices) == 0 {
		logger.Debug("no parameters of interest found in samples, using all columns")
		return samples
	}
	if len(indices) == cols {
		return samples
	}

	out := mat.NewDense(rows, len(indices), nil)
	for j, col := range indices {
		for i := 0; i < rows; i++ {
			out.Set(i, j, samples.At(i, col))
		}
	}
	return out
}

// RecordPosterior stores a posterior-entropy estimate on the parameters of
// interest, for the summary table.
func (d *Designer) RecordPosterior(bits float64) {
	for _, p := range d.params {
		if p.OfInterest {
			p.PosteriorBits = bits
		}
	}
}

// Clone returns an independent copy of the designer and its model, suitable
// for handing to a parallel worker.
func (d *Designer) Clone() *Designer {
	params := make([]*SampleParameter, len(d.params))
	for i, p := range d.params {
		cp := *p
		params[i] = &cp
	}
	return &Designer{
		model:    d.model.Clone(),
		interest: append([]string(nil), d.interest...),
		params:   params,
	}
}

// String renders the parameter table, starring the parameters of interest.
func (d *Designer) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ExperimentDesigner with %d parameters\n", len(d.params))
	fmt.Fprintf(&b, "    %-20s %-10s %-24s %-10s %-12s\n", "name", "value", "bounds", "H_prior", "H_posterior")
	for _, p := range d.params {
		name := p.Name
		if p.OfInterest {
			name += "*"
		}
		bounds := fmt.Sprintf("(%g, %g)", p.Min, p.Max)
		fmt.Fprintf(&b, "  - %-20s %-10.4g %-24s %-10.4g %-12.4g\n",
			name, p.Value, bounds, p.PriorBits, p.PosteriorBits)
	}
	return b.String()
}
