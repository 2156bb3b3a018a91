// Package instrument simulates measurement noise on noise-free curves.
package instrument

import (
	"fmt"
	"math"

	"github.com/mdoucet/refl-planner/pkg/utils"
)

const (
	// floor applied to noisy observations so downstream fits never see a
	// non-positive count
	positivityFloor = 1e-12

	// fractional Q resolution assumed when no measurement file supplies dQ
	defaultResolution = 0.025
)

// Options configures a Simulator.
type Options struct {
	// CountingTime scales the noise level; doubling it shrinks error bars
	// by sqrt(2)
	CountingTime float64
	// RelativeError is the base relative error, broadcast to every point in
	// fixed mode and used as the fallback in measured-data mode
	RelativeError float64
	// MinRelativeError is the lower limit on any per-point relative error
	MinRelativeError float64
	// Seed for the noise generator; 0 selects a time-based seed
	Seed int64
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.CountingTime <= 0 {
		out.CountingTime = 1.0
	}
	if out.RelativeError <= 0 {
		out.RelativeError = 0.05
	}
	if out.MinRelativeError <= 0 {
		out.MinRelativeError = 0.01
	}
	return out
}

// Simulator turns a noise-free prediction into a synthetic noisy observation
// with per-point uncertainties. In fixed mode the relative error is the same
// at every point; in measured-data mode it is derived per point from a
// reference measurement.
type Simulator struct {
	opts    Options
	q       []float64
	dq      []float64
	relErrs []float64 // per-point relative errors; nil in fixed mode
	rng     *utils.RandSource
}

// NewSimulator creates a fixed-relative-error simulator over the given grid.
func NewSimulator(q []float64, opts Options) *Simulator {
	opts = opts.withDefaults()
	dq := make([]float64, len(q))
	for i, v := range q {
		dq[i] = defaultResolution * v
	}
	return &Simulator{
		opts: opts,
		q:    append([]float64(nil), q...),
		dq:   dq,
		rng:  utils.NewRandSource(opts.Seed),
	}
}

// NewSimulatorFromFile creates a measured-data-mode simulator whose grid and
// per-point relative errors come from a reference measurement file. Each
// point's relative error is dR/R; points with R == 0 or a non-positive ratio
// fall back to the base relative error.
func NewSimulatorFromFile(path string, opts Options) (*Simulator, error) {
	opts = opts.withDefaults()
	meas, err := ReadDataFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference measurement: %w", err)
	}

	relErrs := make([]float64, len(meas.Q))
	for i := range meas.Q {
		rel := opts.RelativeError
		if meas.R[i] != 0 {
			if ratio := meas.DR[i] / meas.R[i]; ratio > 0 {
				rel = ratio
			}
		}
		relErrs[i] = rel
	}

	return &Simulator{
		opts:    opts,
		q:       meas.Q,
		dq:      meas.DQ,
		relErrs: relErrs,
		rng:     utils.NewRandSource(opts.Seed),
	}, nil
}

// QValues returns the simulator's momentum-transfer grid.
func (s *Simulator) QValues() []float64 {
	return append([]float64(nil), s.q...)
}

// DQValues returns the per-point Q resolution.
func (s *Simulator) DQValues() []float64 {
	return append([]float64(nil), s.dq...)
}

// CountingTime returns the configured counting-time scale factor.
func (s *Simulator) CountingTime() float64 {
	return s.opts.CountingTime
}

// Clone returns an independent simulator with its own noise generator,
// suitable for handing to a parallel worker.
func (s *Simulator) Clone(seed int64) *Simulator {
	opts := s.opts
	opts.Seed = seed
	return &Simulator{
		opts:    opts,
		q:       append([]float64(nil), s.q...),
		dq:      append([]float64(nil), s.dq...),
		relErrs: append([]float64(nil), s.relErrs...),
		rng:     utils.NewRandSource(seed),
	}
}

// AddNoise returns a noisy version of the prediction along with the
// per-point absolute errors. Errors scale proportionally to the prediction
// and with 1/sqrt(counting time). Points with a nonzero error bar are
// clamped to a small positive floor; zero-error points pass through
// unchanged.
func (s *Simulator) AddNoise(prediction []float64) ([]float64, []float64, error) {
	if s.relErrs != nil && len(prediction) != len(s.relErrs) {
		return nil, nil, fmt.Errorf(
			"prediction has %d points but reference measurement has %d", len(prediction), len(s.relErrs))
	}

	scale := 1.0 / math.Sqrt(s.opts.CountingTime)
	noisy := make([]float64, len(prediction))
	errs := make([]float64, len(prediction))

	for i, r := range prediction {
		rel := s.opts.RelativeError
		if s.relErrs != nil {
			rel = s.relErrs[i]
		}
		if rel < s.opts.MinRelativeError {
			rel = s.opts.MinRelativeError
		}

		errs[i] = rel * scale * math.Abs(r)
		noisy[i] = r + s.rng.NormFloat64(0, errs[i])
		if errs[i] > 0 {
			noisy[i] = utils.MaxFloat64(noisy[i], positivityFloor)
		}
	}
	return noisy, errs, nil
}
