// Package optimize runs the experiment-design sweep: for each candidate
// design value it simulates noisy measurements, samples the posterior,
// estimates the posterior entropy and aggregates the expected information
// gain.
package optimize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mdoucet/refl-planner/internal/design"
	"github.com/mdoucet/refl-planner/internal/entropy"
	"github.com/mdoucet/refl-planner/internal/instrument"
	"github.com/mdoucet/refl-planner/internal/metrics"
	"github.com/mdoucet/refl-planner/internal/model"
	"github.com/mdoucet/refl-planner/internal/report"
	"github.com/mdoucet/refl-planner/internal/sampler"
	"github.com/mdoucet/refl-planner/pkg/logger"
	"github.com/mdoucet/refl-planner/pkg/utils"
)

// FailurePolicy decides what happens when one realization fails during
// sampling or entropy estimation.
type FailurePolicy string

const (
	// FailDegrade logs the failure and counts it as a zero-gain
	// realization, biasing the aggregate toward zero instead of aborting
	FailDegrade FailurePolicy = "degrade"
	// FailAbort stops the whole sweep on the first failed realization
	FailAbort FailurePolicy = "abort"
)

// ParseFailurePolicy converts a configuration string into a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(s) {
	case "degrade":
		return FailDegrade, nil
	case "abort":
		return FailAbort, nil
	default:
		return "", fmt.Errorf("invalid failure policy: %s (must be degrade or abort)", s)
	}
}

// ProgressFunc is called after each candidate value completes.
type ProgressFunc func(completed, total int, value, meanGain float64)

// Options configures one sweep.
type Options struct {
	// Parameter is the name of the design parameter being swept
	Parameter string
	// Values are the candidate design values, in the order results are
	// returned
	Values []float64
	// Realizations is the number of independent noise draws per value
	Realizations int
	// Method selects the entropy estimator
	Method entropy.Method
	// Sampler configures the posterior sampler
	Sampler sampler.Config
	// OnFailure selects the realization-failure policy
	OnFailure FailurePolicy
	// MaxWorkers caps the parallel worker pool; 0 means one worker per
	// candidate value
	MaxWorkers int
	// Progress, when set, receives completion updates
	Progress ProgressFunc
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Realizations <= 0 {
		out.Realizations = 3
	}
	if out.Method == "" {
		out.Method = entropy.KDN
	}
	if out.OnFailure == "" {
		out.OnFailure = FailDegrade
	}
	return out
}

// Result is the aggregate outcome for one candidate design value, with the
// per-realization records kept for reporting.
type Result struct {
	Value        float64
	MeanGain     float64
	StdGain      float64
	Realizations []report.Realization
}

// Optimizer drives the sweep over candidate design values.
type Optimizer struct {
	designer  *design.Designer
	simulator *instrument.Simulator
	sampler   sampler.Sampler
	collector *metrics.Collector
	prior     float64
}

// New creates an Optimizer from its collaborators.
func New(designer *design.Designer, simulator *instrument.Simulator, s sampler.Sampler) *Optimizer {
	return &Optimizer{
		designer:  designer,
		simulator: simulator,
		sampler:   s,
		collector: metrics.NewCollector(),
	}
}

// WithCollector sets a custom stage-timing collector.
func (o *Optimizer) WithCollector(c *metrics.Collector) *Optimizer {
	o.collector = c
	return o
}

// Collector returns the stage-timing collector.
func (o *Optimizer) Collector() *metrics.Collector {
	return o.collector
}

// PriorEntropy returns the prior entropy computed for the last sweep, in
// bits. It is zero before the first run.
func (o *Optimizer) PriorEntropy() float64 {
	return o.prior
}

// Run evaluates every candidate value sequentially, in input order, on the
// calling goroutine.
func (o *Optimizer) Run(opts Options) ([]Result, error) {
	opts = opts.withDefaults()

	est, prior, err := o.prepare(opts)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(opts.Values))
	for i, value := range opts.Values {
		res, err := o.evaluateValue(o.designer, o.simulator, est, opts, i, value, prior)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate value %g: %w", value, err)
		}
		results[i] = res

		logger.Info("value evaluated",
			"value", res.Value, "mean_gain", res.MeanGain, "std_gain", res.StdGain)
		if opts.Progress != nil {
			opts.Progress(i+1, len(opts.Values), res.Value, res.MeanGain)
		}
	}

	o.finish(results, prior)
	return results, nil
}

// prepare validates the options, resolves the estimator and computes the
// prior entropy once for the whole sweep.
func (o *Optimizer) prepare(opts Options) (entropy.Estimator, float64, error) {
	if opts.Parameter == "" {
		return nil, 0, fmt.Errorf("design parameter name is required")
	}
	if len(opts.Values) == 0 {
		return nil, 0, fmt.Errorf("at least one candidate value is required")
	}
	if opts.OnFailure != FailDegrade && opts.OnFailure != FailAbort {
		return nil, 0, fmt.Errorf("invalid failure policy: %s", opts.OnFailure)
	}

	est, err := entropy.ForMethod(opts.Method)
	if err != nil {
		return nil, 0, err
	}

	// Computed once: bounds do not change during a sweep
	prior, err := o.designer.PriorEntropy()
	if err != nil {
		return nil, 0, err
	}
	o.prior = prior

	logger.Info("starting optimization",
		"parameter", opts.Parameter,
		"values", len(opts.Values),
		"realizations", opts.Realizations,
		"method", string(opts.Method),
		"prior_entropy_bits", prior)

	return est, prior, nil
}

func (o *Optimizer) finish(results []Result, prior float64) {
	posteriors := make([]float64, 0, len(results))
	for _, r := range results {
		posteriors = append(posteriors, prior-r.MeanGain)
	}
	o.designer.RecordPosterior(utils.Mean(posteriors))

	for _, s := range o.collector.Summaries() {
		logger.Debug("stage timing",
			"stage", s.Stage, "count", s.Count, "mean", s.Mean, "p95", s.P95)
	}
}

// evaluateValue runs the full realization loop for one candidate value.
func (o *Optimizer) evaluateValue(
	d *design.Designer,
	sim *instrument.Simulator,
	est entropy.Estimator,
	opts Options,
	index int,
	value float64,
	prior float64,
) (Result, error) {
	if err := d.SetParameter(opts.Parameter, value); err != nil {
		return Result{}, err
	}

	stop := o.collector.Time("predict")
	q, rCalc := d.Model().Predict()
	stop()

	dq := sim.DQValues()
	if len(dq) != len(q) {
		dq = make([]float64, len(q))
	}

	gains := make([]float64, 0, opts.Realizations)
	records := make([]report.Realization, 0, opts.Realizations)

	for i := 0; i < opts.Realizations; i++ {
		rec, gain, err := o.runRealization(d, sim, est, opts, index, i, value, prior, q, rCalc, dq)
		if err != nil {
			if opts.OnFailure == FailAbort {
				return Result{}, fmt.Errorf("realization %d failed: %w", i, err)
			}
			logger.Error("realization failed, counting zero gain",
				"value", value, "realization", i, "error", err)
			gains = append(gains, 0.0)
			continue
		}
		gains = append(gains, gain)
		records = append(records, rec)
	}

	return Result{
		Value:        value,
		MeanGain:     utils.Mean(gains),
		StdGain:      utils.StdDev(gains),
		Realizations: records,
	}, nil
}

// runRealization performs one noise draw: simulate, sample the posterior,
// marginalize, estimate entropy and build the reporting record.
func (o *Optimizer) runRealization(
	d *design.Designer,
	sim *instrument.Simulator,
	est entropy.Estimator,
	opts Options,
	valueIndex, realization int,
	value, prior float64,
	q, rCalc, dq []float64,
) (report.Realization, float64, error) {
	noisy, errs, err := sim.AddNoise(rCalc)
	if err != nil {
		return report.Realization{}, 0, err
	}

	cfg := opts.Sampler
	if cfg.Seed != 0 {
		// Derived seeds keep realizations independent yet reproducible
		cfg.Seed += int64(valueIndex)*1000 + int64(realization)
	}

	stop := o.collector.Time("sample")
	res, err := o.sampler.Sample(d.Model(), sampler.Dataset{Q: q, DQ: dq, R: noisy, Errors: errs}, cfg)
	stop()
	if err != nil {
		return report.Realization{}, 0, err
	}

	marginal := d.MarginalSamples(res.Draws)

	stop = o.collector.Time("entropy")
	posterior, err := est.EntropyBits(marginal)
	stop()
	if err != nil {
		return report.Realization{}, 0, err
	}

	fit, low, high := credibleBand(d.Model(), res)

	rec := report.Realization{
		QValues:           append([]float64(nil), q...),
		DQValues:          append([]float64(nil), dq...),
		Reflectivity:      append([]float64(nil), rCalc...),
		NoisyReflectivity: noisy,
		Errors:            errs,
		FitReflectivity:   fit,
		Z:                 append([]float64(nil), q...),
		ProfileBest:       fit,
		ProfileLow:        low,
		ProfileHigh:       high,
		PosteriorEntropy:  posterior,
	}
	return rec, prior - posterior, nil
}

// bandDraws caps how many posterior draws are pushed through the forward
// model for the credible band
const bandDraws = 50

// credibleBand refits the model at the highest-posterior point and builds a
// 90% credible band of the predicted curve over a subsample of posterior
// draws. The model is cloned; the caller's state is untouched.
func credibleBand(m model.ForwardModel, res *sampler.Result) (fit, low, high []float64) {
	work := m.Clone()
	for i, name := range res.Names {
		if err := work.Set(name, res.Best[i]); err != nil {
			return nil, nil, nil
		}
	}
	_, fit = work.Predict()

	rows, _ := res.Draws.Dims()
	if rows == 0 {
		return fit, nil, nil
	}
	stride := rows / bandDraws
	if stride < 1 {
		stride = 1
	}

	var curves [][]float64
	for i := 0; i < rows; i += stride {
		for j, name := range res.Names {
			if err := work.Set(name, res.Draws.At(i, j)); err != nil {
				return fit, nil, nil
			}
		}
		_, pred := work.Predict()
		curves = append(curves, pred)
	}

	low = make([]float64, len(fit))
	high = make([]float64, len(fit))
	point := make([]float64, len(curves))
	for p := range fit {
		for c := range curves {
			point[c] = curves[c][p]
		}
		low[p] = utils.Percentile(point, 5)
		high[p] = utils.Percentile(point, 95)
	}
	return fit, low, high
}

// IsConfigError reports whether an error came from parameter configuration
// rather than a numerical failure.
func IsConfigError(err error) bool {
	var cfgErr *design.ConfigError
	return errors.As(err, &cfgErr)
}
