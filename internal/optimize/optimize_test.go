package optimize

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/mdoucet/refl-planner/internal/design"
	"github.com/mdoucet/refl-planner/internal/entropy"
	"github.com/mdoucet/refl-planner/internal/instrument"
	"github.com/mdoucet/refl-planner/internal/model"
	"github.com/mdoucet/refl-planner/internal/sampler"
	"github.com/mdoucet/refl-planner/pkg/utils"
)

// gaussianStub is a deterministic stand-in for the posterior sampler: it
// returns Gaussian draws centered on the model's current fit-parameter
// values, with a width proportional to the dataset's noise level. An
// optional per-call delay simulates a slow sampler.
type gaussianStub struct {
	delay func() time.Duration
}

func (s *gaussianStub) Sample(m model.ForwardModel, data sampler.Dataset, cfg sampler.Config) (*sampler.Result, error) {
	if s.delay != nil {
		time.Sleep(s.delay())
	}

	params := model.FitParams(m)
	names := make([]string, len(params))
	center := make([]float64, len(params))
	for i, p := range params {
		names[i] = p.Name
		center[i] = p.Value
	}

	// Posterior width tracks the noise level of the dataset
	sigma := utils.Mean(data.Errors)
	if sigma <= 0 {
		sigma = 1e-6
	}

	rng := utils.NewRandSource(cfg.Seed)
	draws := mat.NewDense(cfg.Steps, len(params), nil)
	for i := 0; i < cfg.Steps; i++ {
		for j := range params {
			draws.Set(i, j, rng.NormFloat64(center[j], sigma))
		}
	}

	return &sampler.Result{
		Draws:    draws,
		Names:    names,
		Best:     center,
		Accepted: cfg.Steps,
	}, nil
}

// failingSampler fails on calls selected by shouldFail.
type failingSampler struct {
	inner      sampler.Sampler
	calls      int
	shouldFail func(call int) bool
}

func (s *failingSampler) Sample(m model.ForwardModel, data sampler.Dataset, cfg sampler.Config) (*sampler.Result, error) {
	s.calls++
	if s.shouldFail(s.calls) {
		return nil, fmt.Errorf("sampler exploded on call %d", s.calls)
	}
	return s.inner.Sample(m, data, cfg)
}

func newLinearOptimizer(countingTime float64, s sampler.Sampler) (*Optimizer, []float64) {
	q := model.Grid(0, 1, 21)
	m := model.NewLinear(q)
	d := design.New(m, nil)
	sim := instrument.NewSimulator(q, instrument.Options{
		CountingTime: countingTime,
		Seed:         101,
	})
	return New(d, sim, s), q
}

func baseOptions(values []float64) Options {
	return Options{
		Parameter:    "slope",
		Values:       values,
		Realizations: 2,
		Method:       entropy.MVN,
		Sampler:      sampler.Config{Steps: 400, Burn: 0, Seed: 11},
	}
}

func TestRunSequential(t *testing.T) {
	opt, q := newLinearOptimizer(1.0, &gaussianStub{})
	values := []float64{0.5, 1.5, 2.5}

	results, err := opt.Run(baseOptions(values))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != len(values) {
		t.Fatalf("expected %d results, got %d", len(values), len(results))
	}

	for i, res := range results {
		if res.Value != values[i] {
			t.Errorf("results[%d].Value = %g, expected %g", i, res.Value, values[i])
		}
		if len(res.Realizations) != 2 {
			t.Errorf("results[%d]: expected 2 realization records, got %d", i, len(res.Realizations))
		}
		if math.IsNaN(res.MeanGain) || math.IsInf(res.MeanGain, 0) {
			t.Errorf("results[%d].MeanGain = %f, expected a finite value", i, res.MeanGain)
		}
		for _, rec := range res.Realizations {
			if len(rec.QValues) != len(q) || len(rec.NoisyReflectivity) != len(q) || len(rec.Errors) != len(q) {
				t.Errorf("results[%d]: realization arrays have wrong lengths", i)
			}
			if len(rec.FitReflectivity) != len(q) || len(rec.ProfileLow) != len(q) || len(rec.ProfileHigh) != len(q) {
				t.Errorf("results[%d]: profile arrays have wrong lengths", i)
			}
		}
	}
}

func TestRunParallelPreservesInputOrder(t *testing.T) {
	var mu sync.Mutex
	rng := utils.NewRandSource(55)
	// Random per-task delay forces out-of-order completion
	stub := &gaussianStub{delay: func() time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return time.Duration(rng.Intn(30)) * time.Millisecond
	}}
	opt, q := newLinearOptimizer(1.0, stub)

	values := []float64{2.5, 0.5, 1.5, 2.0, 1.0}
	opts := baseOptions(values)
	opts.Realizations = 1
	opts.MaxWorkers = len(values)

	results, err := opt.RunParallel(opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != len(values) {
		t.Fatalf("expected %d results, got %d", len(values), len(results))
	}

	for i, res := range results {
		if res.Value != values[i] {
			t.Errorf("results[%d].Value = %g, expected %g (completion order leaked)", i, res.Value, values[i])
		}
		// The realization payload must belong to the same value: the refit
		// curve of the linear model passes through slope*q
		if len(res.Realizations) != 1 {
			t.Fatalf("results[%d]: expected 1 realization record, got %d", i, len(res.Realizations))
		}
		fit := res.Realizations[0].FitReflectivity
		if math.Abs(fit[len(q)-1]-values[i]*q[len(q)-1]) > 1e-9 {
			t.Errorf("results[%d]: realization payload belongs to a different value: fit=%g expected=%g",
				i, fit[len(q)-1], values[i]*q[len(q)-1])
		}
	}
}

// valueFailingSampler fails whenever the model's first fit parameter sits
// at the poisoned value. It carries no state, so it is safe to share
// between workers.
type valueFailingSampler struct {
	inner  sampler.Sampler
	poison float64
}

func (s *valueFailingSampler) Sample(m model.ForwardModel, data sampler.Dataset, cfg sampler.Config) (*sampler.Result, error) {
	if model.FitParams(m)[0].Value == s.poison {
		return nil, fmt.Errorf("sampler rejected value %g", s.poison)
	}
	return s.inner.Sample(m, data, cfg)
}

func TestRunParallelProgressIsSerializedAndDense(t *testing.T) {
	var mu sync.Mutex
	rng := utils.NewRandSource(91)
	stub := &gaussianStub{delay: func() time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return time.Duration(rng.Intn(20)) * time.Millisecond
	}}
	opt, _ := newLinearOptimizer(1.0, stub)

	values := []float64{0.5, 1.0, 1.5, 2.0, 2.5}
	opts := baseOptions(values)
	opts.Realizations = 1
	opts.MaxWorkers = len(values)

	// Deliberately unsynchronized: the callback contract is that the
	// optimizer serializes invocations
	var done []int
	opts.Progress = func(completed, total int, value, meanGain float64) {
		done = append(done, completed)
	}

	if _, err := opt.RunParallel(opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(done) != len(values) {
		t.Fatalf("expected %d progress calls, got %d", len(values), len(done))
	}
	for i, d := range done {
		if d != i+1 {
			t.Fatalf("progress counts must be dense and increasing, got %v", done)
		}
	}
}

func TestRunParallelProgressSkipsFailedTasksWithoutGaps(t *testing.T) {
	failing := &valueFailingSampler{inner: &gaussianStub{}, poison: 1.5}
	opt, _ := newLinearOptimizer(1.0, failing)

	values := []float64{0.5, 1.0, 1.5, 2.0}
	opts := baseOptions(values)
	opts.Realizations = 1
	opts.MaxWorkers = 2
	opts.OnFailure = FailAbort

	var done []int
	opts.Progress = func(completed, total int, value, meanGain float64) {
		done = append(done, completed)
	}

	if _, err := opt.RunParallel(opts); err == nil {
		t.Fatal("expected the poisoned value to fail the sweep")
	}
	if len(done) != len(values)-1 {
		t.Fatalf("expected %d progress calls for the successful tasks, got %d", len(values)-1, len(done))
	}
	for i, d := range done {
		if d != i+1 {
			t.Fatalf("failed tasks must not leave gaps in progress counts, got %v", done)
		}
	}
}

func TestRunParallelBoundedWorkers(t *testing.T) {
	opt, _ := newLinearOptimizer(1.0, &gaussianStub{})

	opts := baseOptions([]float64{0.5, 1.0, 1.5, 2.0})
	opts.MaxWorkers = 2

	results, err := opt.RunParallel(opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
}

func TestRunProgressReporting(t *testing.T) {
	opt, _ := newLinearOptimizer(1.0, &gaussianStub{})

	var completed []int
	opts := baseOptions([]float64{0.5, 1.5})
	opts.Progress = func(done, total int, value, meanGain float64) {
		if total != 2 {
			t.Errorf("progress total = %d, expected 2", total)
		}
		completed = append(completed, done)
	}

	if _, err := opt.Run(opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(completed) != 2 || completed[0] != 1 || completed[1] != 2 {
		t.Errorf("progress calls = %v, expected [1 2]", completed)
	}
}

func TestFailurePolicyDegrade(t *testing.T) {
	failing := &failingSampler{
		inner:      &gaussianStub{},
		shouldFail: func(int) bool { return true },
	}
	opt, _ := newLinearOptimizer(1.0, failing)

	opts := baseOptions([]float64{0.5, 1.5})
	opts.OnFailure = FailDegrade

	results, err := opt.Run(opts)
	if err != nil {
		t.Fatalf("degrade policy must not abort the sweep: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for i, res := range results {
		if res.MeanGain != 0 || res.StdGain != 0 {
			t.Errorf("results[%d]: failed realizations must aggregate to zero gain, got %f +- %f",
				i, res.MeanGain, res.StdGain)
		}
		if len(res.Realizations) != 0 {
			t.Errorf("results[%d]: failed realizations must not produce payload records", i)
		}
	}
}

func TestFailurePolicyDegradeBiasesTowardZero(t *testing.T) {
	// Every other sampling call fails: each value aggregates one real
	// gain and one zero
	failing := &failingSampler{
		inner:      &gaussianStub{},
		shouldFail: func(call int) bool { return call%2 == 1 },
	}
	opt, _ := newLinearOptimizer(1.0, failing)

	opts := baseOptions([]float64{1.5})
	results, err := opt.Run(opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res := results[0]
	if len(res.Realizations) != 1 {
		t.Fatalf("expected 1 surviving realization record, got %d", len(res.Realizations))
	}
	if res.MeanGain <= 0 {
		t.Fatalf("expected a positive (biased) mean gain, got %f", res.MeanGain)
	}
	// With gains {0, g} the mean is g/2 and the std is g/2
	if math.Abs(res.MeanGain-res.StdGain) > 1e-9 {
		t.Errorf("expected mean == std for gains {0, g}: mean=%f std=%f", res.MeanGain, res.StdGain)
	}
}

func TestFailurePolicyAbort(t *testing.T) {
	failing := &failingSampler{
		inner:      &gaussianStub{},
		shouldFail: func(int) bool { return true },
	}
	opt, _ := newLinearOptimizer(1.0, failing)

	opts := baseOptions([]float64{0.5, 1.5})
	opts.OnFailure = FailAbort

	if _, err := opt.Run(opts); err == nil {
		t.Fatal("abort policy must surface the realization failure")
	}
}

func TestUnknownDesignParameter(t *testing.T) {
	opt, _ := newLinearOptimizer(1.0, &gaussianStub{})

	opts := baseOptions([]float64{0.5})
	opts.Parameter = "curvature"

	_, err := opt.Run(opts)
	if err == nil {
		t.Fatal("expected error for unknown design parameter")
	}
	if !IsConfigError(err) {
		t.Errorf("expected a configuration error, got: %v", err)
	}
}

func TestInvalidOptions(t *testing.T) {
	opt, _ := newLinearOptimizer(1.0, &gaussianStub{})

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"no parameter", func(o *Options) { o.Parameter = "" }},
		{"no values", func(o *Options) { o.Values = nil }},
		{"bad method", func(o *Options) { o.Method = entropy.Method("bogus") }},
		{"bad policy", func(o *Options) { o.OnFailure = FailurePolicy("ignore") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := baseOptions([]float64{0.5})
			tt.mutate(&opts)
			if _, err := opt.Run(opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseFailurePolicy(t *testing.T) {
	if p, err := ParseFailurePolicy("degrade"); err != nil || p != FailDegrade {
		t.Errorf("ParseFailurePolicy(degrade) = %v, %v", p, err)
	}
	if p, err := ParseFailurePolicy("ABORT"); err != nil || p != FailAbort {
		t.Errorf("ParseFailurePolicy(ABORT) = %v, %v", p, err)
	}
	if _, err := ParseFailurePolicy("retry"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestMetricsRecorded(t *testing.T) {
	opt, _ := newLinearOptimizer(1.0, &gaussianStub{})

	if _, err := opt.Run(baseOptions([]float64{0.5})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stages := make(map[string]bool)
	for _, s := range opt.Collector().Summaries() {
		stages[s.Stage] = true
	}
	for _, stage := range []string{"predict", "sample", "entropy"} {
		if !stages[stage] {
			t.Errorf("expected stage %q to be timed", stage)
		}
	}
}

func TestBuildDocument(t *testing.T) {
	opt, _ := newLinearOptimizer(1.0, &gaussianStub{})

	opts := baseOptions([]float64{0.5, 1.5})
	results, err := opt.Run(opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	doc := BuildDocument(opts, 2.0, false, results)
	if doc.Parameter != "slope" {
		t.Errorf("doc.Parameter = %s, expected slope", doc.Parameter)
	}
	if len(doc.Results) != 2 || len(doc.SimulatedData) != 2 {
		t.Fatalf("document lists have wrong lengths: %d, %d", len(doc.Results), len(doc.SimulatedData))
	}
	for i := range doc.Results {
		if doc.Results[i].Value != opts.Values[i] {
			t.Errorf("doc.Results[%d].Value = %g, expected %g", i, doc.Results[i].Value, opts.Values[i])
		}
	}
	best := doc.Results[0]
	if doc.Results[1].MeanGain > best.MeanGain {
		best = doc.Results[1]
	}
	if doc.OptimalValue != best.Value || doc.MaxGain != best.MeanGain {
		t.Errorf("document summary does not match the best result")
	}
	if doc.Settings.EntropyMethod != "mvn" {
		t.Errorf("doc.Settings.EntropyMethod = %s, expected mvn", doc.Settings.EntropyMethod)
	}
}

// More counting time means less noise, a tighter posterior and therefore a
// larger expected information gain. The linear model has one parameter of
// interest with bound width 4, so the prior entropy is exactly 2 bits.
func TestInformationGainGrowsWithCountingTime(t *testing.T) {
	countingTimes := []float64{0.1, 1, 10, 100}

	var gains []float64
	for _, ct := range countingTimes {
		opt, _ := newLinearOptimizer(ct, &gaussianStub{})

		opts := baseOptions([]float64{2.0})
		opts.Realizations = 3

		results, err := opt.Run(opts)
		if err != nil {
			t.Fatalf("counting time %g: unexpected error: %v", ct, err)
		}
		gains = append(gains, results[0].MeanGain)
	}

	for i := 1; i < len(gains); i++ {
		if gains[i] <= gains[i-1] {
			t.Errorf("gain did not grow with counting time: %v (counting times %v)", gains, countingTimes)
		}
	}
}

func TestPriorEntropyMatchesBoundWidth(t *testing.T) {
	opt, _ := newLinearOptimizer(1.0, &gaussianStub{})

	if opt.PriorEntropy() != 0 {
		t.Errorf("prior entropy must be zero before the first run, got %f", opt.PriorEntropy())
	}

	if _, err := opt.Run(baseOptions([]float64{0.5})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(opt.PriorEntropy()-2.0) > 1e-12 {
		t.Errorf("prior entropy = %f bits, expected 2.0 for a bound width of 4", opt.PriorEntropy())
	}
}

func TestEndToEndWithMetropolis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full sampling run in short mode")
	}

	opt, _ := newLinearOptimizer(10.0, sampler.NewMetropolis())

	opts := Options{
		Parameter:    "slope",
		Values:       []float64{2.0},
		Realizations: 2,
		Method:       entropy.MVN,
		Sampler:      sampler.Config{Steps: 800, Burn: 400, Seed: 17},
	}

	results, err := opt.Run(opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res := results[0]
	if res.MeanGain <= 0 {
		t.Errorf("expected a positive information gain, got %f", res.MeanGain)
	}
	for _, rec := range res.Realizations {
		if rec.PosteriorEntropy >= 2.0 {
			t.Errorf("posterior entropy %f bits should be below the 2-bit prior", rec.PosteriorEntropy)
		}
	}
}

func TestConfigErrorIdentification(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &design.ConfigError{Param: "x", Reason: "missing"})
	if !IsConfigError(err) {
		t.Error("expected wrapped ConfigError to be recognized")
	}
	if IsConfigError(errors.New("plain")) {
		t.Error("plain errors are not configuration errors")
	}
}
