package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/mdoucet/refl-planner/internal/design"
	"github.com/mdoucet/refl-planner/internal/entropy"
	"github.com/mdoucet/refl-planner/internal/instrument"
	"github.com/mdoucet/refl-planner/internal/model"
	"github.com/mdoucet/refl-planner/internal/optimize"
	"github.com/mdoucet/refl-planner/internal/report"
	"github.com/mdoucet/refl-planner/internal/sampler"
	"github.com/mdoucet/refl-planner/pkg/config"
	"github.com/mdoucet/refl-planner/pkg/logger"
)

func main() {
	var configPath string
	var outputPath string
	var logLevel string
	var parallelFlag string

	flag.StringVar(&configPath, "config", "", "path to the YAML run configuration (required)")
	flag.StringVar(&outputPath, "output", "", "override the configured results path")
	flag.StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	flag.StringVar(&parallelFlag, "parallel", "", "override parallel execution (true or false)")
	flag.Parse()

	if configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: planner -config <file> [-output <file>] [-log-level <level>]")
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if outputPath != "" {
		cfg.Output.Path = outputPath
	}
	if parallelFlag != "" {
		v, err := strconv.ParseBool(parallelFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -parallel value: %s\n", parallelFlag)
			os.Exit(2)
		}
		cfg.Sweep.Parallel = &v
	}

	logger.SetDefault(logger.NewText(cfg.LogLevel, os.Stdout))

	if err := run(cfg); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	m, q, err := buildModel(&cfg.Model)
	if err != nil {
		return err
	}

	sim, err := buildSimulator(q, &cfg.Noise)
	if err != nil {
		return err
	}

	method, err := entropy.ParseMethod(cfg.Sweep.EntropyMethod)
	if err != nil {
		return err
	}
	policy, err := optimize.ParseFailurePolicy(cfg.Sweep.OnFailure)
	if err != nil {
		return err
	}

	d := design.New(m, cfg.Sweep.ParametersOfInterest)
	logger.Info("experiment design", "model", m.Name(), "parameters", d.String())

	opt := optimize.New(d, sim, sampler.NewMetropolis())

	opts := optimize.Options{
		Parameter:    cfg.Sweep.Parameter,
		Values:       cfg.Sweep.Values,
		Realizations: cfg.Sweep.Realizations,
		Method:       method,
		Sampler: sampler.Config{
			Steps: cfg.Sampler.Steps,
			Burn:  cfg.Sampler.Burn,
			Seed:  cfg.Sampler.Seed,
		},
		OnFailure:  policy,
		MaxWorkers: cfg.Sweep.MaxWorkers,
		Progress: func(completed, total int, value, meanGain float64) {
			fmt.Printf("[%d/%d] %s=%g  mean gain %.3f bits\n",
				completed, total, cfg.Sweep.Parameter, value, meanGain)
		},
	}

	parallel := cfg.Sweep.IsParallel()
	var results []optimize.Result
	if parallel {
		results, err = opt.RunParallel(opts)
	} else {
		results, err = opt.Run(opts)
	}
	if err != nil {
		return err
	}

	doc := optimize.BuildDocument(opts, opt.PriorEntropy(), parallel, results)
	printSummary(cfg.Sweep.Parameter, doc)

	if err := report.Write(cfg.Output.Path, doc); err != nil {
		return err
	}
	logger.Info("results written", "path", cfg.Output.Path)
	return nil
}

func buildModel(mc *config.Model) (model.ForwardModel, []float64, error) {
	q := model.Grid(mc.QMin, mc.QMax, mc.QPoints)

	var m model.ForwardModel
	switch mc.Kind {
	case "linear":
		m = model.NewLinear(q)
	case "damped":
		m = model.NewDampedCurve(q)
	default:
		return nil, nil, fmt.Errorf("unknown model kind: %s", mc.Kind)
	}

	for _, p := range mc.Parameters {
		if !p.Fixed {
			if err := m.SetBounds(p.Name, p.Min, p.Max); err != nil {
				return nil, nil, err
			}
		}
		if err := m.Set(p.Name, p.Value); err != nil {
			return nil, nil, err
		}
	}
	return m, q, nil
}

func buildSimulator(q []float64, nc *config.Noise) (*instrument.Simulator, error) {
	opts := instrument.Options{
		CountingTime:     nc.CountingTime,
		RelativeError:    nc.RelativeError,
		MinRelativeError: nc.MinRelativeError,
		Seed:             nc.Seed,
	}
	if nc.DataFile != "" {
		return instrument.NewSimulatorFromFile(nc.DataFile, opts)
	}
	return instrument.NewSimulator(q, opts), nil
}

func printSummary(parameter string, doc *report.Document) {
	fmt.Printf("\n%-14s %14s %14s\n", parameter, "mean gain", "std")
	for _, r := range doc.Results {
		marker := "  "
		if r.Value == doc.OptimalValue {
			marker = " *"
		}
		fmt.Printf("%-14g %14.4f %14.4f%s\n", r.Value, r.MeanGain, r.StdGain, marker)
	}
	fmt.Printf("\nprior entropy: %.4f bits\n", doc.PriorEntropy)
	fmt.Printf("optimal %s: %g (gain %.4f +- %.4f bits)\n",
		parameter, doc.OptimalValue, doc.MaxGain, doc.MaxGainStd)
}
