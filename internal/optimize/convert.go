package optimize

import (
	"github.com/mdoucet/refl-planner/internal/report"
)

// BuildDocument assembles the persisted result payload from a finished
// sweep. Result order is preserved, so the document's lists line up with
// the candidate values.
func BuildDocument(opts Options, prior float64, parallel bool, results []Result) *report.Document {
	valueResults := make([]report.ValueResult, len(results))
	simulated := make([][]report.Realization, len(results))
	for i, r := range results {
		valueResults[i] = report.ValueResult{
			Value:    r.Value,
			MeanGain: r.MeanGain,
			StdGain:  r.StdGain,
		}
		simulated[i] = r.Realizations
	}

	doc := &report.Document{
		Parameter:       opts.Parameter,
		ParameterValues: append([]float64(nil), opts.Values...),
		Results:         valueResults,
		SimulatedData:   simulated,
		PriorEntropy:    prior,
		Settings: report.Settings{
			Realizations:  opts.Realizations,
			Steps:         opts.Sampler.Steps,
			Burn:          opts.Sampler.Burn,
			EntropyMethod: string(opts.Method),
			Parallel:      parallel,
		},
	}
	doc.Finalize()
	return doc
}
