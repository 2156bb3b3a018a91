// Package report defines the planner's result payload and its JSON
// persistence. The payload is consumed by external reporting tools, so a
// serialize/deserialize round trip must reproduce bit-identical
// floating-point values.
package report

import (
	"encoding/json"
	"fmt"
	"os"
)

// Realization is the full record of one noise draw: the synthetic dataset,
// the refit curve and the posterior credible-interval profile, plus the
// posterior entropy it produced. Immutable once produced.
type Realization struct {
	QValues           []float64 `json:"q_values"`
	DQValues          []float64 `json:"dq_values"`
	Reflectivity      []float64 `json:"reflectivity"`
	NoisyReflectivity []float64 `json:"noisy_reflectivity"`
	Errors            []float64 `json:"errors"`
	FitReflectivity   []float64 `json:"fit_reflectivity,omitempty"`

	// Credible-interval profile of the predicted curve (90% band)
	Z           []float64 `json:"z"`
	ProfileBest []float64 `json:"profile_best"`
	ProfileLow  []float64 `json:"profile_low"`
	ProfileHigh []float64 `json:"profile_high"`

	PosteriorEntropy float64 `json:"posterior_entropy"`
}

// ValueResult is the aggregate outcome for one candidate design value.
type ValueResult struct {
	Value    float64 `json:"value"`
	MeanGain float64 `json:"mean_information_gain"`
	StdGain  float64 `json:"std_information_gain"`
}

// Settings records the sweep configuration alongside the results.
type Settings struct {
	Realizations  int    `json:"num_realizations"`
	Steps         int    `json:"mcmc_steps"`
	Burn          int    `json:"burn_steps"`
	EntropyMethod string `json:"entropy_method"`
	Parallel      bool   `json:"parallel"`
}

// Document is the top-level result payload for one optimization sweep.
// Results and SimulatedData are ordered identically to ParameterValues.
type Document struct {
	Parameter       string          `json:"parameter"`
	ParameterValues []float64       `json:"parameter_values"`
	Results         []ValueResult   `json:"results"`
	SimulatedData   [][]Realization `json:"simulated_data"`
	OptimalValue    float64         `json:"optimal_value"`
	MaxGain         float64         `json:"max_information_gain"`
	MaxGainStd      float64         `json:"max_information_gain_std"`
	PriorEntropy    float64         `json:"prior_entropy"`
	Settings        Settings        `json:"settings"`
}

// Best returns the index of the result with the largest mean information
// gain, or -1 for an empty list.
func Best(results []ValueResult) int {
	best := -1
	for i, r := range results {
		if best < 0 || r.MeanGain > results[best].MeanGain {
			best = i
		}
	}
	return best
}

// Finalize fills the optimal-value summary fields from the result list.
func (d *Document) Finalize() {
	if i := Best(d.Results); i >= 0 {
		d.OptimalValue = d.Results[i].Value
		d.MaxGain = d.Results[i].MeanGain
		d.MaxGainStd = d.Results[i].StdGain
	}
}

// Write serializes the document to path as indented JSON.
func Write(path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write results file %s: %w", path, err)
	}
	return nil
}

// Read deserializes a document previously written with Write.
func Read(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results file %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse results file %s: %w", path, err)
	}
	return &doc, nil
}
