// Package entropy estimates the differential entropy of posterior sample
// matrices, in bits.
package entropy

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Method selects an entropy estimation algorithm.
type Method string

const (
	// MVN approximates the posterior with a multivariate normal and uses
	// its closed-form entropy
	MVN Method = "mvn"
	// KDN fits a Gaussian kernel density estimate and uses the
	// resubstitution estimate
	KDN Method = "kdn"
)

// ParseMethod converts a configuration string into a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "mvn":
		return MVN, nil
	case "kdn":
		return KDN, nil
	default:
		return "", fmt.Errorf("invalid entropy method: %s (must be mvn or kdn)", s)
	}
}

// Estimator turns a sample matrix (rows are draws, columns are parameters)
// into a differential-entropy estimate in bits.
type Estimator interface {
	EntropyBits(samples mat.Matrix) (float64, error)
}

// ForMethod returns the estimator for a method tag.
func ForMethod(m Method) (Estimator, error) {
	switch m {
	case MVN:
		return &MVNEstimator{}, nil
	case KDN:
		return &KDNEstimator{}, nil
	default:
		return nil, fmt.Errorf("invalid entropy method: %s (must be mvn or kdn)", m)
	}
}

// EstimationError reports that the selected method and its fallback both
// failed. The enclosing realization loop treats it like a sampling failure,
// not a fatal error.
type EstimationError struct {
	Method Method
	Err    error
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("entropy estimation (%s) failed: %v", e.Method, e.Err)
}

func (e *EstimationError) Unwrap() error {
	return e.Err
}

func checkSamples(samples mat.Matrix) error {
	r, c := samples.Dims()
	if r < 2 {
		return fmt.Errorf("need at least 2 samples, got %d", r)
	}
	if c < 1 {
		return fmt.Errorf("need at least 1 parameter column, got %d", c)
	}
	return nil
}
