package entropy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/mdoucet/refl-planner/pkg/logger"
)

// regularizer is added to the covariance diagonal when it is singular
const regularizer = 1e-10

// MVNEstimator computes the closed-form differential entropy of a
// multivariate normal fitted to the samples:
//
//	H = 0.5 * k * (1 + ln 2π) + 0.5 * ln det Σ  (nats)
//
// converted to bits. A singular covariance is regularized with a small
// diagonal term before giving up.
type MVNEstimator struct{}

func (e *MVNEstimator) EntropyBits(samples mat.Matrix) (float64, error) {
	if err := checkSamples(samples); err != nil {
		return 0, &EstimationError{Method: MVN, Err: err}
	}

	cov := covarianceOf(samples)
	bits, err := gaussianEntropyBits(cov)
	if err == nil {
		return bits, nil
	}

	logger.Warn("singular covariance matrix, using regularized version")
	bits, err = gaussianEntropyBits(regularize(cov))
	if err != nil {
		return 0, &EstimationError{Method: MVN, Err: err}
	}
	return bits, nil
}

func covarianceOf(samples mat.Matrix) *mat.SymDense {
	_, k := samples.Dims()
	cov := mat.NewSymDense(k, nil)
	stat.CovarianceMatrix(cov, samples, nil)
	return cov
}

func regularize(cov *mat.SymDense) *mat.SymDense {
	k := cov.SymmetricDim()
	out := mat.NewSymDense(k, nil)
	out.CopySym(cov)
	for i := 0; i < k; i++ {
		out.SetSym(i, i, out.At(i, i)+regularizer)
	}
	return out
}

// gaussianEntropyBits returns the differential entropy of a multivariate
// normal with the given covariance, in bits.
func gaussianEntropyBits(cov *mat.SymDense) (float64, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return 0, fmt.Errorf("covariance matrix is not positive definite")
	}

	k := float64(cov.SymmetricDim())
	nats := 0.5*k*(1+math.Log(2*math.Pi)) + 0.5*chol.LogDet()
	return nats / math.Ln2, nil
}

// regularizedMVNBits is the shared fallback: the MVN estimate with the
// diagonal regularizer always applied.
func regularizedMVNBits(samples mat.Matrix) (float64, error) {
	return gaussianEntropyBits(regularize(covarianceOf(samples)))
}
