package entropy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/mdoucet/refl-planner/pkg/logger"
)

// KDNEstimator estimates entropy by resubstitution on a Gaussian kernel
// density fit: fit a KDE with Scott's bandwidth, evaluate the log-density at
// every sample, and return the negative mean in bits. Numerical failures
// fall back to the regularized MVN estimate.
type KDNEstimator struct{}

func (e *KDNEstimator) EntropyBits(samples mat.Matrix) (float64, error) {
	if err := checkSamples(samples); err != nil {
		return 0, &EstimationError{Method: KDN, Err: err}
	}

	bits, err := kdeEntropyBits(samples)
	if err == nil {
		return bits, nil
	}

	logger.Warn("KDE failed, falling back to MVN entropy", "error", err)
	bits, err = regularizedMVNBits(samples)
	if err != nil {
		return 0, &EstimationError{Method: KDN, Err: err}
	}
	return bits, nil
}

func kdeEntropyBits(samples mat.Matrix) (float64, error) {
	n, d := samples.Dims()

	// Scott's rule: kernel covariance is the sample covariance scaled by
	// n^(-2/(d+4))
	factor := math.Pow(float64(n), -1.0/float64(d+4))
	var kcov mat.SymDense
	kcov.ScaleSym(factor*factor, covarianceOf(samples))

	var chol mat.Cholesky
	if ok := chol.Factorize(&kcov); !ok {
		return 0, fmt.Errorf("kernel covariance is not positive definite")
	}

	logNorm := 0.5*float64(d)*math.Log(2*math.Pi) + 0.5*chol.LogDet() + math.Log(float64(n))

	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, samples)
	}

	diff := mat.NewVecDense(d, nil)
	sol := mat.NewVecDense(d, nil)
	logK := make([]float64, n)

	total := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for c := 0; c < d; c++ {
				diff.SetVec(c, rows[i][c]-rows[j][c])
			}
			if err := chol.SolveVecTo(sol, diff); err != nil {
				return 0, fmt.Errorf("kernel solve failed: %w", err)
			}
			logK[j] = -0.5 * mat.Dot(diff, sol)
		}
		logp := logSumExp(logK) - logNorm
		if math.IsNaN(logp) || math.IsInf(logp, 0) {
			return 0, fmt.Errorf("non-finite log-density at sample %d", i)
		}
		total += logp
	}

	nats := -total / float64(n)
	return nats / math.Ln2, nil
}

// logSumExp computes log(sum(exp(x))) without overflow.
func logSumExp(x []float64) float64 {
	max := math.Inf(-1)
	for _, v := range x {
		if v > max {
			max = v
		}
	}
	if math.IsInf(max, -1) {
		return max
	}
	sum := 0.0
	for _, v := range x {
		sum += math.Exp(v - max)
	}
	return max + math.Log(sum)
}
