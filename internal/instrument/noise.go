package instrument

import (
	"math"

	"github.com/mdoucet/refl-planner/pkg/utils"
)

// AddCountingNoise is a standalone counting-statistics noise model. Relative
// errors follow sqrt counting statistics, degraded at high momentum transfer
// where the signal is weakest:
//
//	rel = max(minRel, baseRel/sqrt(max(R*countingTime, 1e-10))) * (1 + 0.5*(Q/Qmax)^2)
//
// Gaussian noise with that standard deviation is then added, and the
// result is clamped to a small positive floor wherever noise was applied.
func AddCountingNoise(q, r []float64, countingTime, minRel, baseRel float64, rng *utils.RandSource) ([]float64, []float64) {
	qMax := 0.0
	for _, v := range q {
		if v > qMax {
			qMax = v
		}
	}

	noisy := make([]float64, len(r))
	errs := make([]float64, len(r))

	for i := range r {
		rel := baseRel / math.Sqrt(math.Max(r[i]*countingTime, 1e-10))
		if rel < minRel {
			rel = minRel
		}
		if qMax > 0 {
			rel *= 1 + 0.5*math.Pow(q[i]/qMax, 2)
		}

		errs[i] = rel * r[i]
		noisy[i] = r[i] + rng.NormFloat64(0, errs[i])
		if errs[i] > 0 {
			noisy[i] = utils.MaxFloat64(noisy[i], positivityFloor)
		}
	}
	return noisy, errs
}
