package optimize

import (
	"fmt"
	"sync"
)

// RunParallel evaluates the candidate values on a bounded worker pool, one
// independent task per value. Each task clones the designer and the noise
// simulator, so no mutable state is shared between workers, and performs its
// realizations sequentially. Results are written into an index-addressed
// slice, so the returned list is ordered by the input values regardless of
// completion order.
func (o *Optimizer) RunParallel(opts Options) ([]Result, error) {
	opts = opts.withDefaults()

	est, prior, err := o.prepare(opts)
	if err != nil {
		return nil, err
	}

	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = len(opts.Values)
	}

	// Limit parallelism
	semaphore := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup
	results := make([]Result, len(opts.Values))
	errs := make([]error, len(opts.Values))
	var mu sync.Mutex
	completed := 0

	for i, value := range opts.Values {
		wg.Add(1)
		go func(idx int, v float64) {
			defer wg.Done()

			// Acquire semaphore
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			// Private copies: nothing mutable crosses worker boundaries
			worker := o.designer.Clone()
			sim := o.simulator.Clone(workerSeed(opts.Sampler.Seed, idx))

			res, err := o.evaluateValue(worker, sim, est, opts, idx, v, prior)

			// Progress is invoked under the lock, so callers never see it
			// run concurrently with itself and completed counts have no gaps
			mu.Lock()
			if err != nil {
				errs[idx] = err
			} else {
				results[idx] = res
				completed++
				if opts.Progress != nil {
					opts.Progress(completed, len(opts.Values), res.Value, res.MeanGain)
				}
			}
			mu.Unlock()
		}(i, value)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			// Return first error, but still return partial results
			return results, fmt.Errorf("some candidate values failed to evaluate: %w", err)
		}
	}

	o.finish(results, prior)
	return results, nil
}

// workerSeed derives a per-worker noise seed from the master seed. A zero
// master seed stays zero, selecting time-based seeding in every worker.
func workerSeed(master int64, index int) int64 {
	if master == 0 {
		return 0
	}
	return master + int64(index+1)*7919
}
