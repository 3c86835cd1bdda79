// Package async provides bounded fan-out/fan-in helpers.
package async

import (
	"context"

	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/stockwatch/errs"
)

// Task converts one input into one result. It must not return until its work is done.
type Task[In, Out any] func(ctx context.Context, in In) Out

// FanOut runs task for every input with at most workers concurrent goroutines and
// streams the results on the returned channel. The channel is closed once every task
// has finished, which makes draining it a barrier for the whole phase.
//
// Results arrive in completion order. Tasks always run to completion; ctx is handed
// to each task unchanged so callers decide whether cancellation should interrupt work.
func FanOut[In, Out any](ctx context.Context, workers int, inputs []In, task Task[In, Out]) (<-chan Out, error) {
	if workers <= 0 {
		return nil, errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("workers must be >0"))
	}
	if task == nil {
		return nil, errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	results := make(chan Out, len(inputs))
	p := pool.New().WithMaxGoroutines(workers)
	go func() {
		defer close(results)
		for _, in := range inputs {
			p.Go(func() {
				results <- task(ctx, in)
			})
		}
		p.Wait()
	}()
	return results, nil
}

// Collect drains FanOut results into a slice.
func Collect[In, Out any](ctx context.Context, workers int, inputs []In, task Task[In, Out]) ([]Out, error) {
	ch, err := FanOut(ctx, workers, inputs, task)
	if err != nil {
		return nil, err
	}
	out := make([]Out, 0, len(inputs))
	for r := range ch {
		out = append(out, r)
	}
	return out, nil
}
