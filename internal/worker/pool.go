package worker

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Job represents a unit of work to be executed
type Job[R any] func(ctx context.Context) R

// Pool runs jobs with bounded concurrency and returns their results in
// submission order
type Pool[R any] struct {
	group   *errgroup.Group
	ctx     context.Context
	mu      sync.Mutex
	results []R
}

// NewPool creates a new pool running at most workers jobs at once
func NewPool[R any](ctx context.Context, workers int) *Pool[R] {
	if workers <= 0 {
		workers = 1
	}
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	return &Pool[R]{group: group, ctx: gctx}
}

// Submit queues a job. It blocks while all workers are busy.
func (p *Pool[R]) Submit(job Job[R]) {
	p.mu.Lock()
	idx := len(p.results)
	var zero R
	p.results = append(p.results, zero)
	p.mu.Unlock()

	p.group.Go(func() error {
		r := job(p.ctx)
		p.mu.Lock()
		p.results[idx] = r
		p.mu.Unlock()
		return nil
	})
}

// Wait waits for all jobs to complete and returns the results
func (p *Pool[R]) Wait() []R {
	_ = p.group.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results
}
