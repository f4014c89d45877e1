package main

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// pool runs at most n jobs at once. Go blocks while the pool is full.
type pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func newPool(n int) *pool {
	return &pool{sem: semaphore.NewWeighted(int64(max(1, n)))}
}

// Go runs fn with a context bounded by timeout. It returns without running fn
// when ctx is done before a slot frees up.
func (p *pool) Go(ctx context.Context, timeout time.Duration, fn func(context.Context)) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return
	}

	p.wg.Add(1)
	go func() {
		defer func() {
			p.sem.Release(1)
			p.wg.Done()
		}()

		jobCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		fn(jobCtx)
	}()
}

func (p *pool) Wait() {
	p.wg.Wait()
}
