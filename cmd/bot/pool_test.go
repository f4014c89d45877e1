package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := newPool(2)

	var running, peak atomic.Int32
	for range 6 {
		p.Go(context.Background(), time.Second, func(context.Context) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		})
	}
	p.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(0), running.Load())
}

func TestPoolAppliesTimeout(t *testing.T) {
	p := newPool(1)

	var deadline atomic.Bool
	p.Go(context.Background(), 50*time.Millisecond, func(ctx context.Context) {
		_, ok := ctx.Deadline()
		deadline.Store(ok)
	})
	p.Wait()

	assert.True(t, deadline.Load())
}

func TestPoolSkipsWhenCanceled(t *testing.T) {
	p := newPool(1)
	block := make(chan struct{})
	p.Go(context.Background(), time.Second, func(context.Context) { <-block })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	p.Go(ctx, time.Second, func(context.Context) { ran.Store(true) })

	close(block)
	p.Wait()
	assert.False(t, ran.Load())
}
