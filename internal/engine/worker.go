package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// BranchPanic is the error recorded for a branch whose body panicked.
type BranchPanic struct {
	Value any
}

func (p *BranchPanic) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// PoolStats summarizes one pool's work once Wait has returned.
type PoolStats struct {
	Started  int `json:"started"`
	Failed   int `json:"failed"`
	Panicked int `json:"panicked"`
	Peak     int `json:"peak_concurrency"`
}

// WorkerPool runs the branches of one parallel step, at most size at a
// time. Task i's error, or its recovered panic, lands in slot i of the
// slice Wait returns.
type WorkerPool struct {
	sem  chan struct{}
	wg   sync.WaitGroup
	errs []error

	started  atomic.Int64
	panicked atomic.Int64
	active   atomic.Int64
	peak     atomic.Int64
}

// NewWorkerPool creates a pool for tasks branches with size slots.
func NewWorkerPool(size, tasks int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		sem:  make(chan struct{}, size),
		errs: make([]error, tasks),
	}
}

// Go starts task i once a slot is free. It returns ctx's error without
// starting the task when ctx ends first.
func (p *WorkerPool) Go(ctx context.Context, i int, fn func(ctx context.Context) error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	p.started.Add(1)
	p.trackPeak(p.active.Add(1))

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.panicked.Add(1)
				p.errs[i] = &BranchPanic{Value: r}
			}
			p.active.Add(-1)
			<-p.sem
			p.wg.Done()
		}()
		p.errs[i] = fn(ctx)
	}()
	return nil
}

func (p *WorkerPool) trackPeak(n int64) {
	for {
		cur := p.peak.Load()
		if n <= cur || p.peak.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Wait blocks until every started task is done and returns the per-task
// errors with the pool's stats.
func (p *WorkerPool) Wait() ([]error, PoolStats) {
	p.wg.Wait()
	stats := PoolStats{
		Started:  int(p.started.Load()),
		Panicked: int(p.panicked.Load()),
		Peak:     int(p.peak.Load()),
	}
	for _, err := range p.errs {
		if err != nil {
			stats.Failed++
		}
	}
	return p.errs, stats
}
