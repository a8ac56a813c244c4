// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Package workerpool provides the persistent worker pool behind batched
// multiplication, sparse index transposition and the fused embedding update.
// Workers are spawned once and reused for every parallel loop, so a batch of
// tiny kernels does not pay for goroutine creation.
//
// Three partitioning schemes are offered:
//
//   - ParallelFor / ParallelForWorkers: contiguous ranges, one per worker.
//   - ParallelForStrided: tasks that visit every ntasks-th item.
//   - ParallelForAtomic: per-item work stealing for irregular work.
//
// A loop must not be started from inside a body running on the same pool.
// Code that is already parallel marks its context with WithExternalParallelism
// (or runs under Parallel) so callees can choose a strategy that does not
// nest on the pool.
//
// Usage:
//
//	pool := workerpool.New(runtime.GOMAXPROCS(0))
//	defer pool.Close()
//
//	pool.ParallelFor(len(batch), func(start, end int) {
//	    for i := start; i < end; i++ {
//	        run(batch[i])
//	    }
//	})
package workerpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a persistent worker pool. A nil *Pool is valid and runs every loop
// sequentially on the caller.
type Pool struct {
	numWorkers int
	workC      chan workItem
	closeOnce  sync.Once
	closed     atomic.Bool
}

type workItem struct {
	fn      func()
	barrier *sync.WaitGroup
}

// New creates a pool with numWorkers workers. If numWorkers <= 0, uses
// GOMAXPROCS.
func New(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		numWorkers: numWorkers,
		workC:      make(chan workItem, numWorkers*2),
	}
	for range numWorkers {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for item := range p.workC {
		item.fn()
		item.barrier.Done()
	}
}

// NumWorkers returns the number of workers, 1 for a nil or closed pool.
func (p *Pool) NumWorkers() int {
	if p.sequential() {
		return 1
	}
	return p.numWorkers
}

// Close shuts down the pool. Pending work completes. Calling Close multiple
// times is safe; loops on a closed pool run sequentially.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.workC)
	})
}

func (p *Pool) sequential() bool {
	return p == nil || p.closed.Load()
}

// submit runs fns on the workers and waits for all of them.
func (p *Pool) submit(count int, fn func(w int)) {
	var wg sync.WaitGroup
	wg.Add(count)
	for w := range count {
		p.workC <- workItem{fn: func() { fn(w) }, barrier: &wg}
	}
	wg.Wait()
}

// ParallelFor executes fn over [0, n) split into one contiguous range per
// worker. Blocks until all work completes.
func (p *Pool) ParallelFor(n int, fn func(start, end int)) {
	p.ParallelForWorkers(n, p.NumWorkers(), fn)
}

// ParallelForWorkers is ParallelFor using at most workers workers, which is
// how a batch caps its thread count at the number of chunks.
func (p *Pool) ParallelForWorkers(n, workers int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	workers = min(max(workers, 1), p.NumWorkers(), n)
	if workers == 1 {
		fn(0, n)
		return
	}
	chunk := (n + workers - 1) / workers
	// Ceil-division can leave trailing workers idle.
	workers = (n + chunk - 1) / chunk
	p.submit(workers, func(w int) {
		start := w * chunk
		fn(start, min(start+chunk, n))
	})
}

// ParallelForStrided runs ntasks tasks; task t is called with t and ntasks
// and is expected to visit items t, t+ntasks, t+2·ntasks, ... Tasks are
// handed to workers dynamically, so ntasks may exceed the worker count.
func (p *Pool) ParallelForStrided(ntasks int, fn func(task, ntasks int)) {
	if ntasks <= 0 {
		return
	}
	p.ParallelForAtomic(ntasks, func(t int) { fn(t, ntasks) })
}

// ParallelForAtomic executes fn for each index in [0, n) with atomic work
// stealing, balancing items of uneven cost. Blocks until all work completes.
func (p *Pool) ParallelForAtomic(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	workers := min(p.NumWorkers(), n)
	if workers == 1 {
		for i := range n {
			fn(i)
		}
		return
	}
	var next atomic.Int64
	p.submit(workers, func(int) {
		for {
			i := int(next.Add(1)) - 1
			if i >= n {
				return
			}
			fn(i)
		}
	})
}

// ParallelForAtomicBatched is ParallelForAtomic grabbing batchSize items per
// atomic operation.
func (p *Pool) ParallelForAtomicBatched(n, batchSize int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	batchSize = max(batchSize, 1)
	numBatches := (n + batchSize - 1) / batchSize
	workers := min(p.NumWorkers(), numBatches)
	if workers == 1 {
		fn(0, n)
		return
	}
	var next atomic.Int64
	p.submit(workers, func(int) {
		for {
			start := (int(next.Add(1)) - 1) * batchSize
			if start >= n {
				return
			}
			fn(start, min(start+batchSize, n))
		}
	})
}

type externalKey struct{}

// WithExternalParallelism marks ctx as running inside a parallel region of
// the given number of threads.
func WithExternalParallelism(ctx context.Context, threads int) context.Context {
	return context.WithValue(ctx, externalKey{}, max(threads, 1))
}

// ExternalParallelism returns the thread count of the enclosing parallel
// region and whether ctx is inside one.
func ExternalParallelism(ctx context.Context) (threads int, ok bool) {
	if ctx == nil {
		return 0, false
	}
	threads, ok = ctx.Value(externalKey{}).(int)
	return threads, ok
}

// Parallel runs fn on n goroutines, each with a context marked as an external
// parallel region of n threads, and waits for all of them. It stands in for a
// caller-owned parallel region. It does not use a Pool, so fn may start
// loops on one.
func Parallel(ctx context.Context, n int, fn func(ctx context.Context, thread int)) {
	if n <= 0 {
		return
	}
	inner := WithExternalParallelism(ctx, n)
	var wg sync.WaitGroup
	for t := range n {
		wg.Go(func() { fn(inner, t) })
	}
	wg.Wait()
}
