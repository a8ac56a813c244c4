// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package batch

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/ajroetker/go-smm/smm"
	"github.com/ajroetker/go-smm/smm/contrib/kernel"
	"github.com/ajroetker/go-smm/smm/contrib/workerpool"
)

// lockStripes is the size of the lock table serializing synchronized
// updates, keyed by the address of C.
const lockStripes = 64

// initialMaxImbalance is the imbalance (percent) above which the first
// sequential-fallback warning is printed.
const initialMaxImbalance = 50.0

// Scheduler runs batches of small multiplications. It is safe for concurrent
// use.
type Scheduler struct {
	cache *kernel.Cache
	pool  *workerpool.Pool
	cfg   smm.Config
	alloc smm.Allocator

	locks [lockStripes]sync.Mutex

	// maxImbalance holds the float64 bits of the highest reported imbalance.
	maxImbalance atomic.Uint64

	detachedMu sync.Mutex
	detached   []detachedBatch

	fallbackOnce smm.Once
	errorOnce    smm.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConfig replaces the configuration read from the environment.
func WithConfig(cfg smm.Config) Option {
	return func(s *Scheduler) { s.cfg = cfg }
}

// WithAllocator sets the allocator for per-worker scratch buffers.
func WithAllocator(a smm.Allocator) Option {
	return func(s *Scheduler) { s.alloc = a }
}

// New returns a scheduler dispatching through cache (kernel.DefaultCache if
// nil) and running on pool. A nil pool executes every batch on the caller.
func New(cache *kernel.Cache, pool *workerpool.Pool, opts ...Option) *Scheduler {
	if cache == nil {
		cache = kernel.DefaultCache()
	}
	s := &Scheduler{
		cache: cache,
		pool:  pool,
		cfg:   smm.ConfigFromEnv(),
		alloc: smm.DefaultAllocator,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg = s.cfg.Normalize()
	s.maxImbalance.Store(math.Float64bits(initialMaxImbalance))
	return s
}

// Config returns the effective configuration.
func (s *Scheduler) Config() smm.Config {
	return s.cfg
}

// Cache returns the kernel cache of s.
func (s *Scheduler) Cache() *kernel.Cache {
	return s.cache
}

// Sync waits for batches launched without synchronization (Config.NoSync
// inside an external parallel region) and returns their errors. Their
// outputs must not be read before Sync returns.
func (s *Scheduler) Sync() error {
	s.detachedMu.Lock()
	pending := s.detached
	s.detached = nil
	s.detachedMu.Unlock()
	var errs []error
	for _, b := range pending {
		errs = append(errs, b.group.Wait())
		b.release()
	}
	return errors.Join(errs...)
}

type detachedBatch struct {
	group   *errgroup.Group
	release func()
}

func (s *Scheduler) detach(g *errgroup.Group, release func()) {
	s.detachedMu.Lock()
	s.detached = append(s.detached, detachedBatch{group: g, release: release})
	s.detachedMu.Unlock()
}

// lockFor returns the stripe guarding updates into the C starting at c0.
func (s *Scheduler) lockFor(c0 unsafe.Pointer) *sync.Mutex {
	h := uintptr(c0) >> 6
	h ^= h >> 17
	return &s.locks[h%lockStripes]
}

// reportImbalance warns when a batch ran on used of threads workers and the
// resulting imbalance exceeds every previously reported one. It reports
// whether a warning was printed.
func (s *Scheduler) reportImbalance(used, threads int) bool {
	if !s.cfg.Enabled(smm.VerbosityHigh) || threads <= 0 {
		return false
	}
	imbalance := 100 * float64(threads-used) / float64(threads)
	for {
		old := s.maxImbalance.Load()
		if imbalance <= math.Float64frombits(old) {
			return false
		}
		if s.maxImbalance.CompareAndSwap(old, math.Float64bits(imbalance)) {
			break
		}
	}
	smm.Warningf(&s.cfg, "%.0f%% imbalance (%d of %d workers utilized)", imbalance, used, threads)
	return true
}
