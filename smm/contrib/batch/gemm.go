// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package batch

import (
	"context"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/ajroetker/go-smm/smm"
	"github.com/ajroetker/go-smm/smm/contrib/blas"
	"github.com/ajroetker/go-smm/smm/contrib/kernel"
	"github.com/ajroetker/go-smm/smm/contrib/workerpool"
)

// errTooLarge routes problems above Config.MaxMNK to the fallback.
var errTooLarge = errors.New("problem size above the small-matrix threshold")

func needsFallback(err error) bool {
	return errors.Is(err, errTooLarge) || smm.IsFallbackError(err)
}

// Strategy names how a batch was executed.
type Strategy uint8

const (
	StrategySequential Strategy = iota
	// StrategyStatic splits the batch into one contiguous chunk per thread.
	StrategyStatic
	// StrategyTasks runs TaskScale stride-interleaved tasks per thread.
	StrategyTasks
	// StrategyExternalTasks spawns tasks from inside a caller's parallel region.
	StrategyExternalTasks
	// StrategyExternalSequential runs the batch on the calling thread of a
	// parallel region that offers no task support.
	StrategyExternalSequential
	// StrategyFallback uses the generic BLAS loop.
	StrategyFallback
)

func (st Strategy) String() string {
	switch st {
	case StrategySequential:
		return "sequential"
	case StrategyStatic:
		return "static"
	case StrategyTasks:
		return "tasks"
	case StrategyExternalTasks:
		return "external-tasks"
	case StrategyExternalSequential:
		return "external-sequential"
	case StrategyFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// plan is the partitioning chosen for one batch.
type plan struct {
	strategy Strategy
	threads  int // workers (static) or tasks (task strategies)
	external int // thread count of the enclosing region
}

// planBatch picks the execution strategy for n members.
func (s *Scheduler) planBatch(ctx context.Context, d smm.Descriptor, n int) plan {
	grain := s.cfg.TaskGrain
	nchunks := (n + grain - 1) / grain
	external, isExternal := workerpool.ExternalParallelism(ctx)
	if d.HasFlags(smm.FlagSequential) || nchunks <= 1 {
		return plan{strategy: StrategySequential, threads: 1}
	}
	if isExternal {
		if !s.cfg.Tasks {
			return plan{strategy: StrategyExternalSequential, threads: 1, external: external}
		}
		scale := s.cfg.TaskScale
		if scale <= 0 {
			scale = smm.DefaultTaskScale
		}
		return plan{strategy: StrategyExternalTasks, threads: external * scale, external: external}
	}
	nthreads := min(s.cfg.Threads, s.pool.NumWorkers(), nchunks)
	if nthreads <= 1 {
		return plan{strategy: StrategySequential, threads: 1}
	}
	if s.cfg.TaskScale <= 0 {
		return plan{strategy: StrategyStatic, threads: nthreads}
	}
	return plan{strategy: StrategyTasks, threads: nthreads * s.cfg.TaskScale}
}

// GEMMBatch executes every member of items with the kernel for d. Members
// are independent: with FlagSynchronized, or a batch reporting repeated
// outputs, updates into the same C are serialized.
//
// Problems above Config.MaxMNK, declined compilations and failed scratch
// allocations are computed by the generic fallback instead; only errors of
// the fallback itself, invalid members and mismatched types are returned.
func GEMMBatch[In smm.Floats, Out smm.Outputs](ctx context.Context, s *Scheduler, d smm.Descriptor, items Batch[In, Out]) error {
	_, err := gemmBatch(ctx, s, d, items)
	return err
}

func gemmBatch[In smm.Floats, Out smm.Outputs](ctx context.Context, s *Scheduler, d smm.Descriptor, items Batch[In, Out]) (Strategy, error) {
	if d.Kind() != smm.KindGEMM {
		return StrategySequential, smm.Errorf("batch", smm.ErrInvalidShape, "%v is not a multiplication", d)
	}
	if d.In() != smm.DatatypeOf[In]() || d.Out() != smm.DatatypeOf[Out]() {
		return StrategySequential, smm.Errorf("batch", smm.ErrDatatypeMismatch, "%v with %v->%v operands",
			d, smm.DatatypeOf[In](), smm.DatatypeOf[Out]())
	}
	if items.Len() == 0 {
		return StrategySequential, nil
	}
	if err := checkMembers(d, items); err != nil {
		return StrategySequential, err
	}
	st, err := runBatch(ctx, s, d, items)
	if err == nil || !needsFallback(err) {
		return st, err
	}
	return StrategyFallback, fallbackBatch(s, blas.ParamsFromDescriptor(d), items, err)
}

// GEMMBatchParams is GEMMBatch for arbitrary alpha and beta. Scalars other
// than alpha = 1 and beta ∈ {0, 1} go straight to the fallback. flags may
// carry execution flags.
func GEMMBatchParams[In smm.Floats, Out smm.Outputs](ctx context.Context, s *Scheduler, p blas.Params, flags smm.Flags, items Batch[In, Out]) error {
	if p.TransA {
		flags |= smm.FlagTransA
	}
	if p.TransB {
		flags |= smm.FlagTransB
	}
	d, err := smm.NewGEMMDescriptor(smm.DatatypeOf[In](), smm.DatatypeOf[Out](),
		p.M, p.N, p.K, p.LDA, p.LDB, p.LDC, p.Alpha, p.Beta, flags&^smm.FlagBeta0, smm.PrefetchAuto)
	if err != nil {
		if needsFallback(err) {
			return fallbackBatch(s, p, items, err)
		}
		return err
	}
	return GEMMBatch(ctx, s, d, items)
}

func fallbackBatch[In smm.Floats, Out smm.Outputs](s *Scheduler, p blas.Params, items Batch[In, Out], cause error) error {
	err := blas.GEMMBatch(p, items.Len(), items.At)
	if err != nil {
		smm.ErrorOnce(&s.errorOnce, &s.cfg, "batched GEMM failed: %v", err)
		return err
	}
	smm.WarningOnce(&s.fallbackOnce, &s.cfg, smm.VerbosityWarn, "batched GEMM was falling back to BLAS (%v)", cause)
	return nil
}

// checkMembers validates every member against d, so a batch with one bad
// member computes nothing.
func checkMembers[In smm.Floats, Out smm.Outputs](d smm.Descriptor, items Batch[In, Out]) error {
	la, lb, lc := d.OperandLengths()
	for i := range items.Len() {
		a, b, c := items.At(i)
		if err := kernel.CheckGEMMOperands(d, trim(a, la), trim(b, lb), trim(c, lc)); err != nil {
			return fmt.Errorf("batch member %d: %w", i, err)
		}
	}
	return nil
}

// snapshot copies the operand triples of items. A detached batch runs on the
// copy, so the caller may reuse its Batch (a Recorder reuses its ring) as
// soon as GEMMBatch returns.
func snapshot[In smm.Floats, Out smm.Outputs](items Batch[In, Out]) Triples[In, Out] {
	out := make(Triples[In, Out], items.Len())
	for i := range out {
		out[i].A, out[i].B, out[i].C = items.At(i)
	}
	return out
}

// runBatch executes items with a specialized kernel. Members were already
// validated by checkMembers. It returns a fallback
// error only before any member ran.
func runBatch[In smm.Floats, Out smm.Outputs](ctx context.Context, s *Scheduler, d smm.Descriptor, items Batch[In, Out]) (Strategy, error) {
	if d.ProblemSize() > s.cfg.MaxMNK {
		return StrategyFallback, errTooLarge
	}
	k, err := s.cache.Dispatch(d)
	if err != nil {
		return StrategyFallback, err
	}
	fn, err := kernel.GEMM[In, Out](k)
	if err != nil {
		return StrategyFallback, &smm.Error{Op: "batch", Err: smm.ErrUnsupportedArchitecture, Detail: err.Error()}
	}

	n := items.Len()
	p := s.planBatch(ctx, d, n)
	scratch, err := newScratch(s.alloc, k.ScratchSize(), p.threads)
	if err != nil {
		return StrategyFallback, err
	}

	synchronized := d.HasFlags(smm.FlagSynchronized)
	if r, ok := items.(repeatedOutputs); ok && r.RepeatedOutputs() {
		synchronized = true
	}
	synchronized = synchronized && p.threads > 1
	detached := p.strategy == StrategyExternalTasks && s.cfg.NoSync
	if detached {
		items = snapshot(items)
	}

	la, lb, lc := d.OperandLengths()
	member := func(i int, buf []float32) {
		a, b, c := items.At(i)
		a, b, c = a[:la], b[:lb], c[:lc]
		if synchronized {
			mu := s.lockFor(unsafe.Pointer(&c[0]))
			mu.Lock()
			fn(a, b, c, buf)
			mu.Unlock()
			return
		}
		fn(a, b, c, buf)
	}
	strided := func(task, ntasks int) {
		buf := scratch.get()
		defer scratch.put(buf)
		for i := task; i < n; i += ntasks {
			member(i, buf)
		}
	}

	switch p.strategy {
	case StrategySequential, StrategyExternalSequential:
		if p.strategy == StrategyExternalSequential {
			s.reportImbalance(1, p.external)
		}
		strided(0, 1)
	case StrategyStatic:
		s.pool.ParallelForWorkers(n, p.threads, func(start, end int) {
			buf := scratch.get()
			defer scratch.put(buf)
			for i := start; i < end; i++ {
				member(i, buf)
			}
		})
	case StrategyTasks:
		s.pool.ParallelForStrided(p.threads, strided)
	case StrategyExternalTasks:
		g := new(errgroup.Group)
		for t := range p.threads {
			g.Go(func() error {
				strided(t, p.threads)
				return nil
			})
		}
		if detached {
			s.detach(g, scratch.release)
			s.cache.AddUsage(d, n)
			return p.strategy, nil
		}
		_ = g.Wait()
	}
	scratch.release()
	s.cache.AddUsage(d, n)
	return p.strategy, nil
}

// scratchSlots hands out per-worker scratch carved from one allocation.
type scratchSlots struct {
	alloc smm.Allocator
	raw   []byte
	free  chan []float32
}

func newScratch(a smm.Allocator, size, slots int) (*scratchSlots, error) {
	s := &scratchSlots{alloc: a}
	if size == 0 {
		return s, nil
	}
	// Round each slot up to a cache line so workers do not share lines.
	stride := (size + smm.CacheLine/4 - 1) / (smm.CacheLine / 4) * (smm.CacheLine / 4)
	all, raw, err := smm.AllocFloat32(a, stride*slots, smm.CacheLine)
	if err != nil {
		return nil, err
	}
	s.raw = raw
	s.free = make(chan []float32, slots)
	for i := range slots {
		s.free <- all[i*stride : i*stride+size : i*stride+size]
	}
	return s, nil
}

func (s *scratchSlots) get() []float32 {
	if s.free == nil {
		return nil
	}
	return <-s.free
}

func (s *scratchSlots) put(buf []float32) {
	if s.free != nil {
		s.free <- buf
	}
}

func (s *scratchSlots) release() {
	if s.raw != nil {
		_ = s.alloc.Free(s.raw)
		s.raw = nil
	}
}
