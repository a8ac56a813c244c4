// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Package embedding implements an embedding table with a fused sparse
// AdaGrad update. The update walks the grouped-by-row structure built by
// sparse.Transpose, so each table row is written by exactly one worker and
// no locking is needed.
package embedding

import (
	"errors"
	"math"
	"sync"

	"github.com/ajroetker/go-smm/smm"
	"github.com/ajroetker/go-smm/smm/contrib/kernel"
	"github.com/ajroetker/go-smm/smm/contrib/sparse"
	"github.com/ajroetker/go-smm/smm/contrib/workerpool"
)

// groupsPerClaim is the number of groups a worker claims at a time. Group
// sizes vary, so workers claim small batches instead of fixed ranges.
const groupsPerClaim = 32

// Bag is an m×e float32 embedding table plus one AdaGrad accumulator per
// row. Table and accumulator are cache-line aligned.
type Bag struct {
	m, e  int
	alloc smm.Allocator

	weight, h       []float32
	weightRaw, hRaw []byte

	gather   kernel.ReduceColsIdxFunc[float32, int64]
	squared  kernel.ReduceSquaredFunc[float32]
	scaleAcc kernel.ScaleAccumulateFunc[float32]

	sums sync.Pool // *[]float32 of length e
}

// Option configures a Bag.
type Option func(*Bag)

// WithAllocator sets the allocator for the table and accumulator.
func WithAllocator(a smm.Allocator) Option {
	return func(b *Bag) { b.alloc = a }
}

// NewBag allocates a zeroed table of m rows of width e and dispatches its
// kernels from cache (kernel.DefaultCache if nil). Kernels the cache
// declines are replaced by plain loops.
func NewBag(cache *kernel.Cache, m, e int, opts ...Option) (*Bag, error) {
	if m <= 0 || e <= 0 {
		return nil, smm.Errorf("embedding", smm.ErrInvalidShape, "m=%d e=%d", m, e)
	}
	if cache == nil {
		cache = kernel.DefaultCache()
	}
	b := &Bag{m: m, e: e, alloc: smm.DefaultAllocator}
	for _, opt := range opts {
		opt(b)
	}
	b.sums.New = func() any {
		buf := make([]float32, e)
		return &buf
	}
	if err := b.dispatch(cache); err != nil {
		return nil, err
	}

	var err error
	if b.weight, b.weightRaw, err = smm.AllocFloat32(b.alloc, m*e, smm.CacheLine); err != nil {
		return nil, err
	}
	if b.h, b.hRaw, err = smm.AllocFloat32(b.alloc, m, smm.CacheLine); err != nil {
		_ = b.alloc.Free(b.weightRaw)
		return nil, err
	}
	return b, nil
}

func (b *Bag) dispatch(cache *kernel.Cache) error {
	ref := referenceKernels(b.e)

	d, err := smm.NewReduceColsIdxDescriptor(smm.F32, smm.I64, b.e, b.e)
	if err != nil {
		return err
	}
	b.gather, err = dispatchOr(cache, d, kernel.ReduceColsIdx[float32, int64], ref.gather)
	if err != nil {
		return err
	}

	if d, err = smm.NewReduceSquaredDescriptor(smm.F32, b.e); err != nil {
		return err
	}
	b.squared, err = dispatchOr(cache, d, kernel.ReduceSquared[float32], ref.squared)
	if err != nil {
		return err
	}

	if d, err = smm.NewScaleAccumulateDescriptor(smm.F32, b.e, b.e); err != nil {
		return err
	}
	b.scaleAcc, err = dispatchOr(cache, d, kernel.ScaleAccumulate[float32], ref.scaleAcc)
	return err
}

// dispatchOr returns the cached kernel for d, or fallback if the cache
// declines it.
func dispatchOr[F any](cache *kernel.Cache, d smm.Descriptor, typed func(*kernel.Kernel) (F, error), fallback F) (F, error) {
	k, err := cache.Dispatch(d)
	if err == nil {
		var fn F
		if fn, err = typed(k); err == nil {
			return fn, nil
		}
		err = &smm.Error{Op: "embedding", Err: smm.ErrUnsupportedArchitecture, Detail: err.Error()}
	}
	if smm.IsFallbackError(err) {
		return fallback, nil
	}
	return fallback, err
}

// M returns the number of table rows.
func (b *Bag) M() int { return b.m }

// E returns the row width.
func (b *Bag) E() int { return b.e }

// Weight returns the row-major m×e table.
func (b *Bag) Weight() []float32 { return b.weight }

// Accumulator returns the per-row AdaGrad accumulator h.
func (b *Bag) Accumulator() []float32 { return b.h }

// Row returns table row i.
func (b *Bag) Row(i int) []float32 {
	return b.weight[i*b.e : (i+1)*b.e : (i+1)*b.e]
}

// FusedBackwardUpdateAdaGrad applies one sparse AdaGrad step. For each
// group u of g it sums the gradient rows g.Rows[g.Offsets[u]:g.Offsets[u+1]]
// of grad (row-major, width E) into gsum, adds mean(gsum²) to the
// accumulator of table row t = g.Targets[u], and adds
// gsum · lr/(sqrt(h[t])+eps) to row t. Groups run in parallel on pool.
//
// g must satisfy the invariants checked by sparse.Grouped.Validate;
// violating them is a data race.
func (b *Bag) FusedBackwardUpdateAdaGrad(pool *workerpool.Pool, g *sparse.Grouped, grad []float32, lr, eps float32) error {
	u := g.Groups()
	if u == 0 {
		return nil
	}
	if grad == nil {
		return smm.Errorf("embedding update", smm.ErrDataNotBound, "nil gradient")
	}
	if b.weight == nil {
		return smm.Errorf("embedding update", smm.ErrDataNotBound, "closed table")
	}
	e := b.e
	pool.ParallelForAtomicBatched(u, groupsPerClaim, func(start, end int) {
		buf := b.sums.Get().(*[]float32)
		gsum := *buf
		for i := start; i < end; i++ {
			b.gather(grad, g.Rows[g.Offsets[i]:g.Offsets[i+1]], gsum)
			ss := b.squared(gsum) / float32(e)
			t := int(g.Targets[i])
			h := b.h[t] + ss
			b.h[t] = h
			scale := lr / (float32(math.Sqrt(float64(h))) + eps)
			b.scaleAcc(gsum, b.weight[t*e:], scale)
		}
		b.sums.Put(buf)
	})
	return nil
}

// Forward computes the sum-pooled lookup out[i] = Σ weight[idx] over the
// indices of minibatch row i. out is row-major N×E.
func (b *Bag) Forward(pool *workerpool.Pool, fwd *sparse.CSR, out []float32) error {
	n := fwd.Rows()
	if out == nil && n > 0 {
		return smm.Errorf("embedding forward", smm.ErrDataNotBound, "nil output")
	}
	if len(out) < n*b.e {
		return smm.Errorf("embedding forward", smm.ErrInvalidShape, "output of %d elements, need %d", len(out), n*b.e)
	}
	if b.weight == nil {
		return smm.Errorf("embedding forward", smm.ErrDataNotBound, "closed table")
	}
	pool.ParallelFor(n, func(start, end int) {
		for i := start; i < end; i++ {
			b.gather(b.weight, fwd.Indices[fwd.Offsets[i]:fwd.Offsets[i+1]], out[i*b.e:])
		}
	})
	return nil
}

// Checksum returns the sum of all table entries.
func (b *Bag) Checksum() float64 {
	var sum float64
	for _, w := range b.weight {
		sum += float64(w)
	}
	return sum
}

// Close releases the table. The Bag must not be used afterwards.
func (b *Bag) Close() error {
	var errs []error
	if b.weightRaw != nil {
		errs = append(errs, b.alloc.Free(b.weightRaw))
	}
	if b.hRaw != nil {
		errs = append(errs, b.alloc.Free(b.hRaw))
	}
	b.weight, b.h, b.weightRaw, b.hRaw = nil, nil, nil, nil
	return errors.Join(errs...)
}
