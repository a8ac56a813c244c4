// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Package trans transposes row-major matrices with the transpose kernels of
// the kernel cache, in parallel strips for large matrices.
package trans

import (
	"context"
	"sync"

	"github.com/ajroetker/go-smm/smm"
	"github.com/ajroetker/go-smm/smm/contrib/blas"
	"github.com/ajroetker/go-smm/smm/contrib/kernel"
	"github.com/ajroetker/go-smm/smm/contrib/workerpool"
)

// Transpose tuning parameters
const (
	// MTThreshold is the minimum number of elements before the transpose is
	// split across workers.
	MTThreshold = smm.DefaultMaxMNK / 64

	// RowsPerStrip is the number of input rows one worker transposes at a time.
	RowsPerStrip = 64
)

var (
	config    = sync.OnceValue(smm.ConfigFromEnv)
	errorOnce smm.Once
)

// Transpose writes the n×m transpose of the m×n matrix in (row stride ldi)
// into out (row stride ldo). When out and in are the same memory the
// matrix is transposed in place, which requires m == n and ldi == ldo.
//
// A nil cache means kernel.DefaultCache; a nil pool runs on the caller, as
// does a call made inside an external parallel region (see
// workerpool.WithExternalParallelism).
func Transpose[T smm.Elements](ctx context.Context, cache *kernel.Cache, pool *workerpool.Pool, out, in []T, m, n, ldi, ldo int) error {
	if err := validate(out, in, m, n, ldi, ldo); err != nil {
		return logError(err)
	}
	li, lo := (m-1)*ldi+n, (n-1)*ldo+m
	if smm.Overlaps(in[:li], out[:lo]) {
		if &in[0] != &out[0] || m != n || ldi != ldo {
			return logError(smm.Errorf("trans", smm.ErrAliasing, "output location of the transpose must be different from the input"))
		}
		inPlace(ctx, pool, in, n, ldi)
		return nil
	}
	if cache == nil {
		cache = kernel.DefaultCache()
	}

	_, external := workerpool.ExternalParallelism(ctx)
	if m*n < MTThreshold || m <= RowsPerStrip || external || pool.NumWorkers() <= 1 {
		err := transposeRows(cache, out, in, m, n, ldi, ldo)
		if smm.IsFallbackError(err) {
			return blas.Transpose(in, m, n, ldi, out, ldo)
		}
		return err
	}

	// Dispatch the full and the last strip kernels so a declined compilation
	// falls back before any worker started.
	for _, rows := range []int{RowsPerStrip, m % RowsPerStrip} {
		if rows == 0 {
			continue
		}
		if err := dispatchStrip[T](cache, rows, n, ldi, ldo); err != nil {
			if smm.IsFallbackError(err) {
				return blas.Transpose(in, m, n, ldi, out, ldo)
			}
			return err
		}
	}
	numStrips := (m + RowsPerStrip - 1) / RowsPerStrip
	var first error
	var once sync.Once
	pool.ParallelFor(numStrips, func(start, end int) {
		for strip := start; strip < end; strip++ {
			rowStart := strip * RowsPerStrip
			rowEnd := min(rowStart+RowsPerStrip, m)
			// Rows [rowStart, rowEnd) of in become columns [rowStart, rowEnd) of out.
			err := transposeRows(cache, out[rowStart:], in[rowStart*ldi:], rowEnd-rowStart, n, ldi, ldo)
			if err != nil {
				once.Do(func() { first = err })
				return
			}
		}
	})
	return first
}

// logError reports the first invalid request of the process unless the
// environment configuration is mute.
func logError(err error) error {
	cfg := config()
	smm.ErrorOnce(&errorOnce, &cfg, "%v", err)
	return err
}

func validate[T smm.Elements](out, in []T, m, n, ldi, ldo int) error {
	switch {
	case in == nil || out == nil:
		return smm.Errorf("trans", smm.ErrDataNotBound, "the transpose input and/or output is nil")
	case m <= 0 || n <= 0:
		return smm.Errorf("trans", smm.ErrInvalidShape, "m=%d n=%d", m, n)
	case ldi < n && ldo < m:
		return smm.Errorf("trans", smm.ErrInvalidShape, "the leading dimensions of the transpose are too small (ldi=%d < %d, ldo=%d < %d)", ldi, n, ldo, m)
	case ldi < n:
		return smm.Errorf("trans", smm.ErrInvalidShape, "the leading dimension of the transpose input is too small (ldi=%d < %d)", ldi, n)
	case ldo < m:
		return smm.Errorf("trans", smm.ErrInvalidShape, "the leading dimension of the transpose output is too small (ldo=%d < %d)", ldo, m)
	}
	if li, lo := (m-1)*ldi+n, (n-1)*ldo+m; len(in) < li || len(out) < lo {
		return smm.Errorf("trans", smm.ErrInvalidShape, "operand lengths %d,%d, need %d,%d", len(in), len(out), li, lo)
	}
	return nil
}

func dispatchStrip[T smm.Elements](cache *kernel.Cache, rows, n, ldi, ldo int) error {
	d, err := smm.NewTransposeDescriptor(smm.DatatypeOf[T](), rows, n, ldi, ldo)
	if err != nil {
		return err
	}
	k, err := cache.Dispatch(d)
	if err != nil {
		return err
	}
	_, err = kernel.Transpose[T](k)
	return err
}

// transposeRows transposes the rows×n block at in into out with one kernel.
func transposeRows[T smm.Elements](cache *kernel.Cache, out, in []T, rows, n, ldi, ldo int) error {
	d, err := smm.NewTransposeDescriptor(smm.DatatypeOf[T](), rows, n, ldi, ldo)
	if err != nil {
		return err
	}
	k, err := cache.Dispatch(d)
	if err != nil {
		return err
	}
	return kernel.InvokeTranspose(k, in, out)
}

// inPlace swaps the strict upper triangle of the n×n matrix x with its lower
// triangle. Each strip owns the pairs whose smaller index lies in it.
func inPlace[T smm.Elements](ctx context.Context, pool *workerpool.Pool, x []T, n, ld int) {
	swapRows := func(start, end int) {
		for i := start; i < end; i++ {
			for j := i + 1; j < n; j++ {
				x[i*ld+j], x[j*ld+i] = x[j*ld+i], x[i*ld+j]
			}
		}
	}
	_, external := workerpool.ExternalParallelism(ctx)
	if n*n < MTThreshold || external {
		swapRows(0, n)
		return
	}
	numStrips := (n + RowsPerStrip - 1) / RowsPerStrip
	pool.ParallelFor(numStrips, func(start, end int) {
		swapRows(start*RowsPerStrip, min(end*RowsPerStrip, n))
	})
}
