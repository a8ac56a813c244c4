// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Package blas holds the generic fallback used whenever no specialized
// kernel serves a request: problems above the small-matrix threshold,
// non-canonical alpha/beta, declined compilations and failed scratch
// allocations. The routines are simple and correct rather than fast and
// accumulate in float64 for every input type.
package blas

import (
	"github.com/x448/float16"

	"github.com/ajroetker/go-smm/smm"
)

// Params describes a row-major GEMM C = alpha·op(A)·op(B) + beta·C with
// arbitrary scalars.
type Params struct {
	TransA, TransB bool
	M, N, K        int
	LDA, LDB, LDC  int
	Alpha, Beta    float64
}

// ParamsFromDescriptor returns the parameters a GEMM descriptor encodes.
func ParamsFromDescriptor(d smm.Descriptor) Params {
	beta := 1.0
	if !d.Accumulates() {
		beta = 0
	}
	return Params{
		TransA: d.HasFlags(smm.FlagTransA),
		TransB: d.HasFlags(smm.FlagTransB),
		M:      d.M(), N: d.N(), K: d.K(),
		LDA: d.LDA(), LDB: d.LDB(), LDC: d.LDC(),
		Alpha: 1, Beta: beta,
	}
}

// lengths returns the minimum operand lengths.
func (p Params) lengths() (a, b, c int) {
	rowsA, colsA := p.M, p.K
	if p.TransA {
		rowsA, colsA = p.K, p.M
	}
	rowsB, colsB := p.K, p.N
	if p.TransB {
		rowsB, colsB = p.N, p.K
	}
	return (rowsA-1)*p.LDA + colsA, (rowsB-1)*p.LDB + colsB, (p.M-1)*p.LDC + p.N
}

// Validate checks dimensions and leading dimensions.
func (p Params) Validate() error {
	colsA, colsB := p.K, p.N
	if p.TransA {
		colsA = p.M
	}
	if p.TransB {
		colsB = p.K
	}
	if p.M <= 0 || p.N <= 0 || p.K <= 0 || p.LDA < colsA || p.LDB < colsB || p.LDC < p.N {
		return smm.Errorf("blas gemm", smm.ErrInvalidShape, "m=%d n=%d k=%d lda=%d ldb=%d ldc=%d",
			p.M, p.N, p.K, p.LDA, p.LDB, p.LDC)
	}
	return nil
}

func (p Params) check(la, lb, lc int) error {
	a, b, c := p.lengths()
	if la < a || lb < b || lc < c {
		return smm.Errorf("blas gemm", smm.ErrInvalidShape, "operand lengths %d,%d,%d, need %d,%d,%d", la, lb, lc, a, b, c)
	}
	return nil
}

// GEMM computes one multiplication.
func GEMM[In smm.Floats, Out smm.Outputs](p Params, a, b []In, c []Out) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if a == nil || b == nil || c == nil {
		return smm.Errorf("blas gemm", smm.ErrDataNotBound, "m=%d n=%d k=%d", p.M, p.N, p.K)
	}
	if err := p.check(len(a), len(b), len(c)); err != nil {
		return err
	}
	la, lb, _ := p.lengths()
	gemm(p, widen(a[:la]), widen(b[:lb]), c)
	return nil
}

// GEMMBatch computes n multiplications sharing p, sequentially. at returns
// the operands of member i. Every member is checked before the first one is
// computed, so an invalid member leaves all outputs untouched.
func GEMMBatch[In smm.Floats, Out smm.Outputs](p Params, n int, at func(i int) (a, b []In, c []Out)) error {
	if err := p.Validate(); err != nil {
		return err
	}
	for i := range n {
		a, b, c := at(i)
		if a == nil || b == nil || c == nil {
			return smm.Errorf("blas gemm batch", smm.ErrDataNotBound, "member %d", i)
		}
		if err := p.check(len(a), len(b), len(c)); err != nil {
			return err
		}
	}
	la, lb, _ := p.lengths()
	wa, wb := make([]float64, la), make([]float64, lb)
	for i := range n {
		a, b, c := at(i)
		widenInto(a[:la], wa)
		widenInto(b[:lb], wb)
		gemm(p, wa, wb, c)
	}
	return nil
}

func gemm[Out smm.Outputs](p Params, a, b []float64, c []Out) {
	ais, aps := p.LDA, 1
	if p.TransA {
		ais, aps = 1, p.LDA
	}
	bps, bjs := p.LDB, 1
	if p.TransB {
		bps, bjs = 1, p.LDB
	}
	for i := range p.M {
		for j := range p.N {
			var sum float64
			for l := range p.K {
				sum += a[i*ais+l*aps] * b[l*bps+j*bjs]
			}
			idx := i*p.LDC + j
			// BLAS does not read C when beta is zero.
			if p.Beta == 0 {
				c[idx] = Out(p.Alpha * sum)
			} else {
				c[idx] = Out(p.Alpha*sum + p.Beta*float64(c[idx]))
			}
		}
	}
}

func widen[T smm.Floats](x []T) []float64 {
	out := make([]float64, len(x))
	widenInto(x, out)
	return out
}

func widenInto[T smm.Floats](x []T, out []float64) {
	switch v := any(x).(type) {
	case []float64:
		copy(out, v)
	case []float32:
		for i, f := range v {
			out[i] = float64(f)
		}
	case []smm.BFloat16:
		for i, f := range v {
			out[i] = float64(f.Float32())
		}
	case []float16.Float16:
		for i, f := range v {
			out[i] = float64(f.Float32())
		}
	}
}

// Transpose copies the m×n matrix in (row stride ldi) into the n×m matrix
// out (row stride ldo). Square in-place transposition (same slice, ldi ==
// ldo) is supported.
func Transpose[T smm.Elements](in []T, m, n, ldi int, out []T, ldo int) error {
	if in == nil || out == nil {
		return smm.Errorf("blas trans", smm.ErrDataNotBound, "m=%d n=%d", m, n)
	}
	if m <= 0 || n <= 0 || ldi < n || ldo < m {
		return smm.Errorf("blas trans", smm.ErrInvalidShape, "m=%d n=%d ldi=%d ldo=%d", m, n, ldi, ldo)
	}
	if len(in) < (m-1)*ldi+n || len(out) < (n-1)*ldo+m {
		return smm.Errorf("blas trans", smm.ErrInvalidShape, "operand lengths %d,%d", len(in), len(out))
	}
	if smm.Overlaps(in, out) {
		if m != n || ldi != ldo || &in[0] != &out[0] {
			return smm.Errorf("blas trans", smm.ErrAliasing, "overlapping operands need a square matrix with ldi == ldo")
		}
		for i := range m {
			for j := i + 1; j < n; j++ {
				in[i*ldi+j], in[j*ldi+i] = in[j*ldi+i], in[i*ldi+j]
			}
		}
		return nil
	}
	for i := range m {
		for j := range n {
			out[j*ldo+i] = in[i*ldi+j]
		}
	}
	return nil
}
