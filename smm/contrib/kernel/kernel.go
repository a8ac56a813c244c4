// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Package kernel turns descriptors into specialized kernels, caches them for
// the lifetime of the process and invokes them on caller buffers.
//
// A Kernel wraps a typed closure whose dimensions, strides and loop variant
// were fixed when the descriptor was compiled. The typed accessors (GEMM,
// Transpose, ReduceColsIdx, ReduceSquared, ScaleAccumulate) recover the
// closure; the Invoke helpers additionally validate operands.
//
// Usage:
//
//	d, _ := smm.NewGEMMDescriptor(smm.F32, smm.F32, 8, 8, 8, 8, 8, 8, 1, 0, 0, smm.PrefetchNone)
//	k, err := kernel.DefaultCache().Dispatch(d)
//	if err != nil {
//	    return err
//	}
//	return kernel.InvokeGEMM(k, a, b, c)
package kernel

import (
	"sync"

	"github.com/ajroetker/go-smm/smm"
)

// Variant names the loop strategy a kernel was specialized with.
type Variant uint8

const (
	// VariantGenericScalar is a plain loop nest valid for any shape.
	VariantGenericScalar Variant = iota
	// VariantVectorSpecialized runs its inner loops on smm.Vec registers
	// (contrib/vec operations, register-block transposes). Chosen when the
	// row width is a multiple of the lane count.
	VariantVectorSpecialized
)

func (v Variant) String() string {
	switch v {
	case VariantGenericScalar:
		return "generic-scalar"
	case VariantVectorSpecialized:
		return "vector-specialized"
	default:
		return "unknown"
	}
}

// GEMMFunc computes C = A·B or C += A·B. scratch holds ScratchSize() float32
// values for half-precision inputs and is ignored otherwise.
type GEMMFunc[In smm.Floats, Out smm.Outputs] func(a, b []In, c []Out, scratch []float32)

// TransposeFunc writes the transpose of in into out.
type TransposeFunc[T smm.Elements] func(in, out []T)

// ReduceColsIdxFunc overwrites out (width e) with the sum of the rows of in
// selected by idx.
type ReduceColsIdxFunc[T smm.Outputs, I smm.Indices] func(in []T, idx []I, out []T)

// ReduceSquaredFunc returns the sum of squares of its e-element input.
type ReduceSquaredFunc[T smm.Outputs] func(in []T) T

// ScaleAccumulateFunc computes out[i] += in[i]*scale for e elements.
type ScaleAccumulateFunc[T smm.Outputs] func(in, out []T, scale T)

// Kernel is a compiled specialization. It is immutable and safe for
// concurrent use.
type Kernel struct {
	desc    smm.Descriptor
	variant Variant
	scratch int
	fn      any

	scratchPool sync.Pool
}

// New wraps fn as the kernel for d. fn must be one of the typed function
// types of this package matching d's datatypes; it is how a Compiler other
// than NativeCompiler hands out its code. scratch is the number of float32
// scratch values fn needs.
func New[F any](d smm.Descriptor, v Variant, scratch int, fn F) *Kernel {
	k := &Kernel{desc: d, variant: v, scratch: scratch, fn: fn}
	k.scratchPool.New = func() any {
		buf := make([]float32, k.scratch)
		return &buf
	}
	return k
}

// Descriptor returns the descriptor the kernel was compiled for.
func (k *Kernel) Descriptor() smm.Descriptor { return k.desc }

// Variant returns the loop strategy chosen at compile time.
func (k *Kernel) Variant() Variant { return k.variant }

// ScratchSize returns the number of float32 scratch values one invocation
// needs, 0 for most kernels.
func (k *Kernel) ScratchSize() int { return k.scratch }

func (k *Kernel) getScratch() *[]float32 {
	if k.scratch == 0 {
		return nil
	}
	return k.scratchPool.Get().(*[]float32)
}

func (k *Kernel) putScratch(buf *[]float32) {
	if buf != nil {
		k.scratchPool.Put(buf)
	}
}

func mismatch(k *Kernel, want string) error {
	return smm.Errorf("kernel", smm.ErrDatatypeMismatch, "%v is not a %s kernel", k.desc, want)
}

// GEMM returns the typed multiplication closure of k.
func GEMM[In smm.Floats, Out smm.Outputs](k *Kernel) (GEMMFunc[In, Out], error) {
	fn, ok := k.fn.(GEMMFunc[In, Out])
	if !ok || k.desc.Kind() != smm.KindGEMM {
		return nil, mismatch(k, "gemm "+smm.DatatypeOf[In]().String()+"->"+smm.DatatypeOf[Out]().String())
	}
	return fn, nil
}

// Transpose returns the typed transpose closure of k.
func Transpose[T smm.Elements](k *Kernel) (TransposeFunc[T], error) {
	fn, ok := k.fn.(TransposeFunc[T])
	if !ok || k.desc.Kind() != smm.KindTranspose {
		return nil, mismatch(k, "transpose "+smm.DatatypeOf[T]().String())
	}
	return fn, nil
}

// ReduceColsIdx returns the typed gather-reduce closure of k.
func ReduceColsIdx[T smm.Outputs, I smm.Indices](k *Kernel) (ReduceColsIdxFunc[T, I], error) {
	fn, ok := k.fn.(ReduceColsIdxFunc[T, I])
	if !ok || k.desc.Kind() != smm.KindReduceColsIdx {
		return nil, mismatch(k, "reduce_cols_idx")
	}
	return fn, nil
}

// ReduceSquared returns the typed sum-of-squares closure of k.
func ReduceSquared[T smm.Outputs](k *Kernel) (ReduceSquaredFunc[T], error) {
	fn, ok := k.fn.(ReduceSquaredFunc[T])
	if !ok || k.desc.Kind() != smm.KindReduceSquared {
		return nil, mismatch(k, "reduce_squared")
	}
	return fn, nil
}

// ScaleAccumulate returns the typed scale-accumulate closure of k.
func ScaleAccumulate[T smm.Outputs](k *Kernel) (ScaleAccumulateFunc[T], error) {
	fn, ok := k.fn.(ScaleAccumulateFunc[T])
	if !ok || k.desc.Kind() != smm.KindScaleAccumulate {
		return nil, mismatch(k, "scale_accumulate")
	}
	return fn, nil
}
