// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"github.com/x448/float16"

	"github.com/ajroetker/go-smm/smm"
)

// Compiler produces the kernel for a descriptor. Returning a nil kernel
// without an error, or an error wrapping smm.ErrUnsupportedArchitecture,
// declines the descriptor so callers use the generic fallback.
type Compiler interface {
	Compile(d smm.Descriptor) (*Kernel, error)
}

// CompilerFunc adapts a function to the Compiler interface.
type CompilerFunc func(d smm.Descriptor) (*Kernel, error)

// Compile calls f(d).
func (f CompilerFunc) Compile(d smm.Descriptor) (*Kernel, error) {
	return f(d)
}

// NativeCompiler specializes Go loop nests for a descriptor. Dimensions and
// strides become closure constants and the loop variant is chosen once for
// the dispatch level.
type NativeCompiler struct {
	Level smm.DispatchLevel
}

// selectVariant picks the vector-specialized variant when the row width
// covers whole registers of the level.
func selectVariant(level smm.DispatchLevel, dt smm.Datatype, width int) Variant {
	if !level.IsSIMD() {
		return VariantGenericScalar
	}
	if lanes := smm.Lanes(level, dt); lanes > 1 && width%lanes == 0 {
		return VariantVectorSpecialized
	}
	return VariantGenericScalar
}

// Compile implements Compiler.
func (c NativeCompiler) Compile(d smm.Descriptor) (*Kernel, error) {
	switch d.Kind() {
	case smm.KindGEMM:
		return c.compileGEMM(d)
	case smm.KindTranspose:
		return c.compileTranspose(d)
	case smm.KindReduceColsIdx:
		return c.compileReduceColsIdx(d)
	case smm.KindReduceSquared:
		v := selectVariant(c.Level, d.In(), d.N())
		if d.In() == smm.F64 {
			return New(d, v, 0, reduceSquaredKernel[float64](d.N(), v)), nil
		}
		return New(d, v, 0, reduceSquaredKernel[float32](d.N(), v)), nil
	case smm.KindScaleAccumulate:
		v := selectVariant(c.Level, d.In(), d.N())
		if d.In() == smm.F64 {
			return New(d, v, 0, scaleAccumulateKernel[float64](d.N(), v)), nil
		}
		return New(d, v, 0, scaleAccumulateKernel[float32](d.N(), v)), nil
	}
	return nil, smm.Errorf("compile", smm.ErrUnsupportedArchitecture, "%v", d)
}

func (c NativeCompiler) compileGEMM(d smm.Descriptor) (*Kernel, error) {
	v := VariantGenericScalar
	// The row-update loop needs contiguous rows of B.
	if !d.HasFlags(smm.FlagTransB) {
		v = selectVariant(c.Level, d.Out(), d.N())
	}
	switch d.In() {
	case smm.F64:
		inner := gemmKernel[float64](d, v)
		return New(d, v, 0, GEMMFunc[float64, float64](func(a, b, c []float64, _ []float32) {
			inner(a, b, c)
		})), nil
	case smm.F32:
		inner := gemmKernel[float32](d, v)
		return New(d, v, 0, GEMMFunc[float32, float32](func(a, b, c []float32, _ []float32) {
			inner(a, b, c)
		})), nil
	case smm.BF16:
		fn, scratch := promotedGEMM(d, v, smm.BFloat16sToFloat32)
		return New(d, v, scratch, fn), nil
	case smm.F16:
		fn, scratch := promotedGEMM(d, v, smm.Float16sToFloat32)
		return New(d, v, scratch, fn), nil
	}
	return nil, smm.Errorf("compile", smm.ErrUnsupportedDatatype, "%v", d)
}

// promotedGEMM widens half-precision A and B into scratch and runs the
// float32 loop nest on the copies.
func promotedGEMM[In smm.BFloat16 | float16.Float16](d smm.Descriptor, v Variant, widen func([]In, []float32)) (GEMMFunc[In, float32], int) {
	la, lb, _ := d.OperandLengths()
	inner := gemmKernel[float32](d, v)
	return func(a, b []In, c []float32, scratch []float32) {
		sa, sb := scratch[:la], scratch[la:la+lb]
		widen(a[:la], sa)
		widen(b[:lb], sb)
		inner(sa, sb, c)
	}, la + lb
}

func (c NativeCompiler) compileTranspose(d smm.Descriptor) (*Kernel, error) {
	v := selectVariant(c.Level, d.In(), d.N())
	m, n, ldi, ldo := d.M(), d.N(), d.LDA(), d.LDC()
	switch d.In() {
	case smm.F64:
		return New(d, v, 0, transposeKernel[float64](m, n, ldi, ldo, v)), nil
	case smm.F32:
		return New(d, v, 0, transposeKernel[float32](m, n, ldi, ldo, v)), nil
	case smm.BF16:
		return New(d, v, 0, transposeKernel[smm.BFloat16](m, n, ldi, ldo, v)), nil
	case smm.F16:
		return New(d, v, 0, transposeKernel[float16.Float16](m, n, ldi, ldo, v)), nil
	case smm.I32:
		return New(d, v, 0, transposeKernel[int32](m, n, ldi, ldo, v)), nil
	case smm.I64:
		return New(d, v, 0, transposeKernel[int64](m, n, ldi, ldo, v)), nil
	}
	return nil, smm.Errorf("compile", smm.ErrUnsupportedDatatype, "%v", d)
}

func (c NativeCompiler) compileReduceColsIdx(d smm.Descriptor) (*Kernel, error) {
	e, ldi := d.N(), d.LDA()
	v := selectVariant(c.Level, d.In(), e)
	switch {
	case d.In() == smm.F32 && d.Index() == smm.I64:
		return New(d, v, 0, reduceColsIdxKernel[float32, int64](e, ldi, v)), nil
	case d.In() == smm.F32 && d.Index() == smm.I32:
		return New(d, v, 0, reduceColsIdxKernel[float32, int32](e, ldi, v)), nil
	case d.In() == smm.F64 && d.Index() == smm.I64:
		return New(d, v, 0, reduceColsIdxKernel[float64, int64](e, ldi, v)), nil
	case d.In() == smm.F64 && d.Index() == smm.I32:
		return New(d, v, 0, reduceColsIdxKernel[float64, int32](e, ldi, v)), nil
	}
	return nil, smm.Errorf("compile", smm.ErrUnsupportedDatatype, "%v", d)
}
