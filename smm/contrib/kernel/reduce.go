// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"github.com/ajroetker/go-smm/smm"
	"github.com/ajroetker/go-smm/smm/contrib/vec"
)

func reduceColsIdxKernel[T smm.Outputs, I smm.Indices](e, ldi int, v Variant) ReduceColsIdxFunc[T, I] {
	if v == VariantVectorSpecialized {
		return func(in []T, idx []I, out []T) {
			out = out[:e]
			clear(out)
			for _, r := range idx {
				vec.Add(out, in[int(r)*ldi:int(r)*ldi+e])
			}
		}
	}
	return func(in []T, idx []I, out []T) {
		out = out[:e]
		clear(out)
		for _, r := range idx {
			base := int(r) * ldi
			for j := range e {
				out[j] += in[base+j]
			}
		}
	}
}

func reduceSquaredKernel[T smm.Outputs](e int, v Variant) ReduceSquaredFunc[T] {
	if v == VariantVectorSpecialized {
		return func(in []T) T {
			return vec.SquaredNorm(in[:e])
		}
	}
	return func(in []T) T {
		var sum T
		for _, x := range in[:e] {
			sum += x * x
		}
		return sum
	}
}

func scaleAccumulateKernel[T smm.Outputs](e int, v Variant) ScaleAccumulateFunc[T] {
	if v == VariantVectorSpecialized {
		return func(in, out []T, scale T) {
			vec.MulConstAddTo(out[:e], scale, in[:e])
		}
	}
	return func(in, out []T, scale T) {
		out = out[:e]
		for j, x := range in[:e] {
			out[j] += x * scale
		}
	}
}
