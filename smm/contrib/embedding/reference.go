// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package embedding

import "github.com/ajroetker/go-smm/smm/contrib/kernel"

type kernels struct {
	gather   kernel.ReduceColsIdxFunc[float32, int64]
	squared  kernel.ReduceSquaredFunc[float32]
	scaleAcc kernel.ScaleAccumulateFunc[float32]
}

// referenceKernels returns plain loops for rows of width e, used when the
// kernel cache declines a descriptor.
func referenceKernels(e int) kernels {
	return kernels{
		gather: func(in []float32, idx []int64, out []float32) {
			out = out[:e]
			clear(out)
			for _, r := range idx {
				row := in[int(r)*e : int(r)*e+e]
				for j, x := range row {
					out[j] += x
				}
			}
		},
		squared: func(in []float32) float32 {
			var sum float32
			for _, x := range in[:e] {
				sum += x * x
			}
			return sum
		},
		scaleAcc: func(in, out []float32, scale float32) {
			out = out[:e]
			for j, x := range in[:e] {
				out[j] += x * scale
			}
		},
	}
}
