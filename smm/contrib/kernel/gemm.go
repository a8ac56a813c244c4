// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"github.com/ajroetker/go-smm/smm"
	"github.com/ajroetker/go-smm/smm/contrib/vec"
)

// gemmKernel returns the loop nest for d with every shape parameter captured.
//
// A(i,p) lives at a[i*ais+p*aps] and B(p,j) at b[p*bps+j*bjs], which covers
// both storage orders of each operand.
func gemmKernel[T smm.Outputs](d smm.Descriptor, v Variant) func(a, b, c []T) {
	m, n, k, ldc := d.M(), d.N(), d.K(), d.LDC()
	ais, aps := d.LDA(), 1
	if d.HasFlags(smm.FlagTransA) {
		ais, aps = 1, d.LDA()
	}
	bps, bjs := d.LDB(), 1
	if d.HasFlags(smm.FlagTransB) {
		bps, bjs = 1, d.LDB()
	}
	beta0 := !d.Accumulates()

	if v == VariantVectorSpecialized {
		ldb := d.LDB()
		return func(a, b, c []T) {
			for i := range m {
				crow := c[i*ldc : i*ldc+n]
				if beta0 {
					clear(crow)
				}
				for p := range k {
					vec.MulConstAddTo(crow, a[i*ais+p*aps], b[p*ldb:p*ldb+n])
				}
			}
		}
	}

	return func(a, b, c []T) {
		for i := range m {
			crow := c[i*ldc : i*ldc+n]
			for j := range n {
				var sum T
				for p := range k {
					sum += a[i*ais+p*aps] * b[p*bps+j*bjs]
				}
				if beta0 {
					crow[j] = sum
				} else {
					crow[j] += sum
				}
			}
		}
	}
}
