// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Package vec provides the slice operations the vector-specialized kernels
// are built from: accumulate, scaled accumulate and sum of squares. Full
// registers go through smm.Vec and the tail is finished with scalar code.
package vec

import "github.com/ajroetker/go-smm/smm"

// Add performs dst[i] += s[i] over the shorter of the two slices.
func Add[T smm.Outputs](dst, s []T) {
	n := min(len(dst), len(s))
	lanes := smm.MaxLanes[T]()
	i := 0
	for ; i+lanes <= n; i += lanes {
		smm.StoreFull(smm.Add(smm.LoadFull(dst[i:]), smm.LoadFull(s[i:])), dst[i:])
	}
	for ; i < n; i++ {
		dst[i] += s[i]
	}
}

// MulConstAddTo performs dst[i] += a*x[i] over the shorter of the two slices.
func MulConstAddTo[T smm.Outputs](dst []T, a T, x []T) {
	n := min(len(dst), len(x))
	va := smm.Set(a)
	lanes := va.NumLanes()
	i := 0
	for ; i+lanes <= n; i += lanes {
		smm.StoreFull(smm.MulAdd(va, smm.LoadFull(x[i:]), smm.LoadFull(dst[i:])), dst[i:])
	}
	for ; i < n; i++ {
		dst[i] += a * x[i]
	}
}

// Dot returns the sum of a[i]*b[i] over the shorter of the two slices.
func Dot[T smm.Outputs](a, b []T) T {
	n := min(len(a), len(b))
	acc := smm.Zero[T]()
	lanes := acc.NumLanes()
	i := 0
	for ; i+lanes <= n; i += lanes {
		acc = smm.MulAdd(smm.LoadFull(a[i:]), smm.LoadFull(b[i:]), acc)
	}
	sum := smm.ReduceSum(acc)
	for ; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredNorm returns the sum of squares of v.
func SquaredNorm[T smm.Outputs](v []T) T {
	return Dot(v, v)
}
