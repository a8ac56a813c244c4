// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package vec

import (
	"math"
	"testing"
)

// sizes straddle register boundaries at every dispatch level.
var sizes = []int{0, 1, 3, 4, 7, 8, 15, 16, 17, 33, 64, 100}

func ramp(n int, scale float32) []float32 {
	x := make([]float32, n)
	for i := range x {
		x[i] = scale * float32(i%7-3)
	}
	return x
}

func TestAdd(t *testing.T) {
	for _, n := range sizes {
		dst, s := ramp(n, 1), ramp(n, 2)
		Add(dst, s)
		for i, x := range dst {
			if want := 3 * float32(i%7-3); x != want {
				t.Errorf("n=%d: Add()[%d] = %v, want %v", n, i, x, want)
			}
		}
	}
}

func TestAddShorterSource(t *testing.T) {
	dst := []float64{1, 1, 1, 1, 1}
	Add(dst, []float64{1, 2})
	if dst[0] != 2 || dst[1] != 3 || dst[2] != 1 {
		t.Errorf("Add() = %v, want [2 3 1 1 1]", dst)
	}
}

func TestMulConstAddTo(t *testing.T) {
	for _, n := range sizes {
		dst, x := ramp(n, 1), ramp(n, 1)
		MulConstAddTo(dst, -0.5, x)
		for i, got := range dst {
			if want := 0.5 * float32(i%7-3); got != want {
				t.Errorf("n=%d: MulConstAddTo()[%d] = %v, want %v", n, i, got, want)
			}
		}
	}
}

func TestSquaredNorm(t *testing.T) {
	for _, n := range sizes {
		v := ramp(n, 1)
		var want float32
		for _, x := range v {
			want += x * x
		}
		if got := SquaredNorm(v); got != want {
			t.Errorf("n=%d: SquaredNorm() = %v, want %v", n, got, want)
		}
	}
	if got := SquaredNorm([]float64{3, 4}); math.Abs(got-25) > 0 {
		t.Errorf("SquaredNorm([3 4]) = %v, want 25", got)
	}
}

func BenchmarkMulConstAddTo(b *testing.B) {
	dst, x := ramp(256, 1), ramp(256, 1)
	for b.Loop() {
		MulConstAddTo(dst, 0.001, x)
	}
}
