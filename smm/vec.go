// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package smm

import "unsafe"

// maxVecLanes covers the widest register (64 bytes) of the narrowest
// element (2 bytes).
const maxVecLanes = 32

// Vec is a portable register of MaxLanes[T]() elements. It is a value:
// operations return new vectors and never alias their inputs.
//
// Kernels of the vector-specialized variant are written against Vec so the
// lane count follows the detected dispatch level.
type Vec[T Elements] struct {
	data [maxVecLanes]T
	n    int
}

// MaxLanes returns the number of T lanes of one register at CurrentLevel.
func MaxLanes[T Elements]() int {
	var zero T
	return min(maxVecLanes, max(1, CurrentWidth()/int(unsafe.Sizeof(zero))))
}

// NumLanes returns the number of lanes in v.
func (v Vec[T]) NumLanes() int { return v.n }

// Zero returns a vector with every lane zero.
func Zero[T Elements]() Vec[T] {
	return Vec[T]{n: MaxLanes[T]()}
}

// Set returns a vector with every lane equal to x.
func Set[T Elements](x T) Vec[T] {
	v := Zero[T]()
	for i := range v.n {
		v.data[i] = x
	}
	return v
}

// LoadFull loads MaxLanes[T]() elements from src, which must hold them.
func LoadFull[T Elements](src []T) Vec[T] {
	v := Zero[T]()
	copy(v.data[:v.n], src[:v.n])
	return v
}

// StoreFull writes every lane of v to dst, which must hold them.
func StoreFull[T Elements](v Vec[T], dst []T) {
	copy(dst[:v.n], v.data[:v.n])
}

// Add returns a+b lane-wise.
func Add[T Outputs](a, b Vec[T]) Vec[T] {
	for i := range a.n {
		a.data[i] += b.data[i]
	}
	return a
}

// Mul returns a*b lane-wise.
func Mul[T Outputs](a, b Vec[T]) Vec[T] {
	for i := range a.n {
		a.data[i] *= b.data[i]
	}
	return a
}

// MulAdd returns a*b+c lane-wise.
func MulAdd[T Outputs](a, b, c Vec[T]) Vec[T] {
	for i := range c.n {
		c.data[i] += a.data[i] * b.data[i]
	}
	return c
}

// ReduceSum returns the sum of all lanes of v.
func ReduceSum[T Outputs](v Vec[T]) T {
	var sum T
	for _, x := range v.data[:v.n] {
		sum += x
	}
	return sum
}

// InterleaveLower returns a0, b0, a1, b1, ... from the lower halves of a and b.
func InterleaveLower[T Elements](a, b Vec[T]) Vec[T] {
	out := Vec[T]{n: a.n}
	for i := range a.n / 2 {
		out.data[2*i] = a.data[i]
		out.data[2*i+1] = b.data[i]
	}
	return out
}

// InterleaveUpper returns the interleaved upper halves of a and b.
func InterleaveUpper[T Elements](a, b Vec[T]) Vec[T] {
	out := Vec[T]{n: a.n}
	half := a.n / 2
	for i := range half {
		out.data[2*i] = a.data[half+i]
		out.data[2*i+1] = b.data[half+i]
	}
	return out
}
