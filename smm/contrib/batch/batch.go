// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Package batch executes many small multiplications that share one
// descriptor. GEMMBatch partitions a batch across a worker pool (or across
// tasks when the caller is already parallel) and falls back to the generic
// BLAS loop whenever no specialized kernel serves the request. Recorder
// collects individual calls into batches between Begin and End.
package batch

import "github.com/ajroetker/go-smm/smm"

// Batch is a sequence of independent multiplications. At returns the
// operands of member i; they are trimmed to the descriptor's footprint
// before use.
type Batch[In smm.Floats, Out smm.Outputs] interface {
	Len() int
	At(i int) (a, b []In, c []Out)
}

// Triple holds the operands of one multiplication.
type Triple[In smm.Floats, Out smm.Outputs] struct {
	A, B []In
	C    []Out
}

// Triples is a Batch of explicit operand triples.
type Triples[In smm.Floats, Out smm.Outputs] []Triple[In, Out]

func (t Triples[In, Out]) Len() int { return len(t) }

func (t Triples[In, Out]) At(i int) (a, b []In, c []Out) {
	return t[i].A, t[i].B, t[i].C
}

// Strided is a Batch whose members live at fixed element strides inside
// three base slices. A zero StrideC makes every member update the same C,
// which turns on synchronized updates.
type Strided[In smm.Floats, Out smm.Outputs] struct {
	A, B                      []In
	C                         []Out
	StrideA, StrideB, StrideC int
	Count                     int
}

func (s Strided[In, Out]) Len() int { return s.Count }

func (s Strided[In, Out]) At(i int) (a, b []In, c []Out) {
	return tail(s.A, i*s.StrideA), tail(s.B, i*s.StrideB), tail(s.C, i*s.StrideC)
}

// RepeatedOutputs reports whether members share output memory.
func (s Strided[In, Out]) RepeatedOutputs() bool {
	return s.StrideC == 0 && s.Count > 1
}

// tail returns x[off:], or nil when off is past the end so the member is
// reported as not bound.
func tail[T any](x []T, off int) []T {
	if off < 0 || off > len(x) {
		return nil
	}
	return x[off:]
}

// repeatedOutputs is implemented by batches that know their members share
// output memory.
type repeatedOutputs interface {
	RepeatedOutputs() bool
}

func trim[T any](x []T, n int) []T {
	if len(x) >= n {
		return x[:n:n]
	}
	return x
}
