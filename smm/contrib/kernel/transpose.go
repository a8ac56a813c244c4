// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package kernel

import "github.com/ajroetker/go-smm/smm"

// transposeKernel copies the m×n matrix in (row stride ldi) into the n×m
// matrix out (row stride ldo).
func transposeKernel[T smm.Elements](m, n, ldi, ldo int, v Variant) TransposeFunc[T] {
	if v == VariantVectorSpecialized {
		return func(in, out []T) {
			lanes := smm.MaxLanes[T]()
			blockM := m / lanes * lanes
			blockN := n / lanes * lanes
			for i := 0; i < blockM; i += lanes {
				for j := 0; j < blockN; j += lanes {
					transposeBlock(in, out, i, j, ldi, ldo, lanes)
				}
			}
			// Right edge: columns [blockN, n) of every row.
			for i := range m {
				for j := blockN; j < n; j++ {
					out[j*ldo+i] = in[i*ldi+j]
				}
			}
			// Bottom edge: rows [blockM, m) of the blocked columns.
			for i := blockM; i < m; i++ {
				for j := range blockN {
					out[j*ldo+i] = in[i*ldi+j]
				}
			}
		}
	}
	return func(in, out []T) {
		for i := range m {
			row := in[i*ldi : i*ldi+n]
			for j, x := range row {
				out[j*ldo+i] = x
			}
		}
	}
}

// transposeBlock transposes the lanes×lanes block at (i0, j0) in registers.
// Each round interleaves row r with row r+lanes/2; after log2(lanes)
// rounds register r holds column r. lanes is a power of two.
func transposeBlock[T smm.Elements](in, out []T, i0, j0, ldi, ldo, lanes int) {
	var rows, next [32]smm.Vec[T]
	for r := range lanes {
		rows[r] = smm.LoadFull(in[(i0+r)*ldi+j0:])
	}
	half := lanes / 2
	for step := 1; step < lanes; step *= 2 {
		for r := range half {
			next[2*r] = smm.InterleaveLower(rows[r], rows[r+half])
			next[2*r+1] = smm.InterleaveUpper(rows[r], rows[r+half])
		}
		rows = next
	}
	for c := range lanes {
		smm.StoreFull(rows[c], out[(j0+c)*ldo+i0:])
	}
}
