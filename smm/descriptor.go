// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package smm

import (
	"encoding/binary"
	"fmt"
)

// Kind identifies the family of a kernel.
type Kind uint8

const (
	KindInvalid Kind = iota
	// KindGEMM is C = A·B or C += A·B on row-major operands.
	KindGEMM
	// KindTranspose copies an m×n matrix into its n×m transpose.
	KindTranspose
	// KindReduceColsIdx sums the rows of a table selected by an index list.
	KindReduceColsIdx
	// KindReduceSquared returns the sum of squares of a vector.
	KindReduceSquared
	// KindScaleAccumulate computes out[i] += in[i]*scale.
	KindScaleAccumulate
)

// String returns the name of the kernel family.
func (k Kind) String() string {
	switch k {
	case KindGEMM:
		return "gemm"
	case KindTranspose:
		return "trans"
	case KindReduceColsIdx:
		return "reduce_cols_idx"
	case KindReduceSquared:
		return "reduce_squared"
	case KindScaleAccumulate:
		return "scale_accumulate"
	default:
		return "invalid"
	}
}

// Flags modify kernel semantics or batch execution.
type Flags uint32

const (
	// FlagTransA marks A as stored transposed (k×m).
	FlagTransA Flags = 1 << iota
	// FlagTransB marks B as stored transposed (n×k).
	FlagTransB
	// FlagBeta0 overwrites C instead of accumulating into it.
	FlagBeta0
	// FlagStatistic asks a recorder to count calls instead of batching them.
	FlagStatistic
	// FlagSequential forces sequential batch execution.
	FlagSequential
	// FlagSynchronized serializes updates into the same C.
	FlagSynchronized
)

// executionFlags do not change the generated code.
const executionFlags = FlagStatistic | FlagSequential | FlagSynchronized

// Has reports whether all bits of x are set in f.
func (f Flags) Has(x Flags) bool {
	return f&x == x
}

// Prefetch selects the prefetch strategy of a GEMM kernel.
type Prefetch uint8

const (
	PrefetchNone Prefetch = iota
	// PrefetchAL2 touches the next A operand.
	PrefetchAL2
	// PrefetchBL2 touches the next B operand.
	PrefetchBL2
	// PrefetchAuto lets the compiler decide.
	PrefetchAuto
)

func (p Prefetch) String() string {
	switch p {
	case PrefetchNone:
		return "none"
	case PrefetchAL2:
		return "al2"
	case PrefetchBL2:
		return "bl2"
	case PrefetchAuto:
		return "auto"
	default:
		return "invalid"
	}
}

// Descriptor is the complete, immutable key of a specialized kernel. Two
// descriptors are equal exactly when all fields are equal, so Descriptor is
// usable directly as a map key. The zero value is invalid.
type Descriptor struct {
	kind          Kind
	in, out, idx  Datatype
	prefetch      Prefetch
	flags         Flags
	m, n, k       int
	lda, ldb, ldc int
}

// NewGEMMDescriptor describes C(m×n) = A·B with row-major operands. A is m×k
// (lda ≥ k) or, with FlagTransA, stored k×m (lda ≥ m). B is k×n (ldb ≥ n) or,
// with FlagTransB, stored n×k (ldb ≥ k). C is m×n with ldc ≥ n.
//
// Only alpha = 1 and beta ∈ {0, 1} are specialized; other scalars return
// ErrNonCanonicalScalar so the caller can use the generic fallback.
func NewGEMMDescriptor(in, out Datatype, m, n, k, lda, ldb, ldc int, alpha, beta float64, flags Flags, prefetch Prefetch) (Descriptor, error) {
	const op = "gemm descriptor"
	if !gemmPairSupported(in, out) {
		return Descriptor{}, Errorf(op, ErrUnsupportedDatatype, "%s -> %s", in, out)
	}
	if m <= 0 || n <= 0 || k <= 0 {
		return Descriptor{}, Errorf(op, ErrInvalidShape, "m=%d n=%d k=%d", m, n, k)
	}
	colsA, colsB := k, n
	if flags.Has(FlagTransA) {
		colsA = m
	}
	if flags.Has(FlagTransB) {
		colsB = k
	}
	if lda < colsA || ldb < colsB || ldc < n {
		return Descriptor{}, Errorf(op, ErrInvalidShape, "lda=%d ldb=%d ldc=%d for m=%d n=%d k=%d", lda, ldb, ldc, m, n, k)
	}
	if alpha != 1 {
		return Descriptor{}, Errorf(op, ErrNonCanonicalScalar, "alpha=%g", alpha)
	}
	switch beta {
	case 0:
		flags |= FlagBeta0
	case 1:
		flags &^= FlagBeta0
	default:
		return Descriptor{}, Errorf(op, ErrNonCanonicalScalar, "beta=%g", beta)
	}
	if prefetch > PrefetchAuto {
		prefetch = PrefetchAuto
	}
	return Descriptor{
		kind: KindGEMM, in: in, out: out, prefetch: prefetch, flags: flags,
		m: m, n: n, k: k, lda: lda, ldb: ldb, ldc: ldc,
	}, nil
}

func gemmPairSupported(in, out Datatype) bool {
	switch in {
	case F64:
		return out == F64
	case F32, BF16, F16:
		return out == F32
	}
	return false
}

// NewTransposeDescriptor describes copying an m×n matrix (ldi ≥ n) into its
// n×m transpose (ldo ≥ m).
func NewTransposeDescriptor(dt Datatype, m, n, ldi, ldo int) (Descriptor, error) {
	const op = "trans descriptor"
	if dt.Size() == 0 {
		return Descriptor{}, Errorf(op, ErrUnsupportedDatatype, "%s", dt)
	}
	if m <= 0 || n <= 0 || ldi < n || ldo < m {
		return Descriptor{}, Errorf(op, ErrInvalidShape, "m=%d n=%d ldi=%d ldo=%d", m, n, ldi, ldo)
	}
	return Descriptor{kind: KindTranspose, in: dt, out: dt, m: m, n: n, lda: ldi, ldc: ldo}, nil
}

// NewReduceColsIdxDescriptor describes summing rows of width e, with row
// stride ldi, selected by indices of type idx.
func NewReduceColsIdxDescriptor(in, idx Datatype, e, ldi int) (Descriptor, error) {
	const op = "reduce_cols_idx descriptor"
	if in != F32 && in != F64 {
		return Descriptor{}, Errorf(op, ErrUnsupportedDatatype, "%s", in)
	}
	if !idx.IsIndex() {
		return Descriptor{}, Errorf(op, ErrUnsupportedDatatype, "index %s", idx)
	}
	if e <= 0 || ldi < e {
		return Descriptor{}, Errorf(op, ErrInvalidShape, "e=%d ldi=%d", e, ldi)
	}
	return Descriptor{kind: KindReduceColsIdx, in: in, out: in, idx: idx, m: 1, n: e, lda: ldi, ldc: e}, nil
}

// NewReduceSquaredDescriptor describes the sum of squares of e elements.
func NewReduceSquaredDescriptor(dt Datatype, e int) (Descriptor, error) {
	const op = "reduce_squared descriptor"
	if dt != F32 && dt != F64 {
		return Descriptor{}, Errorf(op, ErrUnsupportedDatatype, "%s", dt)
	}
	if e <= 0 {
		return Descriptor{}, Errorf(op, ErrInvalidShape, "e=%d", e)
	}
	return Descriptor{kind: KindReduceSquared, in: dt, out: dt, m: 1, n: e, lda: e}, nil
}

// NewScaleAccumulateDescriptor describes out[i] += in[i]*scale over e
// elements, out having row stride ldo.
func NewScaleAccumulateDescriptor(dt Datatype, e, ldo int) (Descriptor, error) {
	const op = "scale_accumulate descriptor"
	if dt != F32 && dt != F64 {
		return Descriptor{}, Errorf(op, ErrUnsupportedDatatype, "%s", dt)
	}
	if e <= 0 || ldo < e {
		return Descriptor{}, Errorf(op, ErrInvalidShape, "e=%d ldo=%d", e, ldo)
	}
	return Descriptor{kind: KindScaleAccumulate, in: dt, out: dt, m: 1, n: e, lda: e, ldc: ldo}, nil
}

func (d Descriptor) Kind() Kind { return d.kind }
func (d Descriptor) In() Datatype { return d.in }
func (d Descriptor) Out() Datatype { return d.out }
func (d Descriptor) Index() Datatype { return d.idx }
func (d Descriptor) Flags() Flags { return d.flags }
func (d Descriptor) Prefetch() Prefetch { return d.prefetch }
func (d Descriptor) M() int { return d.m }
func (d Descriptor) N() int { return d.n }
func (d Descriptor) K() int { return d.k }
func (d Descriptor) LDA() int { return d.lda }
func (d Descriptor) LDB() int { return d.ldb }
func (d Descriptor) LDC() int { return d.ldc }
func (d Descriptor) IsZero() bool { return d == Descriptor{} }
func (d Descriptor) Accumulates() bool { return !d.flags.Has(FlagBeta0) }
func (d Descriptor) HasFlags(f Flags) bool { return d.flags.Has(f) }

// WithFlags returns a copy of d with the execution flags (FlagStatistic,
// FlagSequential, FlagSynchronized) in f added. Other bits are ignored since
// they would describe a different kernel.
func (d Descriptor) WithFlags(f Flags) Descriptor {
	d.flags |= f & executionFlags
	return d
}

// Kernel returns d stripped of execution-only flags: the identity of the
// generated code.
func (d Descriptor) Kernel() Descriptor {
	d.flags &^= executionFlags
	return d
}

// ProblemSize returns m·n·k for GEMM and m·n otherwise.
func (d Descriptor) ProblemSize() int {
	if d.kind == KindGEMM {
		return d.m * d.n * d.k
	}
	return d.m * d.n
}

// OperandLengths returns the minimum number of elements of A, B and C that a
// GEMM described by d reads or writes.
func (d Descriptor) OperandLengths() (a, b, c int) {
	rowsA, colsA := d.m, d.k
	if d.flags.Has(FlagTransA) {
		rowsA, colsA = d.k, d.m
	}
	rowsB, colsB := d.k, d.n
	if d.flags.Has(FlagTransB) {
		rowsB, colsB = d.n, d.k
	}
	return (rowsA-1)*d.lda + colsA, (rowsB-1)*d.ldb + colsB, (d.m-1)*d.ldc + d.n
}

// Key returns a compact binary encoding of d.
func (d Descriptor) Key() string {
	buf := make([]byte, 0, 48)
	buf = append(buf, byte(d.kind), byte(d.in), byte(d.out), byte(d.idx), byte(d.prefetch))
	buf = binary.AppendUvarint(buf, uint64(d.flags))
	for _, v := range [...]int{d.m, d.n, d.k, d.lda, d.ldb, d.ldc} {
		buf = binary.AppendUvarint(buf, uint64(v))
	}
	return string(buf)
}

// String prints a BLAS-like signature of d, e.g.
// sgemm('N','N',8,8,8,1,a,8,b,8,0,c,8).
func (d Descriptor) String() string {
	switch d.kind {
	case KindGEMM:
		ta, tb := 'N', 'N'
		if d.flags.Has(FlagTransA) {
			ta = 'T'
		}
		if d.flags.Has(FlagTransB) {
			tb = 'T'
		}
		beta := 1
		if d.flags.Has(FlagBeta0) {
			beta = 0
		}
		return fmt.Sprintf("%sgemm('%c','%c',%d,%d,%d,1,a,%d,b,%d,%d,c,%d)",
			gemmPrefix(d.in), ta, tb, d.m, d.n, d.k, d.lda, d.ldb, beta, d.ldc)
	case KindTranspose:
		return fmt.Sprintf("%strans(%d,%d,%d,%d)", gemmPrefix(d.in), d.m, d.n, d.lda, d.ldc)
	case KindReduceColsIdx:
		return fmt.Sprintf("reduce_cols_idx(%s,%s,%d,%d)", d.in, d.idx, d.n, d.lda)
	case KindReduceSquared:
		return fmt.Sprintf("reduce_squared(%s,%d)", d.in, d.n)
	case KindScaleAccumulate:
		return fmt.Sprintf("scale_accumulate(%s,%d,%d)", d.in, d.n, d.ldc)
	}
	return "invalid"
}

func gemmPrefix(dt Datatype) string {
	switch dt {
	case F64:
		return "d"
	case F32:
		return "s"
	case BF16:
		return "b"
	case F16:
		return "h"
	}
	return dt.String()
}
