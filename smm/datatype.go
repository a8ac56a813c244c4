// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package smm

import "github.com/x448/float16"

// Datatype identifies the element type of a kernel operand.
type Datatype uint8

const (
	// DatatypeInvalid is the zero value and never names a real operand.
	DatatypeInvalid Datatype = iota
	F64
	F32
	BF16
	F16
	I32
	I64
)

// String returns the short BLAS-like prefix of the datatype.
func (dt Datatype) String() string {
	switch dt {
	case F64:
		return "f64"
	case F32:
		return "f32"
	case BF16:
		return "bf16"
	case F16:
		return "f16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	default:
		return "invalid"
	}
}

// Size returns the element size in bytes, 0 for DatatypeInvalid.
func (dt Datatype) Size() int {
	switch dt {
	case F64, I64:
		return 8
	case F32, I32:
		return 4
	case BF16, F16:
		return 2
	default:
		return 0
	}
}

// IsFloat reports whether dt is a floating-point format.
func (dt Datatype) IsFloat() bool {
	switch dt {
	case F64, F32, BF16, F16:
		return true
	}
	return false
}

// IsIndex reports whether dt can be used for gather indices.
func (dt Datatype) IsIndex() bool {
	return dt == I32 || dt == I64
}

// Floats is the constraint for kernel input elements.
type Floats interface {
	float32 | float64 | BFloat16 | float16.Float16
}

// Outputs is the constraint for kernel output (accumulation) elements.
type Outputs interface {
	float32 | float64
}

// Indices is the constraint for gather index elements.
type Indices interface {
	int32 | int64
}

// Elements is the constraint for operands that are only moved (transposed).
type Elements interface {
	Floats | Indices
}

// DatatypeOf returns the Datatype describing T.
func DatatypeOf[T Elements]() Datatype {
	var zero T
	switch any(zero).(type) {
	case float64:
		return F64
	case float32:
		return F32
	case BFloat16:
		return BF16
	case float16.Float16:
		return F16
	case int32:
		return I32
	case int64:
		return I64
	}
	return DatatypeInvalid
}

// Float16sToFloat32 widens IEEE half-precision values into dst.
func Float16sToFloat32(src []float16.Float16, dst []float32) {
	dst = dst[:len(src)]
	for i, v := range src {
		dst[i] = v.Float32()
	}
}
