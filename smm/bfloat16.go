// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package smm

import "math"

// BFloat16 is the upper half of an IEEE float32: 1 sign bit, 8 exponent
// bits and 7 mantissa bits. BF16 kernels widen it to float32 and
// accumulate in float32.
type BFloat16 uint16

const (
	BFloat16Zero BFloat16 = 0x0000
	BFloat16One  BFloat16 = 0x3F80
	BFloat16Inf  BFloat16 = 0x7F80
	BFloat16NaN  BFloat16 = 0x7FC0
)

const (
	bf16QuietBit = 0x0040
	bf16ExpMask  = 0x7F80
	bf16MantMask = 0x007F
	f32AbsMask   = 0x7FFFFFFF
	f32ExpMask   = 0x7F800000
)

// ToBF16 rounds f to the nearest BFloat16, ties to even. NaNs stay NaN.
func ToBF16(f float32) BFloat16 {
	u := math.Float32bits(f)
	if u&f32AbsMask > f32ExpMask {
		return BFloat16(u>>16) | bf16QuietBit
	}
	u += 0x7FFF + (u>>16)&1
	return BFloat16(u >> 16)
}

// Float32 widens b exactly.
func (b BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(b) << 16)
}

// IsNaN reports whether b encodes a NaN.
func (b BFloat16) IsNaN() bool {
	return b&bf16ExpMask == bf16ExpMask && b&bf16MantMask != 0
}

// BFloat16sToFloat32 widens src into dst[:len(src)].
func BFloat16sToFloat32(src []BFloat16, dst []float32) {
	dst = dst[:len(src)]
	for i, v := range src {
		dst[i] = v.Float32()
	}
}

// Float32sToBFloat16 rounds src into dst[:len(src)].
func Float32sToBFloat16(src []float32, dst []BFloat16) {
	dst = dst[:len(src)]
	for i, v := range src {
		dst[i] = ToBF16(v)
	}
}
