// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package smm

import (
	"os"
	"strconv"
)

// DispatchLevel names the instruction set a kernel is specialized for. It
// is part of what a compiler sees, not of the Descriptor: one process
// specializes for one level.
type DispatchLevel uint8

const (
	DispatchScalar DispatchLevel = iota
	DispatchSSE2
	DispatchAVX2
	DispatchAVX512
	DispatchNEON
	// DispatchSVE kernels use NEON-sized lanes.
	DispatchSVE
)

var levelNames = [...]string{"scalar", "sse2", "avx2", "avx512", "neon", "sve"}

func (d DispatchLevel) String() string {
	if int(d) < len(levelNames) {
		return levelNames[d]
	}
	return "unknown"
}

// Width returns the register width in bytes assumed at level d. Scalar
// kernels still block their loops by 16 bytes.
func (d DispatchLevel) Width() int {
	switch d {
	case DispatchAVX2:
		return 32
	case DispatchAVX512:
		return 64
	default:
		return 16
	}
}

// IsSIMD reports whether the level has vector registers wider than one lane.
func (d DispatchLevel) IsSIMD() bool {
	return d != DispatchScalar
}

// host is detected once at start-up.
var host struct {
	level DispatchLevel
	bf16  bool
}

func init() {
	if NoSimdEnv() {
		return
	}
	host.level, host.bf16 = detectHost()
}

// CurrentLevel returns the level kernels of this process are specialized for.
func CurrentLevel() DispatchLevel { return host.level }

// CurrentWidth returns the register width in bytes of CurrentLevel.
func CurrentWidth() int { return host.level.Width() }

// HasBF16 reports native bfloat16 dot-product support. BF16 kernels widen to
// float32 either way; the flag only feeds diagnostics.
func HasBF16() bool { return host.bf16 }

// Lanes returns how many elements of dt one register of level holds, at
// least 1.
func Lanes(level DispatchLevel, dt Datatype) int {
	if level == DispatchScalar || dt.Size() == 0 {
		return 1
	}
	return max(1, level.Width()/dt.Size())
}

// NoSimdEnv reports whether SMM_NO_SIMD asks for scalar kernels regardless
// of the CPU. Any non-empty value other than a false boolean counts.
func NoSimdEnv() bool {
	v, ok := os.LookupEnv("SMM_NO_SIMD")
	if !ok || v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err != nil || b
}
