// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package smm

import "testing"

func TestLanes(t *testing.T) {
	tests := []struct {
		level DispatchLevel
		dt    Datatype
		want  int
	}{
		{DispatchScalar, F32, 1},
		{DispatchSSE2, F32, 4},
		{DispatchNEON, F64, 2},
		{DispatchAVX2, F32, 8},
		{DispatchAVX512, F64, 8},
		{DispatchAVX512, BF16, 32},
		{DispatchAVX2, DatatypeInvalid, 1},
	}
	for _, tt := range tests {
		if got := Lanes(tt.level, tt.dt); got != tt.want {
			t.Errorf("Lanes(%v, %v) = %d, want %d", tt.level, tt.dt, got, tt.want)
		}
	}
}

func TestCurrentLevel(t *testing.T) {
	if CurrentWidth() < 16 {
		t.Errorf("CurrentWidth() = %d, want at least 16", CurrentWidth())
	}
	if NoSimdEnv() && CurrentLevel() != DispatchScalar {
		t.Errorf("CurrentLevel() = %v with SMM_NO_SIMD set", CurrentLevel())
	}
	t.Logf("dispatch level %v, width %d", CurrentLevel(), CurrentWidth())
}

func TestDatatypeOf(t *testing.T) {
	if got := DatatypeOf[float32](); got != F32 {
		t.Errorf("DatatypeOf[float32]() = %v", got)
	}
	if got := DatatypeOf[BFloat16](); got != BF16 {
		t.Errorf("DatatypeOf[BFloat16]() = %v", got)
	}
	if got := DatatypeOf[int64](); got != I64 {
		t.Errorf("DatatypeOf[int64]() = %v", got)
	}
}

func TestDispatchLevelString(t *testing.T) {
	for level, want := range map[DispatchLevel]string{
		DispatchScalar: "scalar",
		DispatchAVX512: "avx512",
		DispatchSVE:    "sve",
		42:             "unknown",
	} {
		if got := level.String(); got != want {
			t.Errorf("DispatchLevel(%d).String() = %q, want %q", level, got, want)
		}
	}
	if DispatchScalar.Width() != 16 || DispatchAVX2.Width() != 32 || DispatchAVX512.Width() != 64 {
		t.Errorf("unexpected register widths")
	}
}

func TestNoSimdEnv(t *testing.T) {
	for v, want := range map[string]bool{"": false, "0": false, "false": false, "1": true, "yes": true} {
		t.Setenv("SMM_NO_SIMD", v)
		if got := NoSimdEnv(); got != want {
			t.Errorf("SMM_NO_SIMD=%q: NoSimdEnv() = %v, want %v", v, got, want)
		}
	}
}
