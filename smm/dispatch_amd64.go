// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

//go:build amd64

package smm

import "golang.org/x/sys/cpu"

func detectHost() (DispatchLevel, bool) {
	x := &cpu.X86
	switch {
	case x.HasAVX512F && x.HasAVX512BW && x.HasAVX512VL:
		return DispatchAVX512, x.HasAVX512BF16
	case x.HasAVX2 && x.HasFMA:
		return DispatchAVX2, false
	case x.HasSSE2:
		return DispatchSSE2, false
	}
	return DispatchScalar, false
}
