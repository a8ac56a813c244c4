// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

//go:build arm64

package smm

import (
	"os"

	"golang.org/x/sys/cpu"
)

func detectHost() (DispatchLevel, bool) {
	if !cpu.ARM64.HasASIMD {
		return DispatchScalar, false
	}
	if cpu.ARM64.HasSVE && os.Getenv("SMM_NO_SVE") == "" {
		return DispatchSVE, false
	}
	return DispatchNEON, false
}
