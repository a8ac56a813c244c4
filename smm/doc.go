// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Package smm is the core of a small-matrix kernel runtime: it describes a
// kernel specialization with an immutable Descriptor, detects the SIMD level
// that kernels are specialized for, and carries the configuration, error
// taxonomy, diagnostics and aligned allocation shared by the contrib packages.
//
// The heavy lifting lives in contrib:
//
//   - contrib/kernel: kernel cache (compile on first use, reuse afterwards)
//   - contrib/batch: batched and recorded multiplications
//   - contrib/sparse: forward/backward sparse index structures
//   - contrib/embedding: fused sparse AdaGrad update of embedding tables
//
// Basic usage:
//
//	d, err := smm.NewGEMMDescriptor(smm.F32, smm.F32, 8, 8, 8, 8, 8, 8, 1, 0, 0, smm.PrefetchNone)
//	if err != nil {
//	    return err
//	}
//	k, err := kernel.DefaultCache().Dispatch(d)
//	if err != nil {
//	    return err
//	}
//	return kernel.InvokeGEMM(k, a, b, c)
package smm
