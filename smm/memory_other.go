// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

//go:build !unix

package smm

func mapPages(size, alignment int) ([]byte, bool, error) {
	return nil, false, nil
}

func unmapPages(buf []byte) error {
	return nil
}
