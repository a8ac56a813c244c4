// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

//go:build unix

package smm

import "golang.org/x/sys/unix"

// mapPages maps anonymous memory for requests of at least one page whose
// alignment the page boundary satisfies. ok is false when the request should
// come from the heap instead.
func mapPages(size, alignment int) (buf []byte, ok bool, err error) {
	page := unix.Getpagesize()
	if size < page || alignment > page {
		return nil, false, nil
	}
	buf, err = unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	return buf, true, err
}

func unmapPages(buf []byte) error {
	return unix.Munmap(buf)
}
