// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package smm

import (
	"sync"
	"unsafe"
)

// CacheLine is the alignment used for tables and scratch buffers.
const CacheLine = 64

// Allocator hands out aligned byte buffers. Buffers are returned to the
// allocator with Free.
type Allocator interface {
	Alloc(size, alignment int) ([]byte, error)
	Free(buf []byte) error
}

// DefaultAllocator maps large requests straight from the operating system
// where supported and serves the rest from the Go heap.
var DefaultAllocator Allocator = &systemAllocator{mapped: make(map[uintptr][]byte)}

type systemAllocator struct {
	mu     sync.Mutex
	mapped map[uintptr][]byte
}

func (s *systemAllocator) Alloc(size, alignment int) ([]byte, error) {
	if size < 0 || alignment < 0 || alignment&(alignment-1) != 0 {
		return nil, Errorf("alloc", ErrAllocation, "size=%d alignment=%d", size, alignment)
	}
	if size == 0 {
		return nil, nil
	}
	if buf, ok, err := mapPages(size, alignment); ok {
		if err != nil {
			return nil, Errorf("alloc", ErrAllocation, "%d bytes: %v", size, err)
		}
		s.mu.Lock()
		s.mapped[uintptr(unsafe.Pointer(&buf[0]))] = buf
		s.mu.Unlock()
		return buf[:size:size], nil
	}
	return AlignedHeap(size, alignment), nil
}

func (s *systemAllocator) Free(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	key := uintptr(unsafe.Pointer(&buf[0]))
	s.mu.Lock()
	orig, ok := s.mapped[key]
	delete(s.mapped, key)
	s.mu.Unlock()
	if !ok {
		// Heap memory belongs to the garbage collector.
		return nil
	}
	return unmapPages(orig)
}

// AlignedHeap returns a heap slice of size bytes whose first element is
// aligned to alignment.
func AlignedHeap(size, alignment int) []byte {
	if alignment <= 1 {
		return make([]byte, size)
	}
	raw := make([]byte, size+alignment-1)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) & uintptr(alignment-1)); rem != 0 {
		off = alignment - rem
	}
	return raw[off : off+size : off+size]
}

// AllocFloat32 allocates n float32 values with the given byte alignment. The
// returned byte slice must be handed back to a.Free.
func AllocFloat32(a Allocator, n, alignment int) ([]float32, []byte, error) {
	if n == 0 {
		return nil, nil, nil
	}
	buf, err := a.Alloc(n*4, alignment)
	if err != nil {
		return nil, nil, err
	}
	clear(buf)
	return unsafe.Slice((*float32)(unsafe.Pointer(&buf[0])), n), buf, nil
}

// IsAligned reports whether the first element of s is aligned to alignment.
func IsAligned[T any](s []T, alignment int) bool {
	if len(s) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&s[0]))%uintptr(alignment) == 0
}

// Overlaps reports whether the memory of x and y intersects.
func Overlaps[T, U any](x []T, y []U) bool {
	if len(x) == 0 || len(y) == 0 {
		return false
	}
	x0 := uintptr(unsafe.Pointer(&x[0]))
	x1 := x0 + uintptr(len(x))*unsafe.Sizeof(x[0])
	y0 := uintptr(unsafe.Pointer(&y[0]))
	y1 := y0 + uintptr(len(y))*unsafe.Sizeof(y[0])
	return x0 < y1 && y0 < x1
}
