// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/ajroetker/go-smm/smm"
)

// Cache maps descriptors to compiled kernels. Entries are never evicted:
// the set of shapes a workload exercises is assumed small. Failed
// compilations are cached as well, so a declined descriptor is not retried.
type Cache struct {
	compiler Compiler
	cfg      smm.Config

	mu      sync.RWMutex
	entries map[smm.Descriptor]*entry

	group    singleflight.Group
	compiles atomic.Int64
}

type entry struct {
	kernel *Kernel
	err    error
	usage  atomic.Int64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithConfig sets the configuration used for compile diagnostics.
func WithConfig(cfg smm.Config) CacheOption {
	return func(c *Cache) { c.cfg = cfg }
}

// NewCache returns an empty cache backed by compiler.
func NewCache(compiler Compiler, opts ...CacheOption) *Cache {
	c := &Cache{
		compiler: compiler,
		cfg:      smm.DefaultConfig(),
		entries:  make(map[smm.Descriptor]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultCache = sync.OnceValue(func() *Cache {
	return NewCache(NativeCompiler{Level: smm.CurrentLevel()}, WithConfig(smm.ConfigFromEnv()))
})

// DefaultCache returns the process-wide cache using NativeCompiler at the
// detected dispatch level.
func DefaultCache() *Cache {
	return defaultCache()
}

// Dispatch returns the kernel for d, compiling it on first use. Concurrent
// misses for the same descriptor share one compilation and observe the same
// handle. Execution-only flags of d are ignored.
func (c *Cache) Dispatch(d smm.Descriptor) (*Kernel, error) {
	if d.IsZero() {
		return nil, &smm.Error{Op: "dispatch", Err: smm.ErrInvalidShape, Detail: "zero descriptor"}
	}
	d = d.Kernel()
	if e := c.lookup(d); e != nil {
		return e.kernel, e.err
	}
	v, _, _ := c.group.Do(d.Key(), func() (any, error) {
		// A concurrent flight may have published the entry meanwhile.
		if e := c.lookup(d); e != nil {
			return e, nil
		}
		e := &entry{}
		e.kernel, e.err = c.compile(d)
		c.mu.Lock()
		c.entries[d] = e
		c.mu.Unlock()
		return e, nil
	})
	e := v.(*entry)
	return e.kernel, e.err
}

func (c *Cache) lookup(d smm.Descriptor) *entry {
	c.mu.RLock()
	e := c.entries[d]
	c.mu.RUnlock()
	return e
}

func (c *Cache) compile(d smm.Descriptor) (*Kernel, error) {
	c.compiles.Add(1)
	k, err := c.compiler.Compile(d)
	switch {
	case err != nil:
		var se *smm.Error
		if !errors.As(err, &se) {
			err = &smm.Error{Op: "compile", Err: smm.ErrUnsupportedArchitecture, Detail: err.Error()}
		}
		smm.Debugf(&c.cfg, "smm: compile %v failed: %v", d, err)
		return nil, err
	case k == nil:
		smm.Debugf(&c.cfg, "smm: compile %v declined", d)
		return nil, smm.Errorf("compile", smm.ErrUnsupportedArchitecture, "%v declined", d)
	}
	smm.Debugf(&c.cfg, "smm: compiled %v (%v)", d, k.Variant())
	return k, nil
}

// Len returns the number of cached descriptors, failures included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Compiles returns how many times the compiler was invoked.
func (c *Cache) Compiles() int64 {
	return c.compiles.Load()
}

// AddUsage adds n invocations to the usage counter of d. It is a no-op for
// descriptors that were never dispatched.
func (c *Cache) AddUsage(d smm.Descriptor, n int) {
	if e := c.lookup(d.Kernel()); e != nil {
		e.usage.Add(int64(n))
	}
}

// Usage returns the usage counter of d.
func (c *Cache) Usage(d smm.Descriptor) int64 {
	if e := c.lookup(d.Kernel()); e != nil {
		return e.usage.Load()
	}
	return 0
}
