// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package batch

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/ajroetker/go-smm/smm"
)

// Recorder turns individual multiplications into batches. Between Begin(d)
// and End, calls matching d are appended to a fixed-capacity ring and
// executed together when the ring fills, when a call with another
// descriptor arrives, or at End. Begin/End pairs nest up to
// Config.MaxDepth; deeper Begins run their calls eagerly.
//
// Every method attempts the recorder lock without blocking. A GEMM that finds
// the lock taken executes eagerly as if recording were inactive; Begin and
// End return smm.ErrRecorderBusy.
//
// Recorded operands are referenced, not copied: they must stay valid and
// unmodified until the batch is flushed.
type Recorder[In smm.Floats, Out smm.Outputs] struct {
	s  *Scheduler
	mu sync.Mutex

	frame frame
	ring  Triples[In, Out]
	stack []frame

	// overflow counts Begins past the maximum depth not yet matched by End.
	// suspended is the frame they interrupted.
	overflow  int
	suspended frame

	stats map[statKey]int
}

type frame struct {
	desc      smm.Descriptor
	active    bool
	statistic bool
}

// NewRecorder returns an inactive recorder executing batches through s.
func NewRecorder[In smm.Floats, Out smm.Outputs](s *Scheduler) *Recorder[In, Out] {
	return &Recorder[In, Out]{
		s:     s,
		ring:  make(Triples[In, Out], 0, s.cfg.BatchCapacity),
		stack: make([]frame, 0, s.cfg.MaxDepth),
		stats: make(map[statKey]int),
	}
}

func busy(op string) error {
	return &smm.Error{Op: op, Err: smm.ErrRecorderBusy}
}

// Begin starts recording calls matching d. With FlagStatistic set on d,
// calls of any shape are executed eagerly and counted instead; the report
// is produced by the matching End. A batch pending for the enclosing Begin
// is flushed first.
func (r *Recorder[In, Out]) Begin(ctx context.Context, d smm.Descriptor) error {
	if !r.mu.TryLock() {
		return busy("recorder begin")
	}
	defer r.mu.Unlock()

	statistic := d.HasFlags(smm.FlagStatistic)
	if !statistic {
		if d.Kind() != smm.KindGEMM {
			return smm.Errorf("recorder begin", smm.ErrInvalidShape, "%v is not a multiplication", d)
		}
		if d.In() != smm.DatatypeOf[In]() || d.Out() != smm.DatatypeOf[Out]() {
			return smm.Errorf("recorder begin", smm.ErrDatatypeMismatch, "%v", d)
		}
	}

	_, err := r.flush(ctx)
	if r.overflow > 0 || len(r.stack) >= r.s.cfg.MaxDepth {
		if r.overflow == 0 {
			r.suspended = r.frame
		}
		r.overflow++
		r.frame = frame{}
		return errors.Join(err, smm.Errorf("recorder begin", smm.ErrRecordingDepthExceeded,
			"depth %d, recording disabled until the matching end", r.s.cfg.MaxDepth+r.overflow))
	}
	r.stack = append(r.stack, r.frame)
	r.frame = frame{desc: d, active: true, statistic: statistic}
	return err
}

// BeginStatistics starts a statistics frame.
func (r *Recorder[In, Out]) BeginStatistics(ctx context.Context) error {
	return r.Begin(ctx, smm.Descriptor{}.WithFlags(smm.FlagStatistic))
}

// End flushes the current frame and restores the one saved by the matching
// Begin. For a statistics frame it returns the reported shapes. End without
// a matching Begin does nothing.
func (r *Recorder[In, Out]) End(ctx context.Context) ([]Stat, error) {
	if !r.mu.TryLock() {
		return nil, busy("recorder end")
	}
	defer r.mu.Unlock()

	if r.overflow > 0 {
		r.overflow--
		if r.overflow == 0 {
			r.frame, r.suspended = r.suspended, frame{}
		}
		return nil, nil
	}
	if len(r.stack) == 0 {
		return nil, nil
	}
	stats, err := r.flush(ctx)
	top := len(r.stack) - 1
	r.frame = r.stack[top]
	r.stack = r.stack[:top]
	return stats, err
}

// Flush executes the pending batch (or reports pending statistics) without
// leaving the current frame.
func (r *Recorder[In, Out]) Flush(ctx context.Context) ([]Stat, error) {
	if !r.mu.TryLock() {
		return nil, busy("recorder flush")
	}
	defer r.mu.Unlock()
	return r.flush(ctx)
}

// GEMM records one multiplication, or executes it right away when the
// recorder is inactive, busy, counting statistics, or recording another
// descriptor.
func (r *Recorder[In, Out]) GEMM(ctx context.Context, d smm.Descriptor, a, b []In, c []Out) error {
	if a == nil || b == nil || c == nil {
		return smm.Errorf("recorder gemm", smm.ErrDataNotBound, "%v", d)
	}
	if !r.mu.TryLock() {
		return r.eager(ctx, d, a, b, c)
	}
	switch {
	case !r.frame.active:
		r.mu.Unlock()
		return r.eager(ctx, d, a, b, c)

	case r.frame.statistic:
		var err error
		r.stats[statKey{desc: d.Kernel(), symbol: callerSymbol(1)}]++
		if len(r.stats) >= r.s.cfg.BatchCapacity {
			_, err = r.flush(ctx)
		}
		r.mu.Unlock()
		return errors.Join(err, r.eager(ctx, d, a, b, c))

	case d.Kernel() != r.frame.desc.Kernel():
		_, err := r.flush(ctx)
		r.mu.Unlock()
		return errors.Join(err, r.eager(ctx, d, a, b, c))
	}

	var err error
	r.ring = append(r.ring, Triple[In, Out]{A: a, B: b, C: c})
	if len(r.ring) == cap(r.ring) {
		_, err = r.flush(ctx)
	}
	r.mu.Unlock()
	return err
}

// Depth returns the number of open Begin calls, including those past the
// maximum depth.
func (r *Recorder[In, Out]) Depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stack) + r.overflow
}

// Active returns the descriptor being recorded and whether recording is on.
func (r *Recorder[In, Out]) Active() (smm.Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frame.desc, r.frame.active
}

// Pending returns the number of recorded, not yet executed calls.
func (r *Recorder[In, Out]) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ring)
}

// flush executes the ring or reports statistics. r.mu must be held.
func (r *Recorder[In, Out]) flush(ctx context.Context) ([]Stat, error) {
	if r.frame.statistic {
		if len(r.stats) == 0 {
			return nil, nil
		}
		stats := report(r.s.cfg.Output(), &r.s.cfg, r.stats)
		clear(r.stats)
		return stats, nil
	}
	if len(r.ring) == 0 {
		return nil, nil
	}
	err := GEMMBatch(ctx, r.s, r.frame.desc, r.ring)
	clear(r.ring)
	r.ring = r.ring[:0]
	return nil, err
}

func (r *Recorder[In, Out]) eager(ctx context.Context, d smm.Descriptor, a, b []In, c []Out) error {
	return GEMMBatch(ctx, r.s, d, Triples[In, Out]{{A: a, B: b, C: c}})
}

// callerSymbol names the function skip frames above its caller.
func callerSymbol(skip int) string {
	var pcs [1]uintptr
	if runtime.Callers(skip+2, pcs[:]) == 0 {
		return ""
	}
	f, _ := runtime.CallersFrames(pcs[:]).Next()
	return f.Function
}
