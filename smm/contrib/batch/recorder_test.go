// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package batch

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/ajroetker/go-smm/smm"
	"github.com/ajroetker/go-smm/smm/contrib/workerpool"
)

func record(t *testing.T, r *Recorder[float32, float32], d smm.Descriptor, items Triples[float32, float32]) {
	t.Helper()
	for _, it := range items {
		if err := r.GEMM(context.Background(), d, it.A, it.B, it.C); err != nil {
			t.Fatalf("GEMM: %v", err)
		}
	}
}

func TestRecorderFlushWhenFull(t *testing.T) {
	s := newTestScheduler(t, 2, func(c *smm.Config) { c.BatchCapacity = 4 })
	r := NewRecorder[float32, float32](s)
	ctx := context.Background()
	d := gemmDesc(t, 3, 3, 3, 0)
	items, want := testBatch(t, rand.New(rand.NewPCG(1, 2)), d, 4)
	before := make([][]float32, len(items))
	for i := range items {
		before[i] = slices.Clone(items[i].C)
	}

	if err := r.Begin(ctx, d); err != nil {
		t.Fatal(err)
	}
	record(t, r, d, items[:3])
	if got := r.Pending(); got != 3 {
		t.Fatalf("Pending = %d, want 3", got)
	}
	for i := range 3 {
		if !slices.Equal(items[i].C, before[i]) {
			t.Fatalf("member %d executed before the batch was flushed", i)
		}
	}
	record(t, r, d, items[3:])
	if got := r.Pending(); got != 0 {
		t.Fatalf("Pending after filling the ring = %d, want 0", got)
	}
	checkBatch(t, items, want)
	if _, err := r.End(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestRecorderEndFlushes(t *testing.T) {
	s := newTestScheduler(t, 2, nil)
	r := NewRecorder[float32, float32](s)
	ctx := context.Background()
	d := gemmDesc(t, 2, 5, 3, 1)
	items, want := testBatch(t, rand.New(rand.NewPCG(3, 4)), d, 7)

	if err := r.Begin(ctx, d); err != nil {
		t.Fatal(err)
	}
	record(t, r, d, items)
	if stats, err := r.End(ctx); err != nil || stats != nil {
		t.Fatalf("End = %v, %v", stats, err)
	}
	checkBatch(t, items, want)
	if _, active := r.Active(); active {
		t.Errorf("recorder still active after End")
	}
}

func TestRecorderNoSyncFlush(t *testing.T) {
	s := newTestScheduler(t, 2, func(c *smm.Config) {
		c.Tasks = true
		c.NoSync = true
		c.BatchCapacity = 128
	})
	r := NewRecorder[float32, float32](s)
	ctx := workerpool.WithExternalParallelism(context.Background(), 4)
	d := gemmDesc(t, 16, 16, 16, 0)
	items, want := testBatch(t, rand.New(rand.NewPCG(5, 6)), d, 512)

	if err := r.Begin(ctx, d); err != nil {
		t.Fatal(err)
	}
	for _, it := range items {
		if err := r.GEMM(ctx, d, it.A, it.B, it.C); err != nil {
			t.Fatalf("GEMM: %v", err)
		}
	}
	if _, err := r.End(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	checkBatch(t, items, want)
}

func TestRecorderMismatchFlushes(t *testing.T) {
	s := newTestScheduler(t, 2, nil)
	r := NewRecorder[float32, float32](s)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(5, 6))
	d1, d2 := gemmDesc(t, 2, 2, 2, 0), gemmDesc(t, 4, 3, 2, 0)
	items1, want1 := testBatch(t, rng, d1, 2)
	items2, want2 := testBatch(t, rng, d2, 1)

	if err := r.Begin(ctx, d1); err != nil {
		t.Fatal(err)
	}
	record(t, r, d1, items1)
	if r.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", r.Pending())
	}
	record(t, r, d2, items2)
	if r.Pending() != 0 {
		t.Fatalf("Pending after a mismatched call = %d, want 0", r.Pending())
	}
	checkBatch(t, items1, want1)
	checkBatch(t, items2, want2)
	if got, _ := r.Active(); got != d1 {
		t.Errorf("active descriptor = %v, want %v", got, d1)
	}

	// Execution flags do not make a call mismatch.
	items3, want3 := testBatch(t, rng, d1, 1)
	record(t, r, d1.WithFlags(smm.FlagSequential), items3)
	if r.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", r.Pending())
	}
	if _, err := r.End(ctx); err != nil {
		t.Fatal(err)
	}
	checkBatch(t, items3, want3)
}

func TestRecorderInactiveRunsEagerly(t *testing.T) {
	s := newTestScheduler(t, 2, nil)
	r := NewRecorder[float32, float32](s)
	d := gemmDesc(t, 3, 2, 4, 0)
	items, want := testBatch(t, rand.New(rand.NewPCG(7, 8)), d, 3)
	record(t, r, d, items)
	checkBatch(t, items, want)

	if err := r.GEMM(context.Background(), d, nil, items[0].B, items[0].C); !errors.Is(err, smm.ErrDataNotBound) {
		t.Errorf("nil A: %v, want ErrDataNotBound", err)
	}
	if stats, err := r.End(context.Background()); stats != nil || err != nil {
		t.Errorf("End without Begin = %v, %v", stats, err)
	}
}

func TestRecorderNesting(t *testing.T) {
	s := newTestScheduler(t, 2, nil)
	r := NewRecorder[float32, float32](s)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(9, 10))
	d1, d2 := gemmDesc(t, 2, 3, 4, 1), gemmDesc(t, 5, 5, 5, 1)
	items1, want1 := testBatch(t, rng, d1, 3)
	items2, want2 := testBatch(t, rng, d2, 2)

	wantDesc, wantActive := r.Active()
	if err := r.Begin(ctx, d1); err != nil {
		t.Fatal(err)
	}
	record(t, r, d1, items1)
	if err := r.Begin(ctx, d2); err != nil {
		t.Fatal(err)
	}
	if r.Pending() != 0 {
		t.Fatalf("inner Begin left %d calls pending", r.Pending())
	}
	checkBatch(t, items1, want1)
	if got, _ := r.Active(); got != d2 || r.Depth() != 2 {
		t.Fatalf("inner frame = %v at depth %d", got, r.Depth())
	}
	record(t, r, d2, items2)
	if _, err := r.End(ctx); err != nil {
		t.Fatal(err)
	}
	checkBatch(t, items2, want2)
	if got, active := r.Active(); got != d1 || !active || r.Depth() != 1 {
		t.Fatalf("after inner End: %v active=%v depth=%d", got, active, r.Depth())
	}
	if _, err := r.End(ctx); err != nil {
		t.Fatal(err)
	}
	if got, active := r.Active(); got != wantDesc || active != wantActive || r.Depth() != 0 {
		t.Errorf("after outer End: %v active=%v depth=%d", got, active, r.Depth())
	}
}

func TestRecorderDepthExceeded(t *testing.T) {
	s := newTestScheduler(t, 2, func(c *smm.Config) { c.MaxDepth = 2 })
	r := NewRecorder[float32, float32](s)
	ctx := context.Background()
	d := gemmDesc(t, 2, 2, 3, 0)

	for range 2 {
		if err := r.Begin(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	for range 2 {
		if err := r.Begin(ctx, d); !errors.Is(err, smm.ErrRecordingDepthExceeded) {
			t.Fatalf("Begin past the maximum depth: %v", err)
		}
	}
	if _, active := r.Active(); active {
		t.Fatalf("recording still active past the maximum depth")
	}
	items, want := testBatch(t, rand.New(rand.NewPCG(11, 12)), d, 2)
	record(t, r, d, items)
	if r.Pending() != 0 {
		t.Fatalf("calls past the maximum depth were recorded")
	}
	checkBatch(t, items, want)

	for _, wantDepth := range []int{3, 2} {
		if _, err := r.End(ctx); err != nil {
			t.Fatal(err)
		}
		if r.Depth() != wantDepth {
			t.Fatalf("Depth = %d, want %d", r.Depth(), wantDepth)
		}
	}
	if got, active := r.Active(); got != d || !active {
		t.Fatalf("suspended frame not restored: %v active=%v", got, active)
	}
	for range 2 {
		if _, err := r.End(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if r.Depth() != 0 {
		t.Errorf("Depth = %d after matching every Begin", r.Depth())
	}
}

func TestRecorderBeginErrors(t *testing.T) {
	s := newTestScheduler(t, 1, nil)
	r := NewRecorder[float32, float32](s)
	ctx := context.Background()
	td, _ := smm.NewTransposeDescriptor(smm.F32, 3, 3, 3, 3)
	if err := r.Begin(ctx, td); !errors.Is(err, smm.ErrInvalidShape) {
		t.Errorf("Begin(transpose) = %v, want ErrInvalidShape", err)
	}
	d64, _ := smm.NewGEMMDescriptor(smm.F64, smm.F64, 2, 2, 2, 2, 2, 2, 1, 0, 0, smm.PrefetchNone)
	if err := r.Begin(ctx, d64); !errors.Is(err, smm.ErrDatatypeMismatch) {
		t.Errorf("Begin(f64) = %v, want ErrDatatypeMismatch", err)
	}
	if r.Depth() != 0 {
		t.Errorf("failed Begin changed the depth to %d", r.Depth())
	}
}

func TestRecorderBusy(t *testing.T) {
	s := newTestScheduler(t, 1, nil)
	r := NewRecorder[float32, float32](s)
	ctx := context.Background()
	d := gemmDesc(t, 2, 3, 2, 0)
	if err := r.Begin(ctx, d); err != nil {
		t.Fatal(err)
	}

	r.mu.Lock()
	if err := r.Begin(ctx, d); !errors.Is(err, smm.ErrRecorderBusy) {
		t.Errorf("Begin on a busy recorder: %v", err)
	}
	if _, err := r.End(ctx); !errors.Is(err, smm.ErrRecorderBusy) {
		t.Errorf("End on a busy recorder: %v", err)
	}
	items, want := testBatch(t, rand.New(rand.NewPCG(13, 14)), d, 1)
	record(t, r, d, items)
	checkBatch(t, items, want)
	r.mu.Unlock()

	if r.Pending() != 0 {
		t.Errorf("busy call was recorded")
	}
	if _, err := r.End(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestRecorderStatistics(t *testing.T) {
	var out bytes.Buffer
	s := newTestScheduler(t, 2, func(c *smm.Config) { c.Writer = &out })
	r := NewRecorder[float32, float32](s)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(15, 16))
	d1, d2 := gemmDesc(t, 3, 3, 3, 0), gemmDesc(t, 2, 4, 6, 0)
	items1, want1 := testBatch(t, rng, d1, 10)
	items2, want2 := testBatch(t, rng, d2, 1)

	if err := r.BeginStatistics(ctx); err != nil {
		t.Fatal(err)
	}
	record(t, r, d1, items1)
	record(t, r, d2, items2)
	checkBatch(t, items1, want1)
	checkBatch(t, items2, want2)

	stats, err := r.End(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d stats, want 2: %+v", len(stats), stats)
	}
	if stats[0].Descriptor != d1 || stats[0].Count != 10 || stats[0].Percent != 91 {
		t.Errorf("first stat = %+v", stats[0])
	}
	if stats[1].Descriptor != d2 || stats[1].Count != 1 || stats[1].Percent != 9 {
		t.Errorf("second stat = %+v", stats[1])
	}
	if !strings.HasSuffix(stats[0].Symbol, ".record") {
		t.Errorf("symbol = %q, want the recording helper", stats[0].Symbol)
	}
	if !strings.Contains(out.String(), "SMM STATISTIC: 11 multiplications") {
		t.Errorf("report header missing from %q", out.String())
	}
	if !strings.Contains(out.String(), d1.String()+": 91%") {
		t.Errorf("report line for %v missing from %q", d1, out.String())
	}
	if r.Depth() != 0 {
		t.Errorf("Depth = %d after End", r.Depth())
	}
}

func TestRecorderStatisticsCapacity(t *testing.T) {
	var out bytes.Buffer
	s := newTestScheduler(t, 2, func(c *smm.Config) {
		c.Writer = &out
		c.BatchCapacity = 2
	})
	r := NewRecorder[float32, float32](s)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(21, 22))
	d1, d2, d3 := gemmDesc(t, 2, 2, 2, 0), gemmDesc(t, 3, 3, 3, 0), gemmDesc(t, 4, 4, 4, 0)
	items1, _ := testBatch(t, rng, d1, 3)
	items2, _ := testBatch(t, rng, d2, 1)
	items3, _ := testBatch(t, rng, d3, 2)

	if err := r.BeginStatistics(ctx); err != nil {
		t.Fatal(err)
	}
	record(t, r, d1, items1)
	record(t, r, d2, items2) // second distinct shape fills the table
	record(t, r, d3, items3)
	stats, err := r.End(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 1 || stats[0].Descriptor != d3 || stats[0].Count != 2 || stats[0].Percent != 100 {
		t.Errorf("End stats = %+v, want only %v counted twice", stats, d3)
	}
	report := out.String()
	if got := strings.Count(report, "SMM STATISTIC:"); got != 2 {
		t.Errorf("got %d reports, want 2:\n%s", got, report)
	}
	if !strings.Contains(report, "SMM STATISTIC: 4 multiplications") || !strings.Contains(report, "SMM STATISTIC: 2 multiplications") {
		t.Errorf("unexpected report totals:\n%s", report)
	}
}

func TestReport(t *testing.T) {
	descs := make([]smm.Descriptor, 5)
	for i := range descs {
		descs[i] = gemmDesc(t, i+1, 2, 2, 0)
	}
	tests := []struct {
		name      string
		verbosity int
		counts    []int
		want      []int // reported counts
	}{
		{name: "below half of the top dropped", counts: []int{10, 6, 5, 4, 3}, want: []int{10, 6}},
		{name: "few shapes all reported", counts: []int{10, 1, 1}, want: []int{10, 1, 1}},
		{name: "zero percent stops", verbosity: smm.VerbosityDebug, counts: []int{1000, 1, 1, 1}, want: []int{1000}},
		{name: "verbose lifts threshold", verbosity: smm.VerbosityDebug, counts: []int{10, 6, 5, 4, 3}, want: []int{10, 6, 5, 4, 3}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := smm.DefaultConfig()
			cfg.Verbosity = tc.verbosity
			counts := make(map[statKey]int)
			for i, n := range tc.counts {
				counts[statKey{desc: descs[i], symbol: "f"}] = n
			}
			var out bytes.Buffer
			stats := report(&out, &cfg, counts)
			var got []int
			for _, s := range stats {
				got = append(got, s.Count)
			}
			if !slices.Equal(got, tc.want) {
				t.Errorf("reported counts %v, want %v\n%s", got, tc.want, out.String())
			}
		})
	}

	cfg := smm.DefaultConfig()
	var out bytes.Buffer
	if stats := report(&out, &cfg, map[statKey]int{}); stats != nil || out.Len() != 0 {
		t.Errorf("empty report = %v, %q", stats, out.String())
	}
}
