// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package sparse

import (
	"cmp"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/ajroetker/go-smm/smm/contrib/workerpool"
)

// minParallelSort is the pair count below which sorting stays on the caller.
const minParallelSort = 1 << 14

func byTarget(a, b Pair) int {
	return cmp.Compare(a.Target, b.Target)
}

// Transpose groups the indices of fwd by table row. Within a group the
// minibatch rows keep no particular order. A nil pool runs on the caller.
func Transpose(pool *workerpool.Pool, fwd *CSR) *Grouped {
	ns := fwd.NNZ()
	if ns == 0 {
		return &Grouped{Offsets: []int64{0}, Rows: []int64{}, Targets: []int64{}}
	}

	pairs := make([]Pair, ns)
	pool.ParallelFor(fwd.Rows(), func(start, end int) {
		for i := start; i < end; i++ {
			for j := fwd.Offsets[i]; j < fwd.Offsets[i+1]; j++ {
				pairs[j] = Pair{Target: fwd.Indices[j], Row: int64(i)}
			}
		}
	})
	pairs = sortPairs(pool, pairs)

	u := 1
	for i := 1; i < ns; i++ {
		if pairs[i].Target != pairs[i-1].Target {
			u++
		}
	}
	g := &Grouped{
		Offsets: make([]int64, u+1),
		Rows:    make([]int64, ns),
		Targets: make([]int64, u),
	}
	g.Rows[0] = pairs[0].Row
	g.Targets[0] = pairs[0].Target
	k := 0
	for i := 1; i < ns; i++ {
		g.Rows[i] = pairs[i].Row
		if pairs[i].Target != pairs[i-1].Target {
			k++
			g.Targets[k] = pairs[i].Target
			g.Offsets[k] = int64(i)
		}
	}
	g.Offsets[u] = int64(ns)
	return g
}

// sortPairs sorts pairs by target: one chunk per worker sorted in parallel,
// then rounds of pairwise merges. The result may live in a different
// backing array than pairs.
func sortPairs(pool *workerpool.Pool, pairs []Pair) []Pair {
	workers := pool.NumWorkers()
	if len(pairs) < minParallelSort || workers <= 1 {
		slices.SortFunc(pairs, byTarget)
		return pairs
	}

	chunk := (len(pairs) + workers - 1) / workers
	var bounds []int
	for lo := 0; lo < len(pairs); lo += chunk {
		bounds = append(bounds, lo)
	}
	bounds = append(bounds, len(pairs))
	pool.ParallelFor(len(bounds)-1, func(start, end int) {
		for c := start; c < end; c++ {
			slices.SortFunc(pairs[bounds[c]:bounds[c+1]], byTarget)
		}
	})

	src, dst := pairs, make([]Pair, len(pairs))
	for len(bounds) > 2 {
		var g errgroup.Group
		g.SetLimit(workers)
		next := []int{0}
		for r := 0; r+1 < len(bounds)-1; r += 2 {
			lo, mid, hi := bounds[r], bounds[r+1], bounds[r+2]
			g.Go(func() error {
				merge(dst[lo:hi], src[lo:mid], src[mid:hi])
				return nil
			})
			next = append(next, hi)
		}
		if (len(bounds)-1)%2 == 1 {
			// Odd run out: carry it over unchanged.
			lo, hi := bounds[len(bounds)-2], bounds[len(bounds)-1]
			copy(dst[lo:hi], src[lo:hi])
			next = append(next, hi)
		}
		_ = g.Wait()
		bounds = next
		src, dst = dst, src
	}
	return src
}

// merge writes the sorted union of a and b into out, taking from a first on
// equal targets.
func merge(out, a, b []Pair) {
	i, j, k := 0, 0, 0
	for i < len(a) && j < len(b) {
		if b[j].Target < a[i].Target {
			out[k] = b[j]
			j++
		} else {
			out[k] = a[i]
			i++
		}
		k++
	}
	k += copy(out[k:], a[i:])
	copy(out[k:], b[j:])
}
