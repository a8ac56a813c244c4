// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Package sparse holds the index structures of sparse embedding lookups: the
// forward structure mapping minibatch rows to table rows and the transposed
// structure grouping minibatch rows by table row.
package sparse

import (
	"math/rand/v2"
	"slices"

	"github.com/ajroetker/go-smm/smm"
)

// CSR is the forward lookup structure: minibatch row i reads the table rows
// Indices[Offsets[i]:Offsets[i+1]].
type CSR struct {
	Offsets []int64 // N+1 non-decreasing offsets, Offsets[0] == 0
	Indices []int64 // table rows, Offsets[N] entries
}

// Rows returns the number of minibatch rows N.
func (c *CSR) Rows() int {
	return max(len(c.Offsets)-1, 0)
}

// NNZ returns the total number of indices.
func (c *CSR) NNZ() int {
	if len(c.Offsets) == 0 {
		return 0
	}
	return int(c.Offsets[len(c.Offsets)-1])
}

// Validate checks the structure against a table of tableRows rows. It is a
// debugging aid; the lookup and update paths trust their input.
func (c *CSR) Validate(tableRows int) error {
	if len(c.Offsets) == 0 || c.Offsets[0] != 0 {
		return smm.Errorf("sparse", smm.ErrInvalidShape, "offsets must start with 0")
	}
	for i := 1; i < len(c.Offsets); i++ {
		if c.Offsets[i] < c.Offsets[i-1] {
			return smm.Errorf("sparse", smm.ErrInvalidShape, "offsets decrease at row %d", i-1)
		}
	}
	if c.NNZ() != len(c.Indices) {
		return smm.Errorf("sparse", smm.ErrInvalidShape, "last offset %d, %d indices", c.NNZ(), len(c.Indices))
	}
	for j, idx := range c.Indices {
		if idx < 0 || idx >= int64(tableRows) {
			return smm.Errorf("sparse", smm.ErrInvalidShape, "index %d at %d outside table of %d rows", idx, j, tableRows)
		}
	}
	return nil
}

// Grouped is the backward structure: group u collects the minibatch rows
// Rows[Offsets[u]:Offsets[u+1]] reading table row Targets[u]. Targets is
// strictly increasing, so no two groups share a table row.
type Grouped struct {
	Offsets []int64 // U+1 offsets into Rows
	Rows    []int64 // originating minibatch rows, grouped by target
	Targets []int64 // U distinct table rows, ascending
}

// Groups returns the number of distinct table rows U.
func (g *Grouped) Groups() int {
	return len(g.Targets)
}

// Pair is one (table row, minibatch row) reference.
type Pair struct {
	Target int64
	Row    int64
}

// Pairs flattens g back into one pair per index, in group order.
func (g *Grouped) Pairs() []Pair {
	out := make([]Pair, 0, len(g.Rows))
	for u, target := range g.Targets {
		for _, row := range g.Rows[g.Offsets[u]:g.Offsets[u+1]] {
			out = append(out, Pair{Target: target, Row: row})
		}
	}
	return out
}

// Pairs returns one pair per index of c, in row order.
func (c *CSR) Pairs() []Pair {
	out := make([]Pair, 0, c.NNZ())
	for i := range c.Rows() {
		for _, idx := range c.Indices[c.Offsets[i]:c.Offsets[i+1]] {
			out = append(out, Pair{Target: idx, Row: int64(i)})
		}
	}
	return out
}

// Validate checks the grouping invariants against a table of tableRows rows
// and a minibatch of minibatch rows.
func (g *Grouped) Validate(tableRows, minibatch int) error {
	u := len(g.Targets)
	if len(g.Offsets) != u+1 {
		return smm.Errorf("sparse", smm.ErrInvalidShape, "%d offsets for %d groups", len(g.Offsets), u)
	}
	if g.Offsets[0] != 0 || g.Offsets[u] != int64(len(g.Rows)) {
		return smm.Errorf("sparse", smm.ErrInvalidShape, "offsets span [%d, %d], want [0, %d]", g.Offsets[0], g.Offsets[u], len(g.Rows))
	}
	for i := range u {
		if g.Offsets[i+1] <= g.Offsets[i] {
			return smm.Errorf("sparse", smm.ErrInvalidShape, "group %d is empty", i)
		}
		if i > 0 && g.Targets[i] <= g.Targets[i-1] {
			return smm.Errorf("sparse", smm.ErrInvalidShape, "targets not strictly increasing at group %d", i)
		}
		if t := g.Targets[i]; t < 0 || t >= int64(tableRows) {
			return smm.Errorf("sparse", smm.ErrInvalidShape, "target %d outside table of %d rows", t, tableRows)
		}
	}
	for j, row := range g.Rows {
		if row < 0 || row >= int64(minibatch) {
			return smm.Errorf("sparse", smm.ErrInvalidShape, "row %d at %d outside minibatch of %d", row, j, minibatch)
		}
	}
	return nil
}

// Random returns a forward structure of n minibatch rows reading on average
// p/2 of m table rows each, at least one per row. Each row's indices are
// sorted.
func Random(rng *rand.Rand, n, p, m int) *CSR {
	offsets := make([]int64, n+1)
	for i := 1; i <= n; i++ {
		cp := int64(rng.Float64() * float64(p))
		if cp == 0 {
			cp = 1
		}
		offsets[i] = offsets[i-1] + cp
	}
	indices := make([]int64, offsets[n])
	for i := range n {
		row := indices[offsets[i]:offsets[i+1]]
		for j := range row {
			row[j] = min(int64(rng.Float64()*float64(m)), int64(m-1))
		}
		slices.Sort(row)
	}
	return &CSR{Offsets: offsets, Indices: indices}
}
