// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package batch

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/ajroetker/go-smm/smm"
)

// Stat is one reported shape of a statistics frame.
type Stat struct {
	Descriptor smm.Descriptor
	Symbol     string // calling function, empty if unknown
	Count      int
	Percent    int // share of all counted calls, rounded
}

type statKey struct {
	desc   smm.Descriptor
	symbol string
}

// report prints the most frequent shapes to w and returns them. At most
// cfg.StatisticsLimit shapes are listed and only those counted more than
// half as often as the most frequent one, unless debug verbosity is on or
// there are three shapes or fewer. Shapes whose share rounds to 0% end the
// report.
func report(w io.Writer, cfg *smm.Config, counts map[statKey]int) []Stat {
	entries := lo.MapToSlice(counts, func(k statKey, n int) Stat {
		return Stat{Descriptor: k.desc, Symbol: k.symbol, Count: n}
	})
	slices.SortFunc(entries, func(a, b Stat) int {
		return cmp.Or(
			cmp.Compare(b.Count, a.Count),
			strings.Compare(a.Descriptor.String(), b.Descriptor.String()),
			strings.Compare(a.Symbol, b.Symbol),
		)
	})
	total := lo.SumBy(entries, func(s Stat) int { return s.Count })
	if total == 0 {
		return nil
	}

	verbose := cfg.Enabled(smm.VerbosityDebug)
	limit := cfg.StatisticsLimit
	if verbose {
		limit = len(entries)
	}
	threshold := 0
	if !verbose && len(entries) > 3 {
		threshold = entries[0].Count / 2
	}

	var out []Stat
	for _, e := range entries {
		if e.Count <= threshold || len(out) >= limit {
			continue
		}
		e.Percent = int(100*float64(e.Count)/float64(total) + 0.5)
		if e.Percent == 0 {
			break
		}
		if len(out) == 0 {
			plural := ""
			if total > 1 {
				plural = "s"
			}
			fmt.Fprintf(w, "\nSMM STATISTIC: %d multiplication%s\n", total, plural)
		}
		if e.Symbol != "" {
			fmt.Fprintf(w, "%v: %d%% [%s]\n", e.Descriptor, e.Percent, e.Symbol)
		} else {
			fmt.Fprintf(w, "%v: %d%%\n", e.Descriptor, e.Percent)
		}
		out = append(out, e)
	}
	return out
}
