/*
Package matrixstore holds prescribing as dense numeric matrices indexed
by presentation code, practice and month.

PURPOSE:
  Answer "how much of these drugs did each organisation prescribe each
  month" without a database round trip. A Snapshot is built once per
  import cycle, never mutated, and shared by every concurrent reader.

LAYOUT (the arena):
  Presentation codes are sorted. Each metric is one contiguous buffer:

    data[code][practice][month]   (row-major, float64)

  so every code owns a practice x month block and every code prefix
  selects a contiguous run of blocks. QueryOne finds the run with two
  binary searches and sums the blocks.

  Costs are stored in pence and converted to pounds when a query result
  is produced. Nothing is rounded here.

KEY CONCEPTS:
  - Snapshot: the immutable arena plus its row and column indexes
  - Result:   items, quantity and actual cost for one query, practice rows
  - Grouper:  collapses practice rows to a requested org level
  - Provider: hands out the current Snapshot; swaps are atomic

SEE ALSO:
  - builder.go: Builds a Snapshot from extract rows
  - extract.go: Parquet extract the builder reads
  - spending/spending.go: The query layer on top
*/
package matrixstore

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/prescribing-engine/core"
	"github.com/warp/prescribing-engine/orgs"
)

// Snapshot is immutable once returned by a Builder.
type Snapshot struct {
	codes     []string
	practices []string
	dates     []core.Month

	practiceOffsets map[string]int
	dateOffsets     map[core.Month]int

	items    []float64
	quantity []float64
	costP    []float64 // pence

	groupers map[orgs.Level]*Grouper[string]
	builtAt  time.Time
}

// Result holds practice x month matrices for one query. ActualCost is in
// pounds.
type Result struct {
	Items      *Matrix
	Quantity   *Matrix
	ActualCost *Matrix
}

// =============================================================================
// INDEXES
// =============================================================================

func (s *Snapshot) blockSize() int { return len(s.practices) * len(s.dates) }

// Presentations returns the sorted presentation codes.
func (s *Snapshot) Presentations() []string { return append([]string(nil), s.codes...) }

// Practices returns practice codes in row order.
func (s *Snapshot) Practices() []string { return append([]string(nil), s.practices...) }

// NumPresentations is len(Presentations()).
func (s *Snapshot) NumPresentations() int { return len(s.codes) }

// NumPractices is len(Practices()).
func (s *Snapshot) NumPractices() int { return len(s.practices) }

// PracticeOffset returns the row of a practice in query results.
func (s *Snapshot) PracticeOffset(code string) (int, bool) {
	off, ok := s.practiceOffsets[code]
	return off, ok
}

// Dates returns the month columns in chronological order.
func (s *Snapshot) Dates() []core.Month { return append([]core.Month(nil), s.dates...) }

// DateOffset returns the column of a month.
func (s *Snapshot) DateOffset(m core.Month) (int, bool) {
	off, ok := s.dateOffsets[m]
	return off, ok
}

// DateOffsets maps ISO dates ("2014-11-01") to columns.
func (s *Snapshot) DateOffsets() map[string]int {
	out := make(map[string]int, len(s.dateOffsets))
	for m, off := range s.dateOffsets {
		out[m.String()] = off
	}
	return out
}

// LatestDate is the newest month in the snapshot, zero if it is empty.
func (s *Snapshot) LatestDate() core.Month {
	if len(s.dates) == 0 {
		return core.Month{}
	}
	return s.dates[len(s.dates)-1]
}

func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// =============================================================================
// QUERIES
// =============================================================================

// GroupBy returns the grouper for an aggregation level. Groupers are
// computed when the snapshot is built and may be shared.
func (s *Snapshot) GroupBy(level orgs.Level) (*Grouper[string], error) {
	g, ok := s.groupers[level]
	if !ok {
		return nil, core.Invalid("org_type", "unknown aggregation level %q", level)
	}
	return g, nil
}

// QueryOne sums every presentation whose code starts with any of the
// prefixes. No prefixes means every presentation. It returns false when
// nothing matched.
func (s *Snapshot) QueryOne(prefixes []string) (*Result, bool) {
	ranges := s.matchRanges(prefixes)
	if len(ranges) == 0 {
		return nil, false
	}

	rows, cols := len(s.practices), len(s.dates)
	res := &Result{
		Items:      NewMatrix(rows, cols),
		Quantity:   NewMatrix(rows, cols),
		ActualCost: NewMatrix(rows, cols),
	}
	block := s.blockSize()
	for _, r := range ranges {
		for i := r.lo; i < r.hi; i++ {
			res.Items.addBlock(s.items[i*block : (i+1)*block])
			res.Quantity.addBlock(s.quantity[i*block : (i+1)*block])
			res.ActualCost.addBlock(s.costP[i*block : (i+1)*block])
		}
	}
	res.ActualCost.Map(core.PenceToPounds)
	return res, true
}

type codeRange struct{ lo, hi int }

// matchRanges returns disjoint, ordered index ranges of codes matching
// any prefix.
func (s *Snapshot) matchRanges(prefixes []string) []codeRange {
	if len(s.codes) == 0 {
		return nil
	}
	if len(prefixes) == 0 {
		return []codeRange{{0, len(s.codes)}}
	}

	var ranges []codeRange
	for _, p := range prefixes {
		if lo, hi := s.prefixRange(p); lo < hi {
			ranges = append(ranges, codeRange{lo, hi})
		}
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].lo < ranges[j].lo })

	merged := ranges[:0]
	for _, r := range ranges {
		if n := len(merged); n > 0 && r.lo <= merged[n-1].hi {
			merged[n-1].hi = max(merged[n-1].hi, r.hi)
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// prefixRange finds [lo, hi) such that codes[lo:hi] all start with prefix.
func (s *Snapshot) prefixRange(prefix string) (int, int) {
	lo := sort.SearchStrings(s.codes, prefix)
	rest := s.codes[lo:]
	n := sort.Search(len(rest), func(i int) bool {
		return !strings.HasPrefix(rest[i], prefix)
	})
	return lo, lo + n
}

// Group applies g to all three metrics in parallel.
func (r *Result) Group(g *Grouper[string]) *Result {
	out := &Result{}
	var eg errgroup.Group
	eg.Go(func() error { out.Items = g.Apply(r.Items); return nil })
	eg.Go(func() error { out.Quantity = g.Apply(r.Quantity); return nil })
	eg.Go(func() error { out.ActualCost = g.Apply(r.ActualCost); return nil })
	_ = eg.Wait()
	return out
}
