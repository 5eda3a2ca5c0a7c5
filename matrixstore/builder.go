package matrixstore

import (
	"sort"
	"time"

	"github.com/warp/prescribing-engine/core"
	"github.com/warp/prescribing-engine/orgs"
)

type cellKey struct {
	code     string
	practice string
	month    core.Month
}

type cell struct {
	items    float64
	quantity float64
	costP    float64
}

// Builder accumulates pre-aggregated prescribing rows and produces a
// Snapshot. Rows with the same (code, practice, month) are summed.
// A Builder is not safe for concurrent use.
type Builder struct {
	members   []orgs.Membership
	cells     map[cellKey]*cell
	codes     map[string]struct{}
	practices map[string]struct{}
	first     core.Month
	last      core.Month
	now       func() time.Time
}

// NewBuilder takes the practice membership table used to derive the
// groupers of every aggregation level.
func NewBuilder(members []orgs.Membership) *Builder {
	b := &Builder{
		members:   members,
		cells:     make(map[cellKey]*cell),
		codes:     make(map[string]struct{}),
		practices: make(map[string]struct{}),
		now:       time.Now,
	}
	for _, m := range members {
		if m.Practice != "" {
			b.practices[m.Practice] = struct{}{}
		}
	}
	return b
}

// Add validates and accumulates one extract row.
func (b *Builder) Add(row PrescribingRow) error {
	if row.BNFCode == "" {
		return core.Invalid("bnf_code", "missing presentation code")
	}
	if row.Practice == "" {
		return core.Invalid("practice", "missing practice code for %s", row.BNFCode)
	}
	month, err := core.ParseMonth(row.Month)
	if err != nil {
		return err
	}
	if row.Items < 0 || row.Quantity < 0 || row.ActualCostPence < 0 {
		return core.Invalid("row", "negative value for %s/%s/%s", row.Practice, row.BNFCode, row.Month)
	}

	key := cellKey{code: row.BNFCode, practice: row.Practice, month: month}
	c, ok := b.cells[key]
	if !ok {
		c = &cell{}
		b.cells[key] = c
	}
	c.items += float64(row.Items)
	c.quantity += row.Quantity
	c.costP += row.ActualCostPence

	b.codes[row.BNFCode] = struct{}{}
	b.practices[row.Practice] = struct{}{}
	if b.first.IsZero() || month.Before(b.first) {
		b.first = month
	}
	if b.last.IsZero() || month.After(b.last) {
		b.last = month
	}
	return nil
}

// Build lays the accumulated cells out in the arena. Every month between
// the first and last seen gets a column, even if nothing was prescribed.
func (b *Builder) Build() *Snapshot {
	s := &Snapshot{
		codes:           sortedKeys(b.codes),
		practices:       sortedKeys(b.practices),
		practiceOffsets: make(map[string]int),
		dateOffsets:     make(map[core.Month]int),
		builtAt:         b.now(),
	}
	if !b.first.IsZero() {
		s.dates = core.MonthRange{Start: b.first, End: b.last}.Months()
	}
	for i, p := range s.practices {
		s.practiceOffsets[p] = i
	}
	for i, m := range s.dates {
		s.dateOffsets[m] = i
	}

	codeOffsets := make(map[string]int, len(s.codes))
	for i, c := range s.codes {
		codeOffsets[c] = i
	}

	size := len(s.codes) * s.blockSize()
	s.items = make([]float64, size)
	s.quantity = make([]float64, size)
	s.costP = make([]float64, size)

	cols := len(s.dates)
	for k, c := range b.cells {
		idx := codeOffsets[k.code]*s.blockSize() + s.practiceOffsets[k.practice]*cols + s.dateOffsets[k.month]
		s.items[idx] = c.items
		s.quantity[idx] = c.quantity
		s.costP[idx] = c.costP
	}

	s.groupers = buildGroupers(s.practices, b.members)
	return s
}

func buildGroupers(practices []string, members []orgs.Membership) map[orgs.Level]*Grouper[string] {
	byPractice := make(map[string]orgs.Membership, len(members))
	for _, m := range members {
		byPractice[m.Practice] = m
	}

	groupers := make(map[orgs.Level]*Grouper[string], len(orgs.Levels))
	for _, level := range orgs.Levels {
		var assignments []Assignment[string]
		for row, p := range practices {
			m, ok := byPractice[p]
			if !ok {
				m = orgs.Membership{Practice: p}
			}
			if id, ok := m.GroupID(level); ok {
				assignments = append(assignments, Assignment[string]{Row: row, Group: id})
			}
		}
		groupers[level] = NewGrouper(assignments)
	}
	return groupers
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
