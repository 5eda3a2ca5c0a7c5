/*
grouper.go - Sums matrix rows into group rows

PURPOSE:
  A Grouper is built from (row offset, group id) assignments and collapses
  an R x C matrix into a G x C matrix, one output row per distinct group.
  It is how practice-level prescribing becomes CCG, PCN, STP, regional
  team or national totals.

RULES:
  - Groups are numbered in the order they are first seen. Applying one
    Grouper to the items, quantity and cost matrices therefore yields
    row-for-row aligned outputs.
  - A row may be assigned to zero, one or many groups.
  - Rows with no assignment are ignored. That is how organisations with
    no prescribing disappear from grouped output.
  - Offsets outside the input matrix are ignored too, so one Grouper can
    be applied to a matrix that covers a prefix of the organisations.

USAGE:
    g := NewGrouper([]Assignment[string]{{Row: 0, Group: "03V"}, {Row: 1, Group: "03V"}})
    byCCG := g.Apply(items)
    row, ok := g.Offset("03V")
*/
package matrixstore

// Assignment places an input row in a group.
type Assignment[K comparable] struct {
	Row   int
	Group K
}

// Grouper is immutable after construction and safe for concurrent use.
type Grouper[K comparable] struct {
	ids     []K
	offsets map[K]int
	members [][]int // input rows per output row
}

func NewGrouper[K comparable](assignments []Assignment[K]) *Grouper[K] {
	g := &Grouper[K]{offsets: make(map[K]int)}
	for _, a := range assignments {
		off, ok := g.offsets[a.Group]
		if !ok {
			off = len(g.ids)
			g.offsets[a.Group] = off
			g.ids = append(g.ids, a.Group)
			g.members = append(g.members, nil)
		}
		g.members[off] = append(g.members[off], a.Row)
	}
	return g
}

// Len is the number of output rows.
func (g *Grouper[K]) Len() int { return len(g.ids) }

// IDs returns the group ids in output row order.
func (g *Grouper[K]) IDs() []K {
	return append([]K(nil), g.ids...)
}

// ID returns the group at an output row.
func (g *Grouper[K]) ID(offset int) K { return g.ids[offset] }

// Offset returns the output row of a group.
func (g *Grouper[K]) Offset(id K) (int, bool) {
	off, ok := g.offsets[id]
	return off, ok
}

// Apply returns a new Len() x m.Cols() matrix of group sums. m is not
// modified.
func (g *Grouper[K]) Apply(m *Matrix) *Matrix {
	out := NewMatrix(g.Len(), m.Cols())
	for off, rows := range g.members {
		dst := out.Row(off)
		for _, r := range rows {
			if r < 0 || r >= m.Rows() {
				continue
			}
			addInto(dst, m.Row(r))
		}
	}
	return out
}
