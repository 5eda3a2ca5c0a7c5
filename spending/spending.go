/*
Package spending answers prescribing spend queries from the current
matrix store snapshot.

PURPOSE:
  Two query shapes, both over an arbitrary list of BNF code prefixes:

    TotalSpending   one row per month for everything that matched,
                    INCLUDING months where nothing was prescribed
    SpendingByOrg   one row per (month, organisation) at the requested
                    level, SKIPPING rows with no items

QUERY FLOW:
  1. Validate the date and the level guard
  2. Resolve code fragments to prefixes (rejects mixed lengths)
  3. Resolve the org filter (rejects unknown organisations)
  4. QueryOne on the snapshot; nothing matched -> empty result
  5. Group items, quantity and cost with ONE grouper
  6. Emit rows, rounding cost to 2dp only here

SEE ALSO:
  - matrixstore/snapshot.go: QueryOne, GroupBy
  - bnf/bnf.go: Code fragment resolution
  - orgs/orgs.go: OrgRef resolution and membership expansion
*/
package spending

import (
	"context"
	"math"

	"github.com/warp/prescribing-engine/bnf"
	"github.com/warp/prescribing-engine/core"
	"github.com/warp/prescribing-engine/matrixstore"
	"github.com/warp/prescribing-engine/orgs"
)

// allEnglandName labels the single row group at LevelAllPractices.
const allEnglandName = "NHS England"

// Row is one output row. RowID and RowName are set for per-organisation
// queries; CCG and Setting only at practice level.
type Row struct {
	Date       core.Month `json:"date"`
	Items      int64      `json:"items"`
	Quantity   float64    `json:"quantity"`
	ActualCost float64    `json:"actual_cost"`
	RowID      *string    `json:"row_id,omitempty"`
	RowName    *string    `json:"row_name,omitempty"`
	CCG        *string    `json:"ccg,omitempty"`
	Setting    *int       `json:"setting,omitempty"`
}

// Query describes a per-organisation spending request. Codes and Orgs are
// raw user input; Date is optional ("" means every month).
type Query struct {
	Codes []string
	Level orgs.Level
	Orgs  []string
	Date  string
}

// Service runs spending queries. It is safe for concurrent use.
type Service struct {
	snapshots matrixstore.Provider
	directory orgs.Directory
	resolver  *bnf.Resolver
}

func NewService(snapshots matrixstore.Provider, directory orgs.Directory, resolver *bnf.Resolver) *Service {
	return &Service{snapshots: snapshots, directory: directory, resolver: resolver}
}

// =============================================================================
// TOTAL SPENDING
// =============================================================================

// TotalSpending sums every practice for each month of the snapshot.
// Months with no prescribing get an explicit zero row.
func (s *Service) TotalSpending(ctx context.Context, codes []string) ([]Row, error) {
	prefixes, err := s.resolver.Resolve(ctx, codes)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshots.Snapshot()
	if err != nil {
		return nil, err
	}

	res, ok := snap.QueryOne(prefixes)
	if !ok {
		return []Row{}, nil
	}
	all, err := snap.GroupBy(orgs.LevelAllPractices)
	if err != nil {
		return nil, err
	}
	grouped := res.Group(all)

	dates := snap.Dates()
	rows := make([]Row, 0, len(dates))
	for col, date := range dates {
		rows = append(rows, Row{
			Date:       date,
			Items:      cellItems(grouped.Items, 0, col),
			Quantity:   grouped.Quantity.At(0, col),
			ActualCost: core.RoundCost(grouped.ActualCost.At(0, col)),
		})
	}
	return rows, nil
}

// =============================================================================
// SPENDING BY ORGANISATION
// =============================================================================

// SpendingByOrg groups matching prescribing to q.Level and emits a row per
// organisation and month with items > 0. Organisations are ordered by code.
func (s *Service) SpendingByOrg(ctx context.Context, q Query) ([]Row, error) {
	if _, err := orgs.ParseLevel(string(q.Level)); err != nil {
		return nil, err
	}
	if q.Level == orgs.LevelPractice && q.Date == "" && len(q.Orgs) == 0 {
		return nil, core.Invalid("date", "you must supply either a list of practice IDs or a date parameter, e.g. date=2015-04-01")
	}

	var date core.Month
	if q.Date != "" {
		var err error
		if date, err = core.ParseMonth(q.Date); err != nil {
			return nil, err
		}
	}

	prefixes, err := s.resolver.Resolve(ctx, q.Codes)
	if err != nil {
		return nil, err
	}

	filter, err := s.orgFilter(ctx, q.Level, q.Orgs)
	if err != nil {
		return nil, err
	}
	candidates, err := s.listOrgs(ctx, q.Level)
	if err != nil {
		return nil, err
	}

	snap, err := s.snapshots.Snapshot()
	if err != nil {
		return nil, err
	}

	type column struct {
		date core.Month
		col  int
	}
	var columns []column
	if q.Date != "" {
		col, ok := snap.DateOffset(date)
		if !ok {
			return nil, core.NotFound("date", date.String())
		}
		columns = []column{{date, col}}
	} else {
		for col, d := range snap.Dates() {
			columns = append(columns, column{d, col})
		}
	}

	res, ok := snap.QueryOne(prefixes)
	if !ok {
		return []Row{}, nil
	}
	grouper, err := snap.GroupBy(q.Level)
	if err != nil {
		return nil, err
	}
	grouped := res.Group(grouper)

	type orgRow struct {
		org orgs.Org
		row int
	}
	var present []orgRow
	for _, o := range candidates {
		if filter != nil {
			if _, keep := filter[o.Code]; !keep {
				continue
			}
		}
		if off, ok := grouper.Offset(o.Code); ok {
			present = append(present, orgRow{o, off})
		}
	}

	var rows []Row
	for _, c := range columns {
		for _, p := range present {
			items := cellItems(grouped.Items, p.row, c.col)
			if items == 0 {
				continue
			}
			row := Row{
				Date:       c.date,
				Items:      items,
				Quantity:   grouped.Quantity.At(p.row, c.col),
				ActualCost: core.RoundCost(grouped.ActualCost.At(p.row, c.col)),
				RowID:      ptr(p.org.Code),
				RowName:    ptr(p.org.Name),
			}
			if q.Level == orgs.LevelPractice {
				row.CCG = ptr(p.org.CCG)
				row.Setting = ptr(p.org.Setting)
			}
			rows = append(rows, row)
		}
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

// orgFilter resolves the raw org filter into the set of group ids to keep.
// nil means keep everything. At practice level the type of each code is
// inferred and CCG codes expand to their member practices.
func (s *Service) orgFilter(ctx context.Context, level orgs.Level, raw []string) (map[string]struct{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if level == orgs.LevelAllPractices {
		return nil, core.Invalid("org", "an org filter cannot be combined with all_practices")
	}

	refs := make([]orgs.OrgRef, 0, len(raw))
	for _, code := range raw {
		hint := orgs.TypeFor(level)
		if level == orgs.LevelPractice {
			hint = ""
		}
		ref, err := orgs.ResolveRef(code, hint)
		if err != nil {
			return nil, err
		}
		if level == orgs.LevelPractice && ref.Type != orgs.TypePractice && ref.Type != orgs.TypeCCG {
			return nil, core.Invalid("org", "%q is not a practice or CCG code", code)
		}
		if _, err := s.directory.GetOrg(ctx, ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	codes := make([]string, 0, len(refs))
	if level == orgs.LevelPractice {
		var err error
		if codes, err = orgs.PracticeCodes(ctx, s.directory, refs); err != nil {
			return nil, err
		}
	} else {
		for _, r := range refs {
			codes = append(codes, r.Code)
		}
	}

	filter := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		filter[c] = struct{}{}
	}
	return filter, nil
}

func (s *Service) listOrgs(ctx context.Context, level orgs.Level) ([]orgs.Org, error) {
	if level == orgs.LevelAllPractices {
		return []orgs.Org{{Code: orgs.AllEnglandID, Name: allEnglandName, Type: orgs.TypeAllEngland}}, nil
	}
	return s.directory.ListOrgs(ctx, orgs.TypeFor(level))
}

func cellItems(m *matrixstore.Matrix, row, col int) int64 {
	return int64(math.Round(m.At(row, col)))
}

func ptr[T any](v T) *T { return &v }
