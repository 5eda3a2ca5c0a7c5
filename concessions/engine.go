/*
Package concessions estimates the extra spending caused by price
concessions above the Drug Tariff.

PURPOSE:
  When a generic is in short supply the tariff price is temporarily
  raised ("conceded"). This package answers: for an organisation and a
  window of months, how much more did (or will) that cost?

RECONCILIATION PIPELINE:
  1. Sum prescribed quantity by (month, presentation) for the entity
  2. Load concessions in the window and resolve pack, tariff price and
     presentation for each. Missing reference data is an error.
  3. Concession months after the last prescribing month borrow the last
     month's quantity and are flagged as estimates
  4. Drop rows with zero quantity
  5. Cost each row:
       units      = quantity            (quantity means pack)
                  = quantity / qtyval   (otherwise)
       tariff     = units * tariff pence / 100 * (1 - discount/100)
       concession = units * concession pence / 100 * (1 - discount/100)
       additional = concession - tariff   (may be negative)
  6. Keep one row per (presentation, month): the highest additional cost
  7. Summarise by month, or list one month's rows by cost impact

  All arithmetic is decimal. Costs are rounded to 2dp only in results.

UNMATCHED CONCESSIONS:
  Concessions with no pack reference are skipped. See matching.go for
  how they get matched.

SEE ALSO:
  - matching.go: Name regularisation and pack matching
  - store/sqlite/concessions.go: Store implementation
*/
package concessions

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/prescribing-engine/core"
	"github.com/warp/prescribing-engine/orgs"
)

// DefaultDiscountPercentage is the national average discount applied to
// both tariff and concession costs.
var DefaultDiscountPercentage = decimal.RequireFromString("7.2")

// DefaultMonths is the default summary window.
const DefaultMonths = 12

var hundred = decimal.NewFromInt(100)

// Engine is safe for concurrent use.
type Engine struct {
	store       Store
	discount    decimal.Decimal
	parallelism int
}

type Option func(*Engine)

// WithDiscountPercentage overrides DefaultDiscountPercentage.
func WithDiscountPercentage(p decimal.Decimal) Option {
	return func(e *Engine) { e.discount = p }
}

// WithParallelism bounds concurrent entities in SpendingForEntities.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{store: store, discount: DefaultDiscountPercentage, parallelism: 4}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// line is a concession resolved against reference data and prescribing.
type line struct {
	seq          int
	concessionID int64
	vmppID       int64
	date         core.Month
	bnfCode      string
	productName  string

	tariffPence       int64
	concessionPence   int64
	qtyVal            decimal.Decimal
	quantityMeansPack bool

	quantity   float64
	isEstimate bool
	tariffCost decimal.Decimal
	additional decimal.Decimal
}

// =============================================================================
// PUBLIC OPERATIONS
// =============================================================================

// SpendingForEntity summarises the last numMonths months of concessions,
// ending at the newest concession month. Pass a zero currentMonth to leave
// IsIncompleteMonth unset.
func (e *Engine) SpendingForEntity(ctx context.Context, entity orgs.OrgRef, numMonths int, currentMonth core.Month) ([]MonthSummary, error) {
	if numMonths <= 0 {
		return nil, core.Invalid("months", "must be positive, got %d", numMonths)
	}
	end, err := e.store.LatestConcessionMonth(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest concession month: %w", err)
	}
	if end.IsZero() {
		return []MonthSummary{}, nil
	}

	lines, last, err := e.reconcile(ctx, entity, core.LastMonths(end, numMonths))
	if err != nil {
		return nil, err
	}
	return summarise(lines, last, currentMonth), nil
}

// BreakdownForEntity lists one month's concession costs by presentation,
// largest additional cost first.
func (e *Engine) BreakdownForEntity(ctx context.Context, entity orgs.OrgRef, month core.Month) ([]BreakdownRow, error) {
	lines, _, err := e.reconcile(ctx, entity, core.MonthRange{Start: month, End: month})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(lines, func(i, j int) bool {
		a, b := lines[i], lines[j]
		if c := a.additional.Cmp(b.additional); c != 0 {
			return c > 0
		}
		if c := a.tariffCost.Cmp(b.tariffCost); c != 0 {
			return c > 0
		}
		return a.bnfCode < b.bnfCode
	})

	rows := make([]BreakdownRow, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, BreakdownRow{
			BNFCode:        l.bnfCode,
			ProductName:    l.productName,
			Quantity:       l.quantity,
			TariffCost:     core.RoundDecimalCost(l.tariffCost),
			AdditionalCost: core.RoundDecimalCost(l.additional),
			IsEstimate:     l.isEstimate,
		})
	}
	return rows, nil
}

// SpendingForEntities runs SpendingForEntity for several entities in
// parallel. Results keep the order of entities. The first error cancels
// the rest.
func (e *Engine) SpendingForEntities(ctx context.Context, entities []orgs.OrgRef, numMonths int, currentMonth core.Month) ([]EntitySummary, error) {
	out := make([]EntitySummary, len(entities))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, entity := range entities {
		g.Go(func() error {
			months, err := e.SpendingForEntity(ctx, entity, numMonths, currentMonth)
			if err != nil {
				return fmt.Errorf("%s: %w", entity, err)
			}
			out[i] = EntitySummary{Entity: entity, Months: months}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// PIPELINE
// =============================================================================

func (e *Engine) reconcile(ctx context.Context, entity orgs.OrgRef, window core.MonthRange) ([]line, core.Month, error) {
	if err := window.Validate(); err != nil {
		return nil, core.Month{}, err
	}
	last, err := e.store.LastPrescribingMonth(ctx)
	if err != nil {
		return nil, core.Month{}, fmt.Errorf("last prescribing month: %w", err)
	}

	concessions, err := e.store.ConcessionsBetween(ctx, window)
	if err != nil {
		return nil, core.Month{}, fmt.Errorf("load concessions: %w", err)
	}
	lines, err := e.resolve(ctx, concessions)
	if err != nil {
		return nil, core.Month{}, err
	}
	if len(lines) == 0 || last.IsZero() {
		return []line{}, last, nil
	}

	quantities, err := e.quantities(ctx, entity, window, last)
	if err != nil {
		return nil, core.Month{}, err
	}

	kept := lines[:0]
	for _, l := range lines {
		source := l.date
		if l.date.After(last) {
			source = last
			l.isEstimate = true
		}
		l.quantity = quantities[quantityKey{source, l.bnfCode}]
		if l.quantity == 0 {
			continue
		}
		e.cost(&l)
		kept = append(kept, l)
	}

	return dedupe(kept), last, nil
}

type quantityKey struct {
	month   core.Month
	bnfCode string
}

func (e *Engine) quantities(ctx context.Context, entity orgs.OrgRef, window core.MonthRange, last core.Month) (map[quantityKey]float64, error) {
	r := window
	if last.Before(r.Start) {
		r.Start = last
	}
	if last.Before(r.End) {
		r.End = last
	}
	rows, err := e.store.PrescribedQuantities(ctx, entity, r)
	if err != nil {
		return nil, fmt.Errorf("prescribed quantities: %w", err)
	}
	out := make(map[quantityKey]float64, len(rows))
	for _, q := range rows {
		out[quantityKey{q.Month, q.BNFCode}] += q.Quantity
	}
	return out, nil
}

// resolve looks up pack, tariff and presentation for each matched
// concession. Costs are filled in later by cost().
func (e *Engine) resolve(ctx context.Context, concessions []Concession) ([]line, error) {
	var lines []line
	for i, c := range concessions {
		if !c.IsMatched() {
			continue
		}
		vmpp, err := e.store.GetVMPP(ctx, *c.VMPPID)
		if err != nil {
			return nil, fmt.Errorf("get vmpp %d: %w", *c.VMPPID, err)
		}
		if vmpp == nil {
			return nil, &core.ReferenceDataError{Kind: "vmpp", Key: fmt.Sprint(*c.VMPPID), ConcessionID: c.ID}
		}
		tariff, err := e.store.GetTariffPrice(ctx, vmpp.ID, c.Date)
		if err != nil {
			return nil, fmt.Errorf("get tariff price %d/%s: %w", vmpp.ID, c.Date, err)
		}
		if tariff == nil {
			return nil, &core.ReferenceDataError{Kind: "tariff_price", Key: fmt.Sprintf("%d@%s", vmpp.ID, c.Date), ConcessionID: c.ID}
		}
		pres, err := e.store.GetPresentation(ctx, vmpp.BNFCode)
		if err != nil {
			return nil, fmt.Errorf("get presentation %s: %w", vmpp.BNFCode, err)
		}
		if pres == nil {
			return nil, &core.ReferenceDataError{Kind: "presentation", Key: vmpp.BNFCode, ConcessionID: c.ID}
		}
		if !pres.QuantityMeansPack && !vmpp.QtyVal.IsPositive() {
			return nil, &core.ReferenceDataError{Kind: "vmpp_qtyval", Key: fmt.Sprint(vmpp.ID), ConcessionID: c.ID}
		}

		lines = append(lines, line{
			seq:               i,
			concessionID:      c.ID,
			vmppID:            vmpp.ID,
			date:              c.Date,
			bnfCode:           vmpp.BNFCode,
			productName:       vmpp.ProductName,
			tariffPence:       tariff.PricePence,
			concessionPence:   c.PricePence,
			qtyVal:            vmpp.QtyVal,
			quantityMeansPack: pres.QuantityMeansPack,
		})
	}
	return lines, nil
}

// cost fills in the discounted tariff and additional cost of l.
func (e *Engine) cost(l *line) {
	units := decimal.NewFromFloat(l.quantity)
	if !l.quantityMeansPack {
		units = units.Div(l.qtyVal)
	}
	factor := decimal.NewFromInt(1).Sub(e.discount.Div(hundred))

	tariff := core.PenceDecimalToPounds(units.Mul(decimal.NewFromInt(l.tariffPence))).Mul(factor)
	concession := core.PenceDecimalToPounds(units.Mul(decimal.NewFromInt(l.concessionPence))).Mul(factor)
	l.tariffCost = tariff
	l.additional = concession.Sub(tariff)
}

// dedupe keeps the highest additional cost per (presentation, month).
// Ties go to the lowest pack id, then to the earliest concession.
func dedupe(lines []line) []line {
	type key struct {
		bnfCode string
		date    core.Month
	}
	best := make(map[key]int)
	var order []key
	for i, l := range lines {
		k := key{l.bnfCode, l.date}
		j, seen := best[k]
		if !seen {
			best[k] = i
			order = append(order, k)
			continue
		}
		if beats(l, lines[j]) {
			best[k] = i
		}
	}

	out := make([]line, 0, len(order))
	for _, k := range order {
		out = append(out, lines[best[k]])
	}
	return out
}

func beats(a, b line) bool {
	if c := a.additional.Cmp(b.additional); c != 0 {
		return c > 0
	}
	if a.vmppID != b.vmppID {
		return a.vmppID < b.vmppID
	}
	return a.seq < b.seq
}

func summarise(lines []line, last, currentMonth core.Month) []MonthSummary {
	type agg struct {
		tariff, additional decimal.Decimal
		estimate           bool
	}
	byMonth := make(map[core.Month]*agg)
	for _, l := range lines {
		a, ok := byMonth[l.date]
		if !ok {
			a = &agg{}
			byMonth[l.date] = a
		}
		a.tariff = a.tariff.Add(l.tariffCost)
		a.additional = a.additional.Add(l.additional)
		a.estimate = a.estimate || l.isEstimate
	}

	out := make([]MonthSummary, 0, len(byMonth))
	for m, a := range byMonth {
		s := MonthSummary{
			Month:               m,
			TariffCost:          core.RoundDecimalCost(a.tariff),
			AdditionalCost:      core.RoundDecimalCost(a.additional),
			IsEstimate:          a.estimate,
			LastPrescribingDate: last,
		}
		if !currentMonth.IsZero() {
			incomplete := m.AfterOrEqual(currentMonth)
			s.IsIncompleteMonth = &incomplete
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out
}
