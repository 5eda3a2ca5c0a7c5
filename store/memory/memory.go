// Package memory provides an in-memory reference store.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/warp/prescribing-engine/bnf"
	"github.com/warp/prescribing-engine/concessions"
	"github.com/warp/prescribing-engine/core"
	"github.com/warp/prescribing-engine/matrixstore"
	"github.com/warp/prescribing-engine/orgs"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Store struct {
	mu            sync.RWMutex
	orgs          map[orgs.OrgType]map[string]orgs.Org
	sections      map[string]bnf.SectionRecord // by number
	presentations map[string]concessions.Presentation
	prescriptions []matrixstore.PrescribingRow
	vmpps         map[int64]concessions.VMPP
	tariffs       map[tariffKey]concessions.TariffPrice
	concessions   []concessions.Concession // ordered by ID
}

type tariffKey struct {
	vmppID int64
	month  core.Month
}

func New() *Store {
	return &Store{
		orgs:          make(map[orgs.OrgType]map[string]orgs.Org),
		sections:      make(map[string]bnf.SectionRecord),
		presentations: make(map[string]concessions.Presentation),
		vmpps:         make(map[int64]concessions.VMPP),
		tariffs:       make(map[tariffKey]concessions.TariffPrice),
	}
}

// =============================================================================
// SEEDING
// =============================================================================

func (s *Store) PutOrg(o orgs.Org) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orgs[o.Type] == nil {
		s.orgs[o.Type] = make(map[string]orgs.Org)
	}
	s.orgs[o.Type][o.Code] = o
}

func (s *Store) PutSection(sec bnf.SectionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sec.Number == "" {
		sec.Number = bnf.NumberStr(sec.BNFID)
	}
	s.sections[sec.Number] = sec
}

func (s *Store) PutPresentation(p concessions.Presentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presentations[p.BNFCode] = p
}

func (s *Store) AddPrescription(row matrixstore.PrescribingRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prescriptions = append(s.prescriptions, row)
}

func (s *Store) PutVMPP(v concessions.VMPP) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vmpps[v.ID] = v
}

func (s *Store) PutTariffPrice(t concessions.TariffPrice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tariffs[tariffKey{t.VMPPID, t.Date}] = t
}

// PutConcession inserts or replaces a concession, keeping ID order.
func (s *Store) PutConcession(c concessions.Concession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.concessions), func(i int) bool {
		return s.concessions[i].ID >= c.ID
	})
	if i < len(s.concessions) && s.concessions[i].ID == c.ID {
		s.concessions[i] = c
		return
	}
	s.concessions = append(s.concessions, concessions.Concession{})
	copy(s.concessions[i+1:], s.concessions[i:])
	s.concessions[i] = c
}

// =============================================================================
// ORGANISATIONS - orgs.Directory
// =============================================================================

func (s *Store) ListOrgs(_ context.Context, t orgs.OrgType) ([]orgs.Org, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]orgs.Org, 0, len(s.orgs[t]))
	for _, o := range s.orgs[t] {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) GetOrg(_ context.Context, ref orgs.OrgRef) (*orgs.Org, error) {
	if ref.IsAllEngland() {
		return &orgs.Org{Type: orgs.TypeAllEngland, Name: "NHS England"}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orgs[ref.Type][ref.Code]
	if !ok {
		return nil, core.NotFound(string(ref.Type), ref.Code)
	}
	return &o, nil
}

func (s *Store) Memberships(_ context.Context) ([]orgs.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.membershipsLocked(), nil
}

func (s *Store) membershipsLocked() []orgs.Membership {
	out := make([]orgs.Membership, 0, len(s.orgs[orgs.TypePractice]))
	for _, p := range s.orgs[orgs.TypePractice] {
		m := orgs.Membership{Practice: p.Code, PCN: p.PCN, CCG: p.CCG}
		if ccg, ok := s.orgs[orgs.TypeCCG][p.CCG]; ok {
			m.STP = ccg.STP
			m.RegionalTeam = ccg.RegionalTeam
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Practice < out[j].Practice })
	return out
}

// =============================================================================
// SECTIONS - bnf.SectionLookup
// =============================================================================

func (s *Store) SectionByNumber(_ context.Context, number string) (*bnf.SectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sec, ok := s.sections[number]
	if !ok {
		return nil, core.NotFound("section", number)
	}
	return &sec, nil
}

// =============================================================================
// PRESCRIBING - matrixstore.Source
// =============================================================================

type rowKey struct {
	practice, code, month string
}

func (s *Store) AggregatedPrescribing(ctx context.Context, fn func(matrixstore.PrescribingRow) error) error {
	s.mu.RLock()
	sums := make(map[rowKey]*matrixstore.PrescribingRow)
	var keys []rowKey
	for _, p := range s.prescriptions {
		k := rowKey{p.Practice, p.BNFCode, p.Month}
		acc, ok := sums[k]
		if !ok {
			acc = &matrixstore.PrescribingRow{Practice: p.Practice, BNFCode: p.BNFCode, Month: p.Month}
			sums[k] = acc
			keys = append(keys, k)
		}
		acc.Items += p.Items
		acc.Quantity += p.Quantity
		acc.ActualCostPence += p.ActualCostPence
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.month != b.month {
			return a.month < b.month
		}
		if a.code != b.code {
			return a.code < b.code
		}
		return a.practice < b.practice
	})
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(*sums[k]); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// CONCESSIONS - concessions.Store, concessions.MatchStore
// =============================================================================

func (s *Store) LatestConcessionMonth(_ context.Context) (core.Month, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest core.Month
	for _, c := range s.concessions {
		latest = core.MaxMonth(latest, c.Date)
	}
	return latest, nil
}

func (s *Store) ConcessionsBetween(_ context.Context, r core.MonthRange) ([]concessions.Concession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []concessions.Concession
	for _, c := range s.concessions {
		if r.Contains(c.Date) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) GetVMPP(_ context.Context, id int64) (*concessions.VMPP, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vmpps[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *Store) GetTariffPrice(_ context.Context, vmppID int64, month core.Month) (*concessions.TariffPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tariffs[tariffKey{vmppID, month}]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *Store) GetPresentation(_ context.Context, bnfCode string) (*concessions.Presentation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.presentations[bnfCode]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) LastPrescribingMonth(_ context.Context) (core.Month, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last core.Month
	for _, p := range s.prescriptions {
		m, err := core.ParseMonth(p.Month)
		if err != nil {
			return core.Month{}, err
		}
		last = core.MaxMonth(last, m)
	}
	return last, nil
}

func (s *Store) PrescribedQuantities(_ context.Context, entity orgs.OrgRef, r core.MonthRange) ([]concessions.Quantity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make(map[string]orgs.Membership)
	for _, m := range s.membershipsLocked() {
		members[m.Practice] = m
	}

	type key struct {
		month core.Month
		code  string
	}
	sums := make(map[key]float64)
	var order []key
	for _, p := range s.prescriptions {
		m, err := core.ParseMonth(p.Month)
		if err != nil {
			return nil, err
		}
		if !r.Contains(m) {
			continue
		}
		switch {
		case entity.IsAllEngland():
		case entity.Type == orgs.TypePractice:
			// practices match on the prescription, directory or not
			if p.Practice != entity.Code {
				continue
			}
		default:
			mem, ok := members[p.Practice]
			if !ok || !mem.Matches(entity) {
				continue
			}
		}
		k := key{m, p.BNFCode}
		if _, ok := sums[k]; !ok {
			order = append(order, k)
		}
		sums[k] += p.Quantity
	}

	sort.Slice(order, func(i, j int) bool {
		if !order[i].month.Equal(order[j].month) {
			return order[i].month.Before(order[j].month)
		}
		return order[i].code < order[j].code
	})
	out := make([]concessions.Quantity, 0, len(order))
	for _, k := range order {
		out = append(out, concessions.Quantity{Month: k.month, BNFCode: k.code, Quantity: sums[k]})
	}
	return out, nil
}

func (s *Store) ListConcessions(_ context.Context) ([]concessions.Concession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]concessions.Concession(nil), s.concessions...), nil
}

func (s *Store) ListVMPPs(_ context.Context) ([]concessions.VMPP, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]concessions.VMPP, 0, len(s.vmpps))
	for _, v := range s.vmpps {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetConcessionVMPP(_ context.Context, concessionID, vmppID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.concessions {
		if s.concessions[i].ID == concessionID {
			id := vmppID
			s.concessions[i].VMPPID = &id
			return nil
		}
	}
	return core.NotFound("concession", strconv.FormatInt(concessionID, 10))
}

// ListTariff implements concessions.TariffLister.
func (s *Store) ListTariff(_ context.Context, bnfCodes []string) ([]concessions.TariffListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(bnfCodes))
	for _, c := range bnfCodes {
		want[c] = true
	}
	concessionPrice := make(map[tariffKey]int64)
	for _, c := range s.concessions {
		if c.IsMatched() {
			concessionPrice[tariffKey{*c.VMPPID, c.Date}] = c.PricePence
		}
	}

	var out []concessions.TariffListing
	for k, t := range s.tariffs {
		v, ok := s.vmpps[k.vmppID]
		if !ok || (len(want) > 0 && !want[v.BNFCode]) {
			continue
		}
		row := concessions.TariffListing{
			Date:           t.Date,
			PricePence:     t.PricePence,
			VMPP:           v.Name,
			VMPPID:         v.ID,
			Product:        v.BNFCode,
			TariffCategory: t.Category,
			PackSize:       v.QtyVal.String(),
		}
		if p, ok := concessionPrice[k]; ok {
			row.ConcessionPence = &p
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].VMPPID < out[j].VMPPID
	})
	return out, nil
}
