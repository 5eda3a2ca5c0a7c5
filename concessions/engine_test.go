package concessions_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/prescribing-engine/concessions"
	"github.com/warp/prescribing-engine/core"
	"github.com/warp/prescribing-engine/matrixstore"
	"github.com/warp/prescribing-engine/orgs"
	"github.com/warp/prescribing-engine/store/memory"
)

const (
	bendro   = "0202010B0AAAAAA"
	atenolol = "0204000I0BCAAAB"
)

var (
	feb = core.NewMonth(2018, time.February)
	mar = core.NewMonth(2018, time.March)
	apr = core.NewMonth(2018, time.April)
)

func id(v int64) *int64 { return &v }

// newTestStore seeds two CCGs, prescribing for February and March 2018,
// and tariff and concession prices running to April.
func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()

	s.PutOrg(orgs.Org{Code: "03V", Name: "NHS Corby", Type: orgs.TypeCCG, STP: "E54000005", RegionalTeam: "Y54"})
	s.PutOrg(orgs.Org{Code: "03Q", Name: "NHS Vale of York", Type: orgs.TypeCCG, STP: "E54000006", RegionalTeam: "Y55"})
	s.PutOrg(orgs.Org{Code: "P87629", Type: orgs.TypePractice, CCG: "03V", PCN: "PCN0001"})
	s.PutOrg(orgs.Org{Code: "K83059", Type: orgs.TypePractice, CCG: "03V", PCN: "PCN0001"})
	s.PutOrg(orgs.Org{Code: "N84014", Type: orgs.TypePractice, CCG: "03Q"})

	s.PutPresentation(concessions.Presentation{BNFCode: bendro, Name: "Bendroflumethiazide 2.5mg tablets"})
	s.PutPresentation(concessions.Presentation{BNFCode: atenolol, Name: "Atenolol 25mg/5ml oral solution", QuantityMeansPack: true})

	s.PutVMPP(concessions.VMPP{ID: 1, Name: "Bendroflumethiazide 2.5mg tablets 28 tablet", BNFCode: bendro, ProductName: "Bendroflumethiazide 2.5mg tablets", QtyVal: decimal.NewFromInt(28)})
	s.PutVMPP(concessions.VMPP{ID: 2, Name: "Bendroflumethiazide 2.5mg tablets 500 tablet", BNFCode: bendro, ProductName: "Bendroflumethiazide 2.5mg tablets", QtyVal: decimal.NewFromInt(500)})
	s.PutVMPP(concessions.VMPP{ID: 3, Name: "Atenolol 25mg/5ml oral solution sugar free 300 ml", BNFCode: atenolol, ProductName: "Atenolol 25mg/5ml oral solution", QtyVal: decimal.NewFromInt(300)})

	for _, m := range []core.Month{feb, mar, apr} {
		s.PutTariffPrice(concessions.TariffPrice{Date: m, VMPPID: 1, PricePence: 100, Category: "Part VIIIA Category M"})
		s.PutTariffPrice(concessions.TariffPrice{Date: m, VMPPID: 2, PricePence: 1000, Category: "Part VIIIA Category M"})
		s.PutTariffPrice(concessions.TariffPrice{Date: m, VMPPID: 3, PricePence: 500, Category: "Part VIIIA Category A"})
	}

	for _, row := range []matrixstore.PrescribingRow{
		{Practice: "P87629", BNFCode: bendro, Month: "2018-02-01", Items: 2, Quantity: 56},
		{Practice: "P87629", BNFCode: bendro, Month: "2018-03-01", Items: 1, Quantity: 28},
		{Practice: "N84014", BNFCode: bendro, Month: "2018-03-01", Items: 1, Quantity: 28},
		{Practice: "K83059", BNFCode: atenolol, Month: "2018-03-01", Items: 1, Quantity: 2},
	} {
		s.AddPrescription(row)
	}

	s.PutConcession(concessions.Concession{ID: 1, Date: feb, Drug: "Bendroflumethiazide 2.5mg tablets", PackSize: "28", PricePence: 150, VMPPID: id(1)})
	s.PutConcession(concessions.Concession{ID: 2, Date: mar, Drug: "Bendroflumethiazide 2.5mg tablets", PackSize: "28", PricePence: 150, VMPPID: id(1)})
	s.PutConcession(concessions.Concession{ID: 3, Date: mar, Drug: "Bendroflumethiazide 2.5mg tablets", PackSize: "500", PricePence: 2000, VMPPID: id(2)})
	s.PutConcession(concessions.Concession{ID: 4, Date: apr, Drug: "Bendroflumethiazide 2.5mg tablets", PackSize: "28", PricePence: 150, VMPPID: id(1)})
	s.PutConcession(concessions.Concession{ID: 5, Date: mar, Drug: "Amiloride 5mg tablets", PackSize: "28", PricePence: 999})
	s.PutConcession(concessions.Concession{ID: 6, Date: mar, Drug: "Atenolol 25mg/5ml oral solution sugar free", PackSize: "300ml", PricePence: 400, VMPPID: id(3)})
	return s
}

// =============================================================================
// SUMMARY
// =============================================================================

func TestSpendingForEntity_Practice(t *testing.T) {
	// GIVEN: concessions Feb-Apr, prescribing only up to March
	engine := concessions.NewEngine(newTestStore(t))

	// WHEN: summarising three months for P87629
	got, err := engine.SpendingForEntity(context.Background(), orgs.Practice("P87629"), 3, apr)
	require.NoError(t, err)

	// THEN: one row per month, April estimated from March
	require.Len(t, got, 3)

	assert.Equal(t, feb, got[0].Month)
	assert.Equal(t, 1.86, got[0].TariffCost)   // 2 packs * £1.00 * 0.928
	assert.Equal(t, 0.93, got[0].AdditionalCost)
	assert.False(t, got[0].IsEstimate)
	require.NotNil(t, got[0].IsIncompleteMonth)
	assert.False(t, *got[0].IsIncompleteMonth)

	// the 500 pack concession costs more than the 28 pack one and wins
	assert.Equal(t, mar, got[1].Month)
	assert.Equal(t, 0.52, got[1].TariffCost)
	assert.Equal(t, 0.52, got[1].AdditionalCost)
	assert.False(t, got[1].IsEstimate)

	assert.Equal(t, apr, got[2].Month)
	assert.Equal(t, 0.93, got[2].TariffCost)
	assert.Equal(t, 0.46, got[2].AdditionalCost)
	assert.True(t, got[2].IsEstimate)
	assert.True(t, *got[2].IsIncompleteMonth)

	for _, row := range got {
		assert.Equal(t, mar, row.LastPrescribingDate)
	}
}

func TestSpendingForEntity_NoCurrentMonth(t *testing.T) {
	engine := concessions.NewEngine(newTestStore(t))

	got, err := engine.SpendingForEntity(context.Background(), orgs.Practice("P87629"), 1, core.Month{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, apr, got[0].Month)
	assert.Nil(t, got[0].IsIncompleteMonth)
}

func TestSpendingForEntity_Discount(t *testing.T) {
	engine := concessions.NewEngine(newTestStore(t), concessions.WithDiscountPercentage(decimal.Zero))

	got, err := engine.SpendingForEntity(context.Background(), orgs.Practice("P87629"), 3, core.Month{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, got[0].TariffCost)
	assert.Equal(t, 1.0, got[0].AdditionalCost)
}

func TestSpendingForEntity_NoConcessions(t *testing.T) {
	engine := concessions.NewEngine(memory.New())

	got, err := engine.SpendingForEntity(context.Background(), orgs.AllEngland(), 12, core.Month{})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = engine.SpendingForEntity(context.Background(), orgs.AllEngland(), 0, core.Month{})
	assert.True(t, core.IsClientError(err))
}

func TestSpendingForEntities_Parallel(t *testing.T) {
	engine := concessions.NewEngine(newTestStore(t), concessions.WithParallelism(2))
	entities := []orgs.OrgRef{orgs.Practice("P87629"), orgs.CCG("03Q"), orgs.AllEngland()}

	got, err := engine.SpendingForEntities(context.Background(), entities, 3, core.Month{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, e := range entities {
		assert.Equal(t, e, got[i].Entity)
	}

	// 03Q only prescribed bendroflumethiazide in March
	require.Len(t, got[1].Months, 2)
	assert.Equal(t, mar, got[1].Months[0].Month)
	assert.True(t, got[1].Months[1].IsEstimate)
}

// =============================================================================
// BREAKDOWN
// =============================================================================

func TestBreakdownForEntity_SortedByCostImpact(t *testing.T) {
	engine := concessions.NewEngine(newTestStore(t))

	got, err := engine.BreakdownForEntity(context.Background(), orgs.CCG("03V"), mar)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, bendro, got[0].BNFCode)
	assert.Equal(t, "Bendroflumethiazide 2.5mg tablets", got[0].ProductName)
	assert.Equal(t, 28.0, got[0].Quantity)
	assert.Equal(t, 0.52, got[0].AdditionalCost)

	// a concession below tariff is a saving
	assert.Equal(t, atenolol, got[1].BNFCode)
	assert.Equal(t, 9.28, got[1].TariffCost)
	assert.Equal(t, -1.86, got[1].AdditionalCost)
}

func TestBreakdownForEntity_DropsZeroQuantity(t *testing.T) {
	engine := concessions.NewEngine(newTestStore(t))

	// P87629 never prescribed atenolol
	got, err := engine.BreakdownForEntity(context.Background(), orgs.Practice("P87629"), mar)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, bendro, got[0].BNFCode)
}

func TestBreakdownForEntity_AllEnglandQuantity(t *testing.T) {
	engine := concessions.NewEngine(newTestStore(t))

	got, err := engine.BreakdownForEntity(context.Background(), orgs.AllEngland(), mar)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 56.0, got[0].Quantity)
}

func TestBreakdownForEntity_KeepsHighestAdditionalCost(t *testing.T) {
	// GIVEN: 10 units of one presentation and two packs conceded in February,
	// costing £10 and £15 more than tariff
	s := memory.New()
	s.PutOrg(orgs.Org{Code: "P87629", Type: orgs.TypePractice, CCG: "03V"})
	s.PutPresentation(concessions.Presentation{BNFCode: bendro, Name: "Bendroflumethiazide 2.5mg tablets"})
	s.PutVMPP(concessions.VMPP{ID: 1, Name: "Bendroflumethiazide 2.5mg tablets 1 tablet", BNFCode: bendro, ProductName: "cheaper concession", QtyVal: decimal.NewFromInt(1)})
	s.PutVMPP(concessions.VMPP{ID: 2, Name: "Bendroflumethiazide 2.5mg tablets 1 tablet", BNFCode: bendro, ProductName: "dearer concession", QtyVal: decimal.NewFromInt(1)})
	s.PutTariffPrice(concessions.TariffPrice{Date: feb, VMPPID: 1, PricePence: 100})
	s.PutTariffPrice(concessions.TariffPrice{Date: feb, VMPPID: 2, PricePence: 100})
	s.PutConcession(concessions.Concession{ID: 1, Date: feb, Drug: "a", PricePence: 200, VMPPID: id(1)})
	s.PutConcession(concessions.Concession{ID: 2, Date: feb, Drug: "b", PricePence: 250, VMPPID: id(2)})
	s.AddPrescription(matrixstore.PrescribingRow{Practice: "P87629", BNFCode: bendro, Month: "2018-02-01", Items: 1, Quantity: 10})
	engine := concessions.NewEngine(s, concessions.WithDiscountPercentage(decimal.Zero))

	// WHEN: breaking down February
	got, err := engine.BreakdownForEntity(context.Background(), orgs.Practice("P87629"), feb)
	require.NoError(t, err)

	// THEN: only the £15 line survives
	require.Len(t, got, 1)
	assert.Equal(t, "dearer concession", got[0].ProductName)
	assert.Equal(t, 10.0, got[0].Quantity)
	assert.Equal(t, 10.0, got[0].TariffCost)
	assert.Equal(t, 15.0, got[0].AdditionalCost)
}

func TestBreakdownForEntity_TieGoesToLowestPack(t *testing.T) {
	// GIVEN: two packs with identical pricing conceded in the same month
	s := newTestStore(t)
	s.PutVMPP(concessions.VMPP{ID: 9, Name: "Bendroflumethiazide 2.5mg tablets 28 tablet", BNFCode: bendro, ProductName: "Other product", QtyVal: decimal.NewFromInt(28)})
	s.PutTariffPrice(concessions.TariffPrice{Date: feb, VMPPID: 9, PricePence: 100})
	s.PutConcession(concessions.Concession{ID: 0, Date: feb, Drug: "x", PricePence: 150, VMPPID: id(9)})

	// WHEN: breaking down February
	got, err := concessions.NewEngine(s).BreakdownForEntity(context.Background(), orgs.Practice("P87629"), feb)
	require.NoError(t, err)

	// THEN: pack 1 wins even though pack 9's concession was seen first
	require.Len(t, got, 1)
	assert.Equal(t, "Bendroflumethiazide 2.5mg tablets", got[0].ProductName)
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func TestReferenceDataMissing(t *testing.T) {
	tests := []struct {
		name string
		seed func(*memory.Store)
		kind string
	}{
		{
			name: "unknown pack",
			seed: func(s *memory.Store) {
				s.PutConcession(concessions.Concession{ID: 10, Date: mar, PricePence: 1, VMPPID: id(99)})
			},
			kind: "vmpp",
		},
		{
			name: "no tariff price",
			seed: func(s *memory.Store) {
				s.PutVMPP(concessions.VMPP{ID: 20, BNFCode: bendro, QtyVal: decimal.NewFromInt(28)})
				s.PutConcession(concessions.Concession{ID: 10, Date: mar, PricePence: 1, VMPPID: id(20)})
			},
			kind: "tariff_price",
		},
		{
			name: "no presentation",
			seed: func(s *memory.Store) {
				s.PutVMPP(concessions.VMPP{ID: 20, BNFCode: "0303", QtyVal: decimal.NewFromInt(28)})
				s.PutTariffPrice(concessions.TariffPrice{Date: mar, VMPPID: 20, PricePence: 1})
				s.PutConcession(concessions.Concession{ID: 10, Date: mar, PricePence: 1, VMPPID: id(20)})
			},
			kind: "presentation",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			tt.seed(s)

			_, err := concessions.NewEngine(s).BreakdownForEntity(context.Background(), orgs.AllEngland(), mar)

			require.True(t, core.IsReferenceDataMissing(err))
			var refErr *core.ReferenceDataError
			require.ErrorAs(t, err, &refErr)
			assert.Equal(t, tt.kind, refErr.Kind)
			assert.Equal(t, int64(10), refErr.ConcessionID)
		})
	}
}
