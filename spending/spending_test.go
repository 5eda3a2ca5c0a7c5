package spending_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/prescribing-engine/bnf"
	"github.com/warp/prescribing-engine/core"
	"github.com/warp/prescribing-engine/matrixstore"
	"github.com/warp/prescribing-engine/orgs"
	"github.com/warp/prescribing-engine/spending"
	"github.com/warp/prescribing-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()

	s.PutOrg(orgs.Org{Code: "03V", Name: "NHS Corby", Type: orgs.TypeCCG, STP: "E54000005", RegionalTeam: "Y54"})
	s.PutOrg(orgs.Org{Code: "03Q", Name: "NHS Vale of York", Type: orgs.TypeCCG, STP: "E54000006", RegionalTeam: "Y55"})
	s.PutOrg(orgs.Org{Code: "P87629", Name: "1/ST ANDREWS MEDICAL PRACTICE", Type: orgs.TypePractice, CCG: "03V", Setting: 4})
	s.PutOrg(orgs.Org{Code: "K83059", Name: "DR KHALID & PARTNERS", Type: orgs.TypePractice, CCG: "03V", Setting: 4})
	s.PutOrg(orgs.Org{Code: "C84001", Name: "LARWOOD SURGERY", Type: orgs.TypePractice, CCG: "03V", Setting: 4})
	s.PutOrg(orgs.Org{Code: "N84014", Name: "AINSDALE VILLAGE SURGERY", Type: orgs.TypePractice, CCG: "03Q", Setting: 4})

	s.PutSection(bnf.SectionRecord{BNFID: "02", Chapter: 2})
	s.PutSection(bnf.SectionRecord{BNFID: "0202", Chapter: 2, Section: 2})
	s.PutSection(bnf.SectionRecord{BNFID: "020201", Chapter: 2, Section: 2, Paragraph: 1})

	for _, row := range []matrixstore.PrescribingRow{
		{Practice: "P87629", BNFCode: "0202010B0AAAAAA", Month: "2014-11-01", Items: 38, Quantity: 1399, ActualCostPence: 4213},
		{Practice: "K83059", BNFCode: "0202010B0AAABAB", Month: "2014-11-01", Items: 2, Quantity: 56, ActualCostPence: 300},
		{Practice: "K83059", BNFCode: "0204000I0BCAAAB", Month: "2014-11-01", Items: 5, Quantity: 100, ActualCostPence: 1000},
		{Practice: "N84014", BNFCode: "0202010B0AAAAAA", Month: "2014-09-01", Items: 1, Quantity: 28, ActualCostPence: 161},
	} {
		s.AddPrescription(row)
	}
	return s
}

func newTestService(t *testing.T) *spending.Service {
	t.Helper()
	ctx := context.Background()
	store := newTestStore(t)

	members, err := store.Memberships(ctx)
	require.NoError(t, err)
	b := matrixstore.NewBuilder(members)
	require.NoError(t, store.AggregatedPrescribing(ctx, b.Add))

	return spending.NewService(
		matrixstore.NewAtomicProvider(b.Build()),
		store,
		bnf.NewResolver(store),
	)
}

// =============================================================================
// TOTAL SPENDING
// =============================================================================

func TestTotalSpending_EmitsEveryMonth(t *testing.T) {
	// GIVEN: prescribing of 0202010B0 in September and November only
	svc := newTestService(t)

	// WHEN: asking for the total
	rows, err := svc.TotalSpending(context.Background(), []string{"0202010B0"})
	require.NoError(t, err)

	// THEN: October is present with zeros
	require.Len(t, rows, 3)
	assert.Equal(t, "2014-09-01", rows[0].Date.String())
	assert.Equal(t, int64(1), rows[0].Items)
	assert.Equal(t, 1.61, rows[0].ActualCost)

	assert.Equal(t, "2014-10-01", rows[1].Date.String())
	assert.Equal(t, int64(0), rows[1].Items)
	assert.Equal(t, 0.0, rows[1].ActualCost)

	assert.Equal(t, int64(40), rows[2].Items)
	assert.Equal(t, 1455.0, rows[2].Quantity)
	assert.Equal(t, 45.13, rows[2].ActualCost)
	assert.Nil(t, rows[2].RowID)
}

func TestTotalSpending_SectionNumber(t *testing.T) {
	svc := newTestService(t)

	rows, err := svc.TotalSpending(context.Background(), []string{"2.2"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(40), rows[2].Items)
}

func TestTotalSpending_NoMatchIsEmpty(t *testing.T) {
	svc := newTestService(t)

	rows, err := svc.TotalSpending(context.Background(), []string{"0303"})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NotNil(t, rows)
}

func TestTotalSpending_RejectsMixedLengths(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.TotalSpending(context.Background(), []string{"0202010B0", "0202010B0AAAAAA"})
	assert.ErrorIs(t, err, core.ErrMixedCodeLengths)
}

func TestTotalSpending_NoSnapshot(t *testing.T) {
	store := newTestStore(t)
	svc := spending.NewService(matrixstore.NewAtomicProvider(nil), store, bnf.NewResolver(store))

	_, err := svc.TotalSpending(context.Background(), nil)
	assert.ErrorIs(t, err, matrixstore.ErrNoSnapshot)
}

// =============================================================================
// SPENDING BY ORG
// =============================================================================

func TestSpendingByCCG_SumsMemberPractices(t *testing.T) {
	// GIVEN: P87629 (38 items, £42.13) and K83059 (2 items, £3.00) in 03V
	svc := newTestService(t)

	// WHEN: querying 03V at CCG level for November
	rows, err := svc.SpendingByOrg(context.Background(), spending.Query{
		Codes: []string{"0202010B0"},
		Level: orgs.LevelCCG,
		Orgs:  []string{"03V"},
		Date:  "2014-11-01",
	})
	require.NoError(t, err)

	// THEN: one row carrying the exact sum
	require.Len(t, rows, 1)
	assert.Equal(t, "03V", *rows[0].RowID)
	assert.Equal(t, "NHS Corby", *rows[0].RowName)
	assert.Equal(t, int64(40), rows[0].Items)
	assert.Equal(t, 45.13, rows[0].ActualCost)
	assert.Nil(t, rows[0].Setting)
}

func TestSpendingByPractice_ExpandsCCGAndSkipsZeroRows(t *testing.T) {
	svc := newTestService(t)

	rows, err := svc.SpendingByOrg(context.Background(), spending.Query{
		Codes: []string{"0202010B0"},
		Level: orgs.LevelPractice,
		Orgs:  []string{"03V"},
		Date:  "2014-11-01",
	})
	require.NoError(t, err)

	// C84001 is in 03V but prescribed nothing, so has no row
	require.Len(t, rows, 2)
	assert.Equal(t, "K83059", *rows[0].RowID)
	assert.Equal(t, "P87629", *rows[1].RowID)
	assert.Equal(t, int64(38), rows[1].Items)
	assert.Equal(t, 42.13, rows[1].ActualCost)
	assert.Equal(t, 1399.0, rows[1].Quantity)
	assert.Equal(t, "03V", *rows[1].CCG)
	assert.Equal(t, 4, *rows[1].Setting)
}

func TestSpendingByCCG_AllCCGsEqualNationalTotal(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	byCCG, err := svc.SpendingByOrg(ctx, spending.Query{Level: orgs.LevelCCG, Date: "2014-11-01"})
	require.NoError(t, err)
	national, err := svc.SpendingByOrg(ctx, spending.Query{Level: orgs.LevelAllPractices, Date: "2014-11-01"})
	require.NoError(t, err)
	require.Len(t, national, 1)

	var items int64
	var cost float64
	for _, r := range byCCG {
		items += r.Items
		cost += r.ActualCost
	}
	assert.Equal(t, national[0].Items, items)
	assert.InDelta(t, national[0].ActualCost, cost, 0.001)
}

func TestSpendingByOrg_AllDatesWhenNoDate(t *testing.T) {
	svc := newTestService(t)

	rows, err := svc.SpendingByOrg(context.Background(), spending.Query{
		Codes: []string{"0202010B0"},
		Level: orgs.LevelCCG,
	})
	require.NoError(t, err)

	// 03Q in September, 03V in November; nothing in October
	require.Len(t, rows, 2)
	assert.Equal(t, "2014-09-01", rows[0].Date.String())
	assert.Equal(t, "03Q", *rows[0].RowID)
	assert.Equal(t, "03V", *rows[1].RowID)
}

func TestSpendingByPractice_MixedPracticeAndCCGFilter(t *testing.T) {
	// GIVEN: a filter naming practice N84014 (03Q) and CCG 03V
	svc := newTestService(t)

	// WHEN: querying practices for every month
	rows, err := svc.SpendingByOrg(context.Background(), spending.Query{
		Codes: []string{"0202010B0"},
		Level: orgs.LevelPractice,
		Orgs:  []string{"N84014", "03V"},
	})
	require.NoError(t, err)

	// THEN: N84014 in September plus the 03V practices in November
	require.Len(t, rows, 3)
	assert.Equal(t, "N84014", *rows[0].RowID)
	assert.Equal(t, "K83059", *rows[1].RowID)
	assert.Equal(t, "P87629", *rows[2].RowID)
}

func TestSpendingByPractice_RejectsOtherOrgTypesInFilter(t *testing.T) {
	svc := newTestService(t)

	// a 9 character code could be an STP or a PCN
	_, err := svc.SpendingByOrg(context.Background(), spending.Query{
		Level: orgs.LevelPractice,
		Orgs:  []string{"E54000005"},
	})
	assert.True(t, core.IsClientError(err))
}

func TestSpendingByOrg_AllPracticesRejectsOrgFilter(t *testing.T) {
	// GIVEN: a national query that also names a CCG
	svc := newTestService(t)

	// WHEN: querying at all_practices level
	_, err := svc.SpendingByOrg(context.Background(), spending.Query{
		Level: orgs.LevelAllPractices,
		Orgs:  []string{"03V"},
		Date:  "2014-11-01",
	})

	// THEN: the filter is refused rather than dropped
	require.Error(t, err)
	assert.True(t, core.IsClientError(err))
}

func TestSpendingByPractice_RequiresDateOrOrg(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.SpendingByOrg(context.Background(), spending.Query{Level: orgs.LevelPractice})
	assert.True(t, core.IsClientError(err))
}

func TestSpendingByOrg_Errors(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.SpendingByOrg(ctx, spending.Query{Level: orgs.LevelCCG, Orgs: []string{"99X"}})
	assert.True(t, core.IsNotFound(err), "unknown org")

	_, err = svc.SpendingByOrg(ctx, spending.Query{Level: orgs.LevelCCG, Date: "2014-11-15"})
	assert.True(t, core.IsClientError(err), "malformed date")

	_, err = svc.SpendingByOrg(ctx, spending.Query{Level: orgs.LevelCCG, Date: "2015-01-01"})
	assert.True(t, core.IsNotFound(err), "date outside snapshot")

	_, err = svc.SpendingByOrg(ctx, spending.Query{Level: orgs.Level("county")})
	assert.True(t, core.IsClientError(err), "unknown level")

	_, err = svc.SpendingByOrg(ctx, spending.Query{Level: orgs.LevelCCG, Codes: []string{"9.9"}})
	assert.True(t, core.IsNotFound(err), "unknown section")
}
