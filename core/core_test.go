package core_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/prescribing-engine/core"
)

func TestParseMonth_AcceptsFirstOfMonthAndYearMonth(t *testing.T) {
	m, err := core.ParseMonth("2014-11-01")
	require.NoError(t, err)
	assert.Equal(t, core.NewMonth(2014, time.November), m)

	m, err = core.ParseMonth("2014-11")
	require.NoError(t, err)
	assert.Equal(t, "2014-11-01", m.String())
}

func TestParseMonth_RejectsMidMonthAndGarbage(t *testing.T) {
	_, err := core.ParseMonth("2014-11-15")
	assert.True(t, core.IsClientError(err))

	_, err = core.ParseMonth("not-a-date")
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "date", verr.Field)
}

func TestMonth_Arithmetic(t *testing.T) {
	jan := core.NewMonth(2018, time.January)
	assert.Equal(t, core.NewMonth(2017, time.December), jan.AddMonths(-1))
	assert.Equal(t, 13, core.MonthsBetween(jan, core.NewMonth(2019, time.February)))
	assert.True(t, jan.Before(jan.AddMonths(1)))
	assert.True(t, jan.BeforeOrEqual(jan))
}

func TestMonthRange_Months(t *testing.T) {
	r := core.LastMonths(core.NewMonth(2018, time.July), 6)
	months := r.Months()
	require.Len(t, months, 6)
	assert.Equal(t, "2018-02-01", months[0].String())
	assert.Equal(t, "2018-07-01", months[5].String())
	assert.True(t, r.Contains(core.NewMonth(2018, time.March)))
	assert.False(t, r.Contains(core.NewMonth(2018, time.August)))
}

func TestMonthRange_Validate(t *testing.T) {
	r := core.MonthRange{Start: core.NewMonth(2018, time.July), End: core.NewMonth(2018, time.June)}
	assert.ErrorIs(t, r.Validate(), core.ErrInvalidPeriod)
	assert.True(t, core.IsClientError(r.Validate()))
}

func TestMonth_TextRoundTrip(t *testing.T) {
	var m core.Month
	require.NoError(t, m.UnmarshalText([]byte("2013-04-01")))
	b, err := m.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2013-04-01", string(b))
}

func TestCurrencyConversion(t *testing.T) {
	// GIVEN: a raw cost of 461 pence
	// THEN: it is exposed as 4.61 pounds
	assert.Equal(t, 4.61, core.RoundCost(core.PenceToPounds(461)))
	assert.Equal(t, 42.13, core.RoundCost(42.12999999))
	assert.Equal(t, 1.5, core.RoundDecimalCost(decimal.RequireFromString("1.499")))
	assert.True(t, decimal.RequireFromString("4.615").Equal(core.PenceDecimalToPounds(decimal.RequireFromString("461.5"))))
}

func TestErrorTaxonomy(t *testing.T) {
	assert.True(t, core.IsNotFound(core.NotFound("practice", "X")))
	assert.False(t, core.IsClientError(core.NotFound("practice", "X")))
	assert.True(t, core.IsClientError(core.ErrMixedCodeLengths))

	refErr := &core.ReferenceDataError{Kind: "presentation", Key: "0202010B0AAAAAA", ConcessionID: 7}
	wrapped := errors.Join(errors.New("context"), refErr)
	assert.True(t, core.IsReferenceDataMissing(wrapped))
	assert.Contains(t, refErr.Error(), "0202010B0AAAAAA")
}
