package core

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// PenceToPounds converts a minor-unit amount to pounds without rounding.
func PenceToPounds(pence float64) float64 {
	return pence / 100
}

// RoundCost rounds a pound amount to 2 decimal places. Only call this at the
// output boundary; grouped sums must stay unrounded.
func RoundCost(pounds float64) float64 {
	return decimal.NewFromFloat(pounds).Round(2).InexactFloat64()
}

// RoundDecimalCost is RoundCost for decimal amounts.
func RoundDecimalCost(pounds decimal.Decimal) float64 {
	return pounds.Round(2).InexactFloat64()
}

// PenceDecimalToPounds converts a decimal pence amount to pounds.
func PenceDecimalToPounds(pence decimal.Decimal) decimal.Decimal {
	return pence.Div(hundred)
}
