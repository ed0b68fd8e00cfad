package budget

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// PercentOf returns part/whole*100 rounded to percentPlaces.
// A zero whole yields zero; callers that care about the zero-budget
// case handle it before calling (see Classify).
func PercentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(percentPlaces)
}

const percentPlaces = 4
