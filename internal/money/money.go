// Package money holds the decimal helpers shared by every ledger: cent rounding,
// tolerance comparison and pro-rata apportioning.
package money

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits kept for currency amounts.
const Places = 2

// Tolerance is the largest difference treated as equal when comparing sums.
var Tolerance = decimal.RequireFromString("0.01")

// Zero is the zero amount.
var Zero = decimal.Zero

// Round rounds an amount to cents using half-away-from-zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// FromFloat converts a float amount and rounds it to cents.
func FromFloat(f float64) decimal.Decimal {
	return Round(decimal.NewFromFloat(f))
}

// Equal reports whether a and b differ by no more than Tolerance.
func Equal(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// Exceeds reports whether a is greater than limit by more than half a cent.
func Exceeds(a, limit decimal.Decimal) bool {
	return a.Sub(limit).GreaterThan(decimal.New(5, -3))
}

// Sum adds the amounts.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Min returns the smaller amount.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// ClampZero returns d, or zero when d is negative.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Apportion splits total across weights pro rata in whole cents using the largest
// remainder method: every share is floored to a cent and the leftover cents go to the
// largest fractional parts, ties to the later weight. Shares always sum to total and
// never have the opposite sign. Negative weights count as zero; zero total weight splits
// evenly.
func Apportion(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	n := len(weights)
	if n == 0 {
		return nil
	}
	w := make([]decimal.Decimal, n)
	weightSum := decimal.Zero
	for i, weight := range weights {
		w[i] = ClampZero(weight)
		weightSum = weightSum.Add(w[i])
	}
	if weightSum.IsZero() {
		for i := range w {
			w[i] = decimal.NewFromInt(1)
		}
		weightSum = decimal.NewFromInt(int64(n))
	}

	negative := total.IsNegative()
	cents := Round(total).Abs().Shift(Places)
	parts := make([]int64, n)
	remainders := make([]decimal.Decimal, n)
	leftover := cents.IntPart()
	for i := range w {
		exact := cents.Mul(w[i]).Div(weightSum)
		floor := exact.Floor()
		parts[i] = floor.IntPart()
		remainders[i] = exact.Sub(floor)
		leftover -= parts[i]
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if c := remainders[order[a]].Cmp(remainders[order[b]]); c != 0 {
			return c > 0
		}
		return order[a] > order[b]
	})
	for k := 0; leftover > 0; k++ {
		parts[order[k%n]]++
		leftover--
	}

	shares := make([]decimal.Decimal, n)
	for i, c := range parts {
		shares[i] = decimal.New(c, -Places)
		if negative {
			shares[i] = shares[i].Neg()
		}
	}
	return shares
}
