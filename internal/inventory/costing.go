package inventory

import "github.com/shopspring/decimal"

// RecostOnInbound returns the weighted average after receiving qty units at unitCost.
// stockAfter is the stock including the received units. The average is unchanged when
// stockAfter is not positive.
func RecostOnInbound(stockAfter int64, oldAvg decimal.Decimal, qty int64, unitCost decimal.Decimal) decimal.Decimal {
	if stockAfter <= 0 {
		return oldAvg
	}
	stockBefore := stockAfter - qty
	value := decimal.NewFromInt(stockBefore).Mul(oldAvg).Add(decimal.NewFromInt(qty).Mul(unitCost))
	return value.Div(decimal.NewFromInt(stockAfter))
}

// RecostOnReversal undoes RecostOnInbound: it removes qty units received at unitCost from
// a product holding stockBefore units at oldAvg. The result is clamped to zero, and is
// zero whenever no stock remains.
func RecostOnReversal(stockBefore int64, oldAvg decimal.Decimal, qty int64, unitCost decimal.Decimal) decimal.Decimal {
	stockAfter := stockBefore - qty
	if stockAfter <= 0 {
		return decimal.Zero
	}
	value := decimal.NewFromInt(stockBefore).Mul(oldAvg).Sub(decimal.NewFromInt(qty).Mul(unitCost))
	avg := value.Div(decimal.NewFromInt(stockAfter))
	if avg.IsNegative() {
		return decimal.Zero
	}
	return avg
}

// costAfterOutbound keeps the average while stock remains and resets it once the shelf is empty.
func costAfterOutbound(stockAfter int64, oldAvg decimal.Decimal) decimal.Decimal {
	if stockAfter <= 0 {
		return decimal.Zero
	}
	return oldAvg
}
