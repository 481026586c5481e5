package inventory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDecimalNear(t *testing.T, want, got decimal.Decimal, tolerance float64) {
	t.Helper()
	w, _ := want.Float64()
	g, _ := got.Float64()
	require.InDelta(t, w, g, tolerance, "want %s got %s", want, got)
}

func TestRecostOnInbound(t *testing.T) {
	tests := []struct {
		name       string
		stockAfter int64
		oldAvg     string
		qty        int64
		unitCost   string
		want       string
	}{
		{name: "blend", stockAfter: 15, oldAvg: "5", qty: 5, unitCost: "8", want: "6"},
		{name: "first receipt", stockAfter: 4, oldAvg: "0", qty: 4, unitCost: "12.5", want: "12.5"},
		{name: "no stock after", stockAfter: 0, oldAvg: "3", qty: 2, unitCost: "9", want: "3"},
		{name: "negative stock after", stockAfter: -2, oldAvg: "3", qty: 1, unitCost: "9", want: "3"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := RecostOnInbound(tc.stockAfter, dec(tc.oldAvg), tc.qty, dec(tc.unitCost))
			require.Truef(t, dec(tc.want).Equal(got), "want %s got %s", tc.want, got)
		})
	}
}

func TestRecostOnReversal(t *testing.T) {
	tests := []struct {
		name        string
		stockBefore int64
		oldAvg      string
		qty         int64
		unitCost    string
		want        string
	}{
		{name: "undo blend", stockBefore: 15, oldAvg: "6", qty: 5, unitCost: "8", want: "5"},
		{name: "empties shelf", stockBefore: 5, oldAvg: "8", qty: 5, unitCost: "8", want: "0"},
		{name: "clamped", stockBefore: 10, oldAvg: "1", qty: 5, unitCost: "100", want: "0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := RecostOnReversal(tc.stockBefore, dec(tc.oldAvg), tc.qty, dec(tc.unitCost))
			require.Truef(t, dec(tc.want).Equal(got), "want %s got %s", tc.want, got)
		})
	}
}

func TestCostingInverseLaw(t *testing.T) {
	type receipt struct {
		qty  int64
		cost decimal.Decimal
	}
	receipts := []receipt{
		{qty: 7, cost: dec("3.33")},
		{qty: 13, cost: dec("4.10")},
		{qty: 1, cost: dec("19.99")},
		{qty: 250, cost: dec("0.07")},
		{qty: 3, cost: dec("7")},
	}
	startStock := int64(11)
	startAvg := dec("5.25")

	stock, avg := startStock, startAvg
	for _, r := range receipts {
		stock += r.qty
		avg = RecostOnInbound(stock, avg, r.qty, r.cost)
	}
	for i := len(receipts) - 1; i >= 0; i-- {
		r := receipts[i]
		avg = RecostOnReversal(stock, avg, r.qty, r.cost)
		stock -= r.qty
	}
	require.Equal(t, startStock, stock)
	requireDecimalNear(t, startAvg, avg, 1e-6)
}
