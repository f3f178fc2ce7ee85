package market_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/consign-engine/market"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSplitCommission_ExactSplit(t *testing.T) {
	// GIVEN: A 100.00 sale at a 15% seller rate
	// WHEN: Splitting the commission
	// THEN: Seller gets 15.00, manager gets 85.00
	split := market.SplitCommission(dec("100"), dec("15"))

	assert.True(t, split.SellerCut.Equal(dec("15")), "seller cut: got %s", split.SellerCut)
	assert.True(t, split.AmountToManager.Equal(dec("85")), "manager amount: got %s", split.AmountToManager)
}

func TestSplitCommission_HalfUpRounding(t *testing.T) {
	// GIVEN: A 99.99 sale at 15%: the raw cut is 14.9985
	// WHEN: Splitting
	// THEN: The seller cut rounds half-up to 15.00 and the manager side is
	//       the exact remainder, 84.99
	split := market.SplitCommission(dec("99.99"), dec("15"))

	assert.True(t, split.SellerCut.Equal(dec("15.00")), "seller cut: got %s", split.SellerCut)
	assert.True(t, split.AmountToManager.Equal(dec("84.99")), "manager amount: got %s", split.AmountToManager)
}

func TestSplitCommission_PartsAlwaysSumToPrice(t *testing.T) {
	cases := []struct{ price, rate string }{
		{"100", "15"},
		{"99.99", "15"},
		{"0.01", "15"},
		{"19.99", "33"},
		{"42.37", "7.5"},
		{"1234.56", "12.34"},
	}
	for _, c := range cases {
		split := market.SplitCommission(dec(c.price), dec(c.rate))
		sum := split.SellerCut.Add(split.AmountToManager)
		require.True(t, sum.Equal(dec(c.price)),
			"price %s rate %s: %s + %s = %s", c.price, c.rate, split.SellerCut, split.AmountToManager, sum)
	}
}

func TestSplitCommission_ZeroRateFallsBackToDefault(t *testing.T) {
	// GIVEN: A seller whose stored rate is zero
	// WHEN: Splitting a 200.00 sale
	// THEN: The platform default of 15% applies
	split := market.SplitCommission(dec("200"), decimal.Zero)

	assert.True(t, split.Rate.Equal(market.DefaultCommissionRate))
	assert.True(t, split.SellerCut.Equal(dec("30")), "seller cut: got %s", split.SellerCut)
}

func TestSplitCommission_NegativeRateFallsBackToDefault(t *testing.T) {
	split := market.SplitCommission(dec("100"), dec("-5"))

	assert.True(t, split.Rate.Equal(market.DefaultCommissionRate))
	assert.True(t, split.SellerCut.Equal(dec("15")))
}

func TestSplitCommission_RoundsOnlyOnSellerSide(t *testing.T) {
	// The manager amount is a subtraction, never a second rounded
	// multiplication, so no cent is ever created or destroyed.
	split := market.SplitCommission(dec("10.01"), dec("33.33"))

	raw := dec("10.01").Mul(dec("33.33")).Div(dec("100")).Round(2)
	assert.True(t, split.SellerCut.Equal(raw))
	assert.True(t, split.AmountToManager.Equal(dec("10.01").Sub(raw)))
}
