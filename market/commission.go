/*
commission.go - The commission split

PURPOSE:
  One pure, deterministic function divides a sale's price between the
  seller's cut and the manager's remainder. This is the only place in the
  engine where rounding happens.

FORMULA:
  seller_commission = round2(price * rate / 100)     half-up to cents
  amount_to_manager = price - seller_commission

  The two parts always sum to the price exactly: the manager side is a
  subtraction, never a second rounded multiplication.

DEFAULT RATE:
  A seller with a zero or negative rate earns the platform default of 15%.
  The default is resolved at sale time and never written back to the seller.
*/
package market

import "github.com/shopspring/decimal"

// DefaultCommissionRate applies when a seller has no usable rate at sale time.
var DefaultCommissionRate = decimal.NewFromInt(15)

var hundred = decimal.NewFromInt(100)

// CommissionSplit is the outcome of splitting one sale's price.
type CommissionSplit struct {
	Price           decimal.Decimal
	Rate            decimal.Decimal // rate actually applied, after defaulting
	SellerCut       decimal.Decimal
	AmountToManager decimal.Decimal
}

// SplitCommission computes the seller/manager division of price at the given
// percentage rate. Rounding is half-up to two decimal places and occurs only
// on the seller side.
func SplitCommission(price, rate decimal.Decimal) CommissionSplit {
	if rate.LessThanOrEqual(decimal.Zero) {
		rate = DefaultCommissionRate
	}
	sellerCut := price.Mul(rate).Div(hundred).Round(2)
	return CommissionSplit{
		Price:           price,
		Rate:            rate,
		SellerCut:       sellerCut,
		AmountToManager: price.Sub(sellerCut),
	}
}
