// Package matching settles batches of signed orders. The first order of a
// batch is the taker, the rest are makers; every fill executes at the maker's
// limit price and the whole batch settles atomically or not at all.
package matching

import (
	"github.com/shopspring/decimal"

	"PerpDealer/internal/fpmath"
)

// Order is a signed intent to trade. Paper is the position delta the signer
// wants (positive long, negative short) and Credit the maximum quote amount
// they give up (long) or the minimum they receive (short); the two always
// carry opposite signs. The implied limit price is |Credit/Paper|.
//
// Fee rates are signed: a negative rate is a rebate paid by the order sender
// to the trader.
type Order struct {
	Market       string
	Paper        decimal.Decimal
	Credit       decimal.Decimal
	MakerFeeRate decimal.Decimal
	TakerFeeRate decimal.Decimal
	Signer       string
	OrderSender  string
	ExpiresAt    int64
	Nonce        uint64
}

// Price returns the order's implied limit price, zero when the order is
// degenerate (either leg zero or legs sharing a sign).
func (o *Order) Price() decimal.Decimal {
	if o.Paper.IsZero() || o.Credit.IsZero() || o.Paper.Sign() == o.Credit.Sign() {
		return decimal.Zero
	}
	return fpmath.Div(o.Credit.Abs(), o.Paper.Abs())
}

// IsLong reports the taker direction of the order.
func (o *Order) IsLong() bool {
	return o.Paper.Sign() > 0
}
