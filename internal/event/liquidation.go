package event

import "github.com/shopspring/decimal"

// LiquidationExecuted records a position transfer from a broken trader to a
// liquidator.
type LiquidationExecuted struct {
	Market       string          `json:"market"`
	Trader       string          `json:"trader"`
	Liquidator   string          `json:"liquidator"`
	PaperChange  decimal.Decimal `json:"paper_change"`
	CreditChange decimal.Decimal `json:"credit_change"`
	InsuranceFee decimal.Decimal `json:"insurance_fee"`
}

func (l *LiquidationExecuted) EventType() EventType { return EventTypeLiquidationExecuted }

func (l *LiquidationExecuted) MarketID() *string { return &l.Market }

// BadDebtSettled records an insolvent account socialized into insurance.
type BadDebtSettled struct {
	Trader    string          `json:"trader"`
	Primary   decimal.Decimal `json:"primary"`
	Secondary decimal.Decimal `json:"secondary"`
}

func (b *BadDebtSettled) EventType() EventType { return EventTypeBadDebtSettled }

func (b *BadDebtSettled) MarketID() *string { return nil }
