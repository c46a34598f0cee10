package event

import "github.com/shopspring/decimal"

// RiskParamSet records a market registration or parameter update.
type RiskParamSet struct {
	Market               string          `json:"market"`
	Name                 string          `json:"name"`
	InitialMarginRate    decimal.Decimal `json:"initial_margin_rate"`
	LiquidationThreshold decimal.Decimal `json:"liquidation_threshold"`
	LiquidationPriceOff  decimal.Decimal `json:"liquidation_price_off"`
	InsuranceFeeRate     decimal.Decimal `json:"insurance_fee_rate"`
}

func (r *RiskParamSet) EventType() EventType { return EventTypeRiskParamSet }

func (r *RiskParamSet) MarketID() *string { return &r.Market }

// MarketRemoved records a market dropping out of the registered list.
type MarketRemoved struct {
	Market string `json:"market"`
}

func (m *MarketRemoved) EventType() EventType { return EventTypeMarketRemoved }

func (m *MarketRemoved) MarketID() *string { return &m.Market }
