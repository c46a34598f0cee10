package event

import "github.com/shopspring/decimal"

// FundingRateUpdated records a new cumulative funding coefficient.
type FundingRateUpdated struct {
	Market string          `json:"market"`
	Rate   decimal.Decimal `json:"rate"`
}

func (f *FundingRateUpdated) EventType() EventType { return EventTypeFundingRateUpdated }

func (f *FundingRateUpdated) MarketID() *string { return &f.Market }
