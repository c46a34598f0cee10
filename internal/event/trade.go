package event

import "github.com/shopspring/decimal"

// BalanceChange is one trader's settled paper/credit delta in one market.
// Every settled mutation emits exactly one per touched trader; consecutive
// fills against the same maker are already coalesced upstream.
type BalanceChange struct {
	Trader      string          `json:"trader"`
	Market      string          `json:"market"`
	PaperDelta  decimal.Decimal `json:"paper_delta"`
	CreditDelta decimal.Decimal `json:"credit_delta"`
}

func (b *BalanceChange) EventType() EventType { return EventTypeBalanceChange }

func (b *BalanceChange) MarketID() *string { return &b.Market }

// TradeSettled summarizes one settled batch.
type TradeSettled struct {
	Market      string          `json:"market"`
	OrderSender string          `json:"order_sender"`
	Taker       string          `json:"taker"`
	Fee         decimal.Decimal `json:"fee"`
	OrderCount  int             `json:"order_count"`
}

func (t *TradeSettled) EventType() EventType { return EventTypeTradeSettled }

func (t *TradeSettled) MarketID() *string { return &t.Market }
