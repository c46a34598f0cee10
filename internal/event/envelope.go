package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDeposit
	EventTypeWithdrawRequested
	EventTypeWithdrawExecuted
	EventTypeBalanceChange
	EventTypeTradeSettled
	EventTypeFundingRateUpdated
	EventTypeLiquidationExecuted
	EventTypeBadDebtSettled
	EventTypeRiskParamSet
	EventTypeMarketRemoved
)

// Envelope wraps every event the dealer emits. Sequence is the global
// monotonic order assigned under the dealer lock; Timestamp comes from the
// injected clock, never directly from the wall clock.
type Envelope struct {
	Sequence  int64     `json:"sequence"`
	EventID   uuid.UUID `json:"event_id"`
	Type      EventType `json:"type"`
	TypeName  string    `json:"type_name"`
	MarketID  *string   `json:"market_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Event     `json:"payload"`
}

// Event is implemented by every payload type.
type Event interface {
	EventType() EventType

	// MarketID returns the market context (nil for global events).
	MarketID() *string
}

func (et EventType) String() string {
	switch et {
	case EventTypeDeposit:
		return "Deposit"
	case EventTypeWithdrawRequested:
		return "WithdrawRequested"
	case EventTypeWithdrawExecuted:
		return "WithdrawExecuted"
	case EventTypeBalanceChange:
		return "BalanceChange"
	case EventTypeTradeSettled:
		return "TradeSettled"
	case EventTypeFundingRateUpdated:
		return "FundingRateUpdated"
	case EventTypeLiquidationExecuted:
		return "LiquidationExecuted"
	case EventTypeBadDebtSettled:
		return "BadDebtSettled"
	case EventTypeRiskParamSet:
		return "RiskParamSet"
	case EventTypeMarketRemoved:
		return "MarketRemoved"
	default:
		return "Unknown"
	}
}
