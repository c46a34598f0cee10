package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawRequested records a pending withdrawal entering the time lock.
type WithdrawRequested struct {
	Trader       string          `json:"trader"`
	Primary      decimal.Decimal `json:"primary"`
	Secondary    decimal.Decimal `json:"secondary"`
	ExecutableAt time.Time       `json:"executable_at"`
}

func (w *WithdrawRequested) EventType() EventType { return EventTypeWithdrawRequested }

func (w *WithdrawRequested) MarketID() *string { return nil }

// WithdrawExecuted records funds leaving the ledger, either to the vault or
// to another trader's account.
type WithdrawExecuted struct {
	Trader           string          `json:"trader"`
	To               string          `json:"to"`
	Primary          decimal.Decimal `json:"primary"`
	Secondary        decimal.Decimal `json:"secondary"`
	InternalTransfer bool            `json:"internal_transfer"`
}

func (w *WithdrawExecuted) EventType() EventType { return EventTypeWithdrawExecuted }

func (w *WithdrawExecuted) MarketID() *string { return nil }
