package event

import "github.com/shopspring/decimal"

// Deposit records collateral pulled in from the vault.
type Deposit struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Primary   decimal.Decimal `json:"primary"`
	Secondary decimal.Decimal `json:"secondary"`
}

func (d *Deposit) EventType() EventType { return EventTypeDeposit }

func (d *Deposit) MarketID() *string { return nil }
