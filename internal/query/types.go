package query

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AccountResponse is a trader's credit account plus derived risk metrics,
// read from the live dealer state.
type AccountResponse struct {
	Trader          string `json:"trader"`
	PrimaryCredit   string `json:"primary_credit"`
	SecondaryCredit string `json:"secondary_credit"`
	VirtualCredit   string `json:"virtual_credit"`

	PendingPrimaryWithdraw   string `json:"pending_primary_withdraw"`
	PendingSecondaryWithdraw string `json:"pending_secondary_withdraw"`
	WithdrawExecutableAt     int64  `json:"withdraw_executable_at,omitempty"`

	NetValue          string `json:"net_value"`
	Exposure          string `json:"exposure"`
	MaintenanceMargin string `json:"maintenance_margin"`
	IsSafe            bool   `json:"is_safe"`

	Positions []PositionResponse `json:"positions"`
}

// PositionResponse is one open position with its mark and liquidation price.
type PositionResponse struct {
	MarketID         string `json:"market_id"`
	Paper            string `json:"paper"`
	Credit           string `json:"credit"`
	EntryFundingRate string `json:"entry_funding_rate"`
	MarkPrice        string `json:"mark_price"`
	LiquidationPrice string `json:"liquidation_price"`
}

// MarketResponse is one registered market's parameters and current state.
type MarketResponse struct {
	MarketID             string `json:"market_id"`
	InitialMarginRate    string `json:"initial_margin_rate"`
	LiquidationThreshold string `json:"liquidation_threshold"`
	LiquidationPriceOff  string `json:"liquidation_price_off"`
	InsuranceFeeRate     string `json:"insurance_fee_rate"`
	MarkPrice            string `json:"mark_price"`
	FundingRate          string `json:"funding_rate"`
}

// EventRecord is one row of the persisted event log.
type EventRecord struct {
	Sequence  int64           `json:"sequence"`
	EventID   uuid.UUID       `json:"event_id"`
	EventType string          `json:"event_type"`
	MarketID  *string         `json:"market_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// FundingRateRecord is one historical funding rate observation.
type FundingRateRecord struct {
	Sequence  int64     `json:"sequence"`
	MarketID  string    `json:"market_id"`
	Rate      string    `json:"rate"`
	Timestamp time.Time `json:"timestamp"`
}

// LiquidationQuote prices a hypothetical liquidation without executing it.
type LiquidationQuote struct {
	MarketID       string `json:"market_id"`
	RequestPaper   string `json:"request_paper"`
	ExpectedPaper  string `json:"expected_paper"`
	ExpectedCredit string `json:"expected_credit"`
	InsuranceFee   string `json:"insurance_fee"`
}
