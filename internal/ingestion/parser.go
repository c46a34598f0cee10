package ingestion

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"PerpDealer/internal/matching"
)

// Command names carried in the subject suffix perp.dealer.cmd.<name>.
const (
	CmdDeposit         = "deposit"
	CmdWithdrawRequest = "withdraw_request"
	CmdWithdrawExecute = "withdraw_execute"
	CmdTrade           = "trade"
	CmdFundingUpdate   = "funding_update"
	CmdLiquidate       = "liquidate"
	CmdBadDebt         = "bad_debt"
)

// Command is a parsed, validated dealer command ready for dispatch.
type Command interface {
	Name() string
}

type DepositCommand struct {
	Caller    string
	To        string
	Primary   decimal.Decimal
	Secondary decimal.Decimal
}

func (DepositCommand) Name() string { return CmdDeposit }

type WithdrawRequestCommand struct {
	Trader    string
	Primary   decimal.Decimal
	Secondary decimal.Decimal
}

func (WithdrawRequestCommand) Name() string { return CmdWithdrawRequest }

type WithdrawExecuteCommand struct {
	Trader           string
	To               string
	InternalTransfer bool
}

func (WithdrawExecuteCommand) Name() string { return CmdWithdrawExecute }

type TradeCommand struct {
	Sender       string
	Orders       []*matching.Order
	Signatures   [][]byte
	MatchAmounts []decimal.Decimal
}

func (TradeCommand) Name() string { return CmdTrade }

type FundingUpdateCommand struct {
	Markets []string
	Rates   []decimal.Decimal
}

func (FundingUpdateCommand) Name() string { return CmdFundingUpdate }

type LiquidateCommand struct {
	Executor      string
	Liquidator    string
	Trader        string
	Market        string
	RequestPaper  decimal.Decimal
	RequestCredit decimal.Decimal
}

func (LiquidateCommand) Name() string { return CmdLiquidate }

type BadDebtCommand struct {
	Trader string
}

func (BadDebtCommand) Name() string { return CmdBadDebt }

// ParseCommand converts a raw JSON payload into a typed command. Amounts
// travel as decimal strings and signatures as hex, so a malformed message
// fails here instead of inside the dealer.
func ParseCommand(name string, data []byte) (Command, error) {
	switch name {
	case CmdDeposit:
		return parseDeposit(data)
	case CmdWithdrawRequest:
		return parseWithdrawRequest(data)
	case CmdWithdrawExecute:
		return parseWithdrawExecute(data)
	case CmdTrade:
		return parseTrade(data)
	case CmdFundingUpdate:
		return parseFundingUpdate(data)
	case CmdLiquidate:
		return parseLiquidate(data)
	case CmdBadDebt:
		return parseBadDebt(data)
	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type depositJSON struct {
	Caller    string `json:"caller"`
	To        string `json:"to"`
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
}

func parseDeposit(data []byte) (*DepositCommand, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse deposit: %w", err)
	}
	primary, err := parseAmount(j.Primary, "primary")
	if err != nil {
		return nil, err
	}
	secondary, err := parseAmount(j.Secondary, "secondary")
	if err != nil {
		return nil, err
	}
	return &DepositCommand{Caller: j.Caller, To: j.To, Primary: primary, Secondary: secondary}, nil
}

type withdrawRequestJSON struct {
	Trader    string `json:"trader"`
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
}

func parseWithdrawRequest(data []byte) (*WithdrawRequestCommand, error) {
	var j withdrawRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse withdraw request: %w", err)
	}
	primary, err := parseAmount(j.Primary, "primary")
	if err != nil {
		return nil, err
	}
	secondary, err := parseAmount(j.Secondary, "secondary")
	if err != nil {
		return nil, err
	}
	return &WithdrawRequestCommand{Trader: j.Trader, Primary: primary, Secondary: secondary}, nil
}

type withdrawExecuteJSON struct {
	Trader           string `json:"trader"`
	To               string `json:"to"`
	InternalTransfer bool   `json:"internal_transfer"`
}

func parseWithdrawExecute(data []byte) (*WithdrawExecuteCommand, error) {
	var j withdrawExecuteJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse withdraw execute: %w", err)
	}
	return &WithdrawExecuteCommand{Trader: j.Trader, To: j.To, InternalTransfer: j.InternalTransfer}, nil
}

type orderJSON struct {
	Market       string `json:"market"`
	Paper        string `json:"paper"`
	Credit       string `json:"credit"`
	MakerFeeRate string `json:"maker_fee_rate"`
	TakerFeeRate string `json:"taker_fee_rate"`
	Signer       string `json:"signer"`
	OrderSender  string `json:"order_sender"`
	ExpiresAt    int64  `json:"expires_at"`
	Nonce        uint64 `json:"nonce"`
}

type tradeJSON struct {
	Sender       string      `json:"sender"`
	Orders       []orderJSON `json:"orders"`
	Signatures   []string    `json:"signatures"`
	MatchAmounts []string    `json:"match_amounts"`
}

func parseTrade(data []byte) (*TradeCommand, error) {
	var j tradeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse trade: %w", err)
	}
	cmd := &TradeCommand{Sender: j.Sender}
	for i, oj := range j.Orders {
		o, err := parseOrder(oj)
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		cmd.Orders = append(cmd.Orders, o)
	}
	for i, s := range j.Signatures {
		sig, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
		cmd.Signatures = append(cmd.Signatures, sig)
	}
	for i, a := range j.MatchAmounts {
		amount, err := parseAmount(a, fmt.Sprintf("match_amounts[%d]", i))
		if err != nil {
			return nil, err
		}
		cmd.MatchAmounts = append(cmd.MatchAmounts, amount)
	}
	return cmd, nil
}

func parseOrder(j orderJSON) (*matching.Order, error) {
	paper, err := parseAmount(j.Paper, "paper")
	if err != nil {
		return nil, err
	}
	credit, err := parseAmount(j.Credit, "credit")
	if err != nil {
		return nil, err
	}
	makerFee, err := parseAmount(j.MakerFeeRate, "maker_fee_rate")
	if err != nil {
		return nil, err
	}
	takerFee, err := parseAmount(j.TakerFeeRate, "taker_fee_rate")
	if err != nil {
		return nil, err
	}
	return &matching.Order{
		Market:       j.Market,
		Paper:        paper,
		Credit:       credit,
		MakerFeeRate: makerFee,
		TakerFeeRate: takerFee,
		Signer:       j.Signer,
		OrderSender:  j.OrderSender,
		ExpiresAt:    j.ExpiresAt,
		Nonce:        j.Nonce,
	}, nil
}

type fundingUpdateJSON struct {
	Markets []string `json:"markets"`
	Rates   []string `json:"rates"`
}

func parseFundingUpdate(data []byte) (*FundingUpdateCommand, error) {
	var j fundingUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse funding update: %w", err)
	}
	cmd := &FundingUpdateCommand{Markets: j.Markets}
	for i, r := range j.Rates {
		rate, err := parseAmount(r, fmt.Sprintf("rates[%d]", i))
		if err != nil {
			return nil, err
		}
		cmd.Rates = append(cmd.Rates, rate)
	}
	return cmd, nil
}

type liquidateJSON struct {
	Executor      string `json:"executor"`
	Liquidator    string `json:"liquidator"`
	Trader        string `json:"trader"`
	Market        string `json:"market"`
	RequestPaper  string `json:"request_paper"`
	RequestCredit string `json:"request_credit"`
}

func parseLiquidate(data []byte) (*LiquidateCommand, error) {
	var j liquidateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse liquidate: %w", err)
	}
	paper, err := parseAmount(j.RequestPaper, "request_paper")
	if err != nil {
		return nil, err
	}
	credit, err := parseAmount(j.RequestCredit, "request_credit")
	if err != nil {
		return nil, err
	}
	return &LiquidateCommand{
		Executor:      j.Executor,
		Liquidator:    j.Liquidator,
		Trader:        j.Trader,
		Market:        j.Market,
		RequestPaper:  paper,
		RequestCredit: credit,
	}, nil
}

type badDebtJSON struct {
	Trader string `json:"trader"`
}

func parseBadDebt(data []byte) (*BadDebtCommand, error) {
	var j badDebtJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse bad debt: %w", err)
	}
	return &BadDebtCommand{Trader: j.Trader}, nil
}

func parseAmount(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return d, nil
}
