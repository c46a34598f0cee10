// Package liquidation closes unsafe positions. A liquidator buys the broken
// trader's paper at the mark price shifted in the liquidator's favor, the
// insurance account collects a fee from the trader, and whatever cannot be
// recovered is socialized into the insurance account as bad debt.
package liquidation

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"PerpDealer/internal/auth"
	"PerpDealer/internal/errs"
	"PerpDealer/internal/fpmath"
	"PerpDealer/internal/ledger"
	"PerpDealer/internal/registry"
	"PerpDealer/internal/risk"
)

type Engine struct {
	ledger    *ledger.Ledger
	registry  *registry.Registry
	risk      *risk.Evaluator
	auth      *auth.Registry
	insurance string
	log       zerolog.Logger
}

func NewEngine(l *ledger.Ledger, reg *registry.Registry, rk *risk.Evaluator,
	az *auth.Registry, insurance string, log zerolog.Logger) *Engine {
	return &Engine{
		ledger:    l,
		registry:  reg,
		risk:      rk,
		auth:      az,
		insurance: auth.Normalize(insurance),
		log:       log,
	}
}

// SetInsurance repoints the insurance account. Owner gating at the dealer.
func (e *Engine) SetInsurance(addr string) {
	e.insurance = auth.Normalize(addr)
}

func (e *Engine) Insurance() string { return e.insurance }

// Cost quotes a liquidation without executing it: the paper and credit the
// liquidator would take over and the insurance fee the trader would pay.
// The request is capped at the trader's position.
func (e *Engine) Cost(market, trader string, requestPaper decimal.Decimal) (paper, credit, fee decimal.Decimal, err error) {
	pos, ok := e.ledger.Position(trader, market)
	if !ok {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("trader %s in %s: %w", trader, market, errs.ErrTraderHasNoPosition)
	}
	if requestPaper.IsZero() || !fpmath.SameSign(requestPaper, pos.Paper) {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("request %s against position %s: %w",
			requestPaper, pos.Paper, errs.ErrLiquidationAmountWrong)
	}
	if requestPaper.Abs().GreaterThan(pos.Paper.Abs()) {
		requestPaper = pos.Paper
	}
	params, err := e.registry.Get(market)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	mark, err := params.Source.MarkPrice()
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("mark price for %s: %w", market, err)
	}

	// Long positions sell below mark, shorts buy back above it.
	price := fpmath.Mul(mark, fpmath.One.Sub(params.LiquidationPriceOff))
	if pos.Paper.Sign() < 0 {
		price = fpmath.Mul(mark, fpmath.One.Add(params.LiquidationPriceOff))
	}

	paper = requestPaper
	credit = fpmath.Mul(paper, price).Neg()
	fee = fpmath.Mul(credit.Abs(), params.InsuranceFeeRate)
	return paper, credit, fee, nil
}

// Result reports what a liquidation actually moved.
type Result struct {
	Market       string
	Trader       string
	Liquidator   string
	PaperChange  decimal.Decimal
	CreditChange decimal.Decimal
	InsuranceFee decimal.Decimal
}

// Liquidate transfers part or all of an unsafe trader's position to the
// liquidator. requestCredit encodes the liquidator's price protection: the
// executed price must be at least as favorable as |requestCredit/requestPaper|.
func (e *Engine) Liquidate(ctx auth.Context, liquidator, trader, market string,
	requestPaper, requestCredit decimal.Decimal) (*Result, error) {

	liquidator = auth.Normalize(liquidator)
	trader = auth.Normalize(trader)

	safe, err := e.risk.IsSafe(trader)
	if err != nil {
		return nil, err
	}
	if safe {
		return nil, fmt.Errorf("trader %s: %w", trader, errs.ErrAccountIsSafe)
	}
	if liquidator == trader {
		return nil, errs.ErrSelfLiquidation
	}
	if _, ok := e.ledger.Position(trader, market); !ok {
		return nil, fmt.Errorf("trader %s in %s: %w", trader, market, errs.ErrTraderHasNoPosition)
	}
	if !e.auth.CanActFor(ctx.Caller, liquidator) {
		return nil, fmt.Errorf("executor %s for liquidator %s: %w", ctx.Caller, liquidator, errs.ErrInvalidLiquidationExec)
	}
	// A zero request credit would zero the price limit and disarm the
	// protection guard below, so it is as wrong as a same-sign one.
	if requestCredit.IsZero() || requestCredit.Sign() == requestPaper.Sign() {
		return nil, fmt.Errorf("request credit %s with paper %s: %w", requestCredit, requestPaper, errs.ErrLiquidationAmountWrong)
	}

	paper, credit, fee, err := e.Cost(market, trader, requestPaper)
	if err != nil {
		return nil, err
	}

	execPrice := fpmath.Div(credit.Abs(), paper.Abs())
	limit := fpmath.Div(requestCredit.Abs(), requestPaper.Abs())
	if paper.Sign() > 0 && execPrice.GreaterThan(limit) {
		return nil, fmt.Errorf("executed %s above limit %s: %w", execPrice, limit, errs.ErrLiquidationPriceGuard)
	}
	if paper.Sign() < 0 && execPrice.LessThan(limit) {
		return nil, fmt.Errorf("executed %s below limit %s: %w", execPrice, limit, errs.ErrLiquidationPriceGuard)
	}

	params, err := e.registry.Get(market)
	if err != nil {
		return nil, err
	}
	rate := params.FundingRate

	// The insurance fee rides in the trader's delta so a full close realizes
	// the fee before the position folds into primary credit.
	e.ledger.ApplyPositionDelta(trader, market, paper.Neg(), credit.Neg().Sub(fee), rate)
	e.ledger.AddPrimary(e.insurance, fee)
	e.ledger.ApplyPositionDelta(liquidator, market, paper, credit, rate)

	liqSafe, err := e.risk.IsSafe(liquidator)
	if err != nil {
		return nil, err
	}
	if !liqSafe {
		return nil, fmt.Errorf("liquidator %s: %w", liquidator, errs.ErrLiquidatorNotSafe)
	}

	e.log.Info().
		Str("market", market).
		Str("trader", trader).
		Str("liquidator", liquidator).
		Str("paper", paper.String()).
		Str("fee", fee.String()).
		Msg("liquidation executed")

	return &Result{
		Market:       market,
		Trader:       trader,
		Liquidator:   liquidator,
		PaperChange:  paper,
		CreditChange: credit,
		InsuranceFee: fee,
	}, nil
}

// HandleBadDebt socializes an insolvent, positionless trader into the
// insurance account: both credit legs move over and the trader zeroes out.
func (e *Engine) HandleBadDebt(trader string) error {
	trader = auth.Normalize(trader)
	safe, err := e.risk.IsSafe(trader)
	if err != nil {
		return err
	}
	if safe {
		return fmt.Errorf("trader %s: %w", trader, errs.ErrAccountIsSafe)
	}
	if e.ledger.HasPositions(trader) {
		return fmt.Errorf("trader %s: %w", trader, errs.ErrStillInLiquidation)
	}
	acc := e.ledger.Account(trader)
	e.ledger.AddPrimary(e.insurance, acc.PrimaryCredit)
	e.ledger.AddSecondary(e.insurance, acc.SecondaryCredit)
	e.ledger.AddPrimary(trader, acc.PrimaryCredit.Neg())
	e.ledger.AddSecondary(trader, acc.SecondaryCredit.Neg())
	e.ledger.ClearPendingWithdraw(trader)

	e.log.Warn().
		Str("trader", trader).
		Str("primary", acc.PrimaryCredit.String()).
		Str("secondary", acc.SecondaryCredit.String()).
		Msg("bad debt absorbed by insurance")
	return nil
}
