// Package risk evaluates margin safety. All monetary state comes from the
// ledger and all prices from the registry; the evaluator itself is stateless
// so it can run against a live book or a snapshot.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"PerpDealer/internal/errs"
	"PerpDealer/internal/fpmath"
	"PerpDealer/internal/ledger"
	"PerpDealer/internal/registry"
)

// Report is a trader's aggregate margin picture. Net value counts primary
// and virtual credit plus the funding-settled value of every position;
// secondary credit never contributes.
type Report struct {
	NetValue          decimal.Decimal
	Exposure          decimal.Decimal
	MaintenanceMargin decimal.Decimal
}

type Evaluator struct {
	ledger   *ledger.Ledger
	registry *registry.Registry
}

func NewEvaluator(l *ledger.Ledger, r *registry.Registry) *Evaluator {
	return &Evaluator{ledger: l, registry: r}
}

func (e *Evaluator) params(market string) (*registry.RiskParams, error) {
	// Deregistered markets with residual positions still price and margin.
	p, ok := e.registry.Params(market)
	if !ok {
		return nil, fmt.Errorf("market %s: %w", market, errs.ErrPerpNotRegistered)
	}
	return p, nil
}

// TraderRisk computes the trader's net value, total exposure and maintenance
// margin at current mark prices.
func (e *Evaluator) TraderRisk(trader string) (Report, error) {
	acc := e.ledger.Account(trader)
	rep := Report{NetValue: acc.PrimaryCredit.Add(acc.VirtualCredit)}

	for market, pos := range e.ledger.Positions(trader) {
		p, err := e.params(market)
		if err != nil {
			return Report{}, err
		}
		price, err := p.Source.MarkPrice()
		if err != nil {
			return Report{}, fmt.Errorf("mark price for %s: %w", market, err)
		}
		exposure := fpmath.Mul(pos.Paper.Abs(), price)
		rep.Exposure = rep.Exposure.Add(exposure)
		rep.MaintenanceMargin = rep.MaintenanceMargin.Add(fpmath.Mul(exposure, p.LiquidationThreshold))
		rep.NetValue = rep.NetValue.
			Add(fpmath.Mul(pos.Paper, price)).
			Add(pos.EffectiveCredit(p.FundingRate))
	}
	return rep, nil
}

// IsSafe reports whether the trader's net value covers the maintenance
// margin. A trader with no positions is safe iff net value is non-negative.
func (e *Evaluator) IsSafe(trader string) (bool, error) {
	rep, err := e.TraderRisk(trader)
	if err != nil {
		return false, err
	}
	return rep.NetValue.GreaterThanOrEqual(rep.MaintenanceMargin), nil
}

// IsPositionSafe reports whether a single position is clear of liquidation:
// net value must cover the market's liquidation threshold applied to the
// trader's total exposure. A trader with no position in the market is safe.
func (e *Evaluator) IsPositionSafe(trader, market string) (bool, error) {
	if _, ok := e.ledger.Position(trader, market); !ok {
		return true, nil
	}
	p, err := e.params(market)
	if err != nil {
		return false, err
	}
	rep, err := e.TraderRisk(trader)
	if err != nil {
		return false, err
	}
	required := fpmath.Mul(rep.Exposure, p.LiquidationThreshold)
	return rep.NetValue.GreaterThanOrEqual(required), nil
}

// LiquidationPrice solves for the mark price of one market at which the
// position crosses into liquidation territory, holding all other prices
// fixed. Returns zero when no positive solution exists or the paper amount
// is below fixed-point resolution.
func (e *Evaluator) LiquidationPrice(trader, market string) (decimal.Decimal, error) {
	pos, ok := e.ledger.Position(trader, market)
	if !ok {
		return decimal.Zero, nil
	}
	p, err := e.params(market)
	if err != nil {
		return decimal.Zero, err
	}
	theta := p.LiquidationThreshold

	// Net value contribution of everything except this market's paper value,
	// and the exposure contributed by the other markets.
	acc := e.ledger.Account(trader)
	fixed := acc.PrimaryCredit.Add(acc.VirtualCredit).Add(pos.EffectiveCredit(p.FundingRate))
	otherExposure := decimal.Zero
	for otherMarket, other := range e.ledger.Positions(trader) {
		if otherMarket == market {
			continue
		}
		op, err := e.params(otherMarket)
		if err != nil {
			return decimal.Zero, err
		}
		price, err := op.Source.MarkPrice()
		if err != nil {
			return decimal.Zero, fmt.Errorf("mark price for %s: %w", otherMarket, err)
		}
		fixed = fixed.
			Add(fpmath.Mul(other.Paper, price)).
			Add(other.EffectiveCredit(op.FundingRate))
		otherExposure = otherExposure.Add(fpmath.Mul(other.Paper.Abs(), price))
	}

	denominator := pos.Paper.Sub(fpmath.Mul(theta, pos.Paper.Abs()))
	if denominator.IsZero() {
		return decimal.Zero, nil
	}
	numerator := fpmath.Mul(theta, otherExposure).Sub(fixed)
	price := fpmath.Div(numerator, denominator)
	if price.Sign() <= 0 {
		return decimal.Zero, nil
	}
	return price, nil
}
