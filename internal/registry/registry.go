// Package registry keeps the per-market risk parameters, the cumulative
// funding coefficients, and the mark price sources. Registered markets live
// in a dense slice with an id->index map so removal is O(1) swap-and-pop and
// iteration order is deterministic.
package registry

import (
	"fmt"

	"github.com/shopspring/decimal"

	"PerpDealer/internal/errs"
)

// PriceSource supplies the mark price for one market. A failing source is a
// hard error: margin cannot be evaluated without a price, so the surrounding
// operation aborts.
type PriceSource interface {
	MarkPrice() (decimal.Decimal, error)
}

// RiskParams holds one market's risk configuration and funding state.
type RiskParams struct {
	Name                 string
	InitialMarginRate    decimal.Decimal
	LiquidationThreshold decimal.Decimal
	LiquidationPriceOff  decimal.Decimal
	InsuranceFeeRate     decimal.Decimal
	FundingRate          decimal.Decimal
	Source               PriceSource
	IsRegistered         bool
}

// Registry manages market registration and parameter lookup.
type Registry struct {
	params     map[string]*RiskParams
	registered []string
	index      map[string]int
}

func New() *Registry {
	return &Registry{
		params: make(map[string]*RiskParams),
		index:  make(map[string]int),
	}
}

var one = decimal.NewFromInt(1)

// ValidateRiskParams checks parameter ranges: the liquidation threshold must
// sit strictly below the initial margin rate, and every rate stays in [0, 1).
func ValidateRiskParams(p *RiskParams) error {
	if p.LiquidationThreshold.Sign() <= 0 || p.LiquidationThreshold.GreaterThanOrEqual(one) {
		return fmt.Errorf("liquidation threshold %s out of (0,1): %w", p.LiquidationThreshold, errs.ErrInvalidRiskParam)
	}
	if p.InitialMarginRate.GreaterThanOrEqual(one) || !p.LiquidationThreshold.LessThan(p.InitialMarginRate) {
		return fmt.Errorf("initial margin rate %s must exceed liquidation threshold %s and stay below 1: %w",
			p.InitialMarginRate, p.LiquidationThreshold, errs.ErrInvalidRiskParam)
	}
	if p.LiquidationPriceOff.Sign() < 0 || p.LiquidationPriceOff.GreaterThanOrEqual(one) {
		return fmt.Errorf("liquidation price off %s out of [0,1): %w", p.LiquidationPriceOff, errs.ErrInvalidRiskParam)
	}
	if p.InsuranceFeeRate.Sign() < 0 || p.InsuranceFeeRate.GreaterThanOrEqual(one) {
		return fmt.Errorf("insurance fee rate %s out of [0,1): %w", p.InsuranceFeeRate, errs.ErrInvalidRiskParam)
	}
	if p.Source == nil {
		return fmt.Errorf("missing mark price source: %w", errs.ErrInvalidRiskParam)
	}
	return nil
}

// SetRiskParams installs parameters for a market and registers or removes it.
// Removal keeps the parameters queryable but drops the market from the
// registered list by swap-and-pop.
func (r *Registry) SetRiskParams(marketID string, p RiskParams, register bool) error {
	if register {
		if err := ValidateRiskParams(&p); err != nil {
			return err
		}
	}
	if existing, ok := r.params[marketID]; ok {
		// Preserve the accrued funding coefficient across parameter updates.
		p.FundingRate = existing.FundingRate
	}
	p.IsRegistered = register
	r.params[marketID] = &p

	_, listed := r.index[marketID]
	switch {
	case register && !listed:
		r.index[marketID] = len(r.registered)
		r.registered = append(r.registered, marketID)
	case !register && listed:
		r.remove(marketID)
	}
	return nil
}

func (r *Registry) remove(marketID string) {
	i := r.index[marketID]
	last := len(r.registered) - 1
	moved := r.registered[last]
	r.registered[i] = moved
	r.index[moved] = i
	r.registered = r.registered[:last]
	delete(r.index, marketID)
}

// Get returns the parameters of a registered market.
func (r *Registry) Get(marketID string) (*RiskParams, error) {
	p, ok := r.params[marketID]
	if !ok || !p.IsRegistered {
		return nil, fmt.Errorf("market %s: %w", marketID, errs.ErrPerpNotRegistered)
	}
	return p, nil
}

// Params returns the parameters for a market whether or not it is still
// registered. Used by views over historical markets.
func (r *Registry) Params(marketID string) (*RiskParams, bool) {
	p, ok := r.params[marketID]
	return p, ok
}

// IsRegistered reports whether the market is currently tradable.
func (r *Registry) IsRegistered(marketID string) bool {
	p, ok := r.params[marketID]
	return ok && p.IsRegistered
}

// Registered returns the dense list of registered market IDs. The order
// reflects registration and swap-and-pop removal history.
func (r *Registry) Registered() []string {
	out := make([]string, len(r.registered))
	copy(out, r.registered)
	return out
}

// MarkPrice fetches the current mark price for a registered market.
func (r *Registry) MarkPrice(marketID string) (decimal.Decimal, error) {
	p, err := r.Get(marketID)
	if err != nil {
		return decimal.Zero, err
	}
	price, err := p.Source.MarkPrice()
	if err != nil {
		return decimal.Zero, fmt.Errorf("mark price for %s: %w", marketID, err)
	}
	return price, nil
}

// FundingRate returns the cumulative funding coefficient for a market.
func (r *Registry) FundingRate(marketID string) (decimal.Decimal, error) {
	p, err := r.Get(marketID)
	if err != nil {
		return decimal.Zero, err
	}
	return p.FundingRate, nil
}

// SetFundingRate overwrites the cumulative funding coefficient. Keeper
// checks happen in the funding engine; the registry only validates
// registration.
func (r *Registry) SetFundingRate(marketID string, rate decimal.Decimal) error {
	p, err := r.Get(marketID)
	if err != nil {
		return err
	}
	p.FundingRate = rate
	return nil
}
