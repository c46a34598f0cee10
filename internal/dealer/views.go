package dealer

import (
	"github.com/shopspring/decimal"

	"PerpDealer/internal/ledger"
	"PerpDealer/internal/matching"
	"PerpDealer/internal/registry"
	"PerpDealer/internal/risk"
)

// Read-only views. Each takes the dealer lock so callers always observe a
// fully settled state.

// GetCredit returns a trader's account state.
func (d *Dealer) GetCredit(trader string) ledger.Account {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ledger.Account(trader)
}

// GetPositions returns the trader's open positions keyed by market.
func (d *Dealer) GetPositions(trader string) map[string]ledger.Position {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ledger.Positions(trader)
}

// GetTraderRisk returns net value, exposure and maintenance margin.
func (d *Dealer) GetTraderRisk(trader string) (risk.Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.risk.TraderRisk(trader)
}

// IsSafe reports whether the trader clears maintenance margin.
func (d *Dealer) IsSafe(trader string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.risk.IsSafe(trader)
}

// IsPositionSafe reports whether one position is clear of liquidation.
func (d *Dealer) IsPositionSafe(trader, market string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.risk.IsPositionSafe(trader, market)
}

// GetLiquidationPrice returns the mark price at which the position becomes
// liquidatable, zero if none exists.
func (d *Dealer) GetLiquidationPrice(trader, market string) (decimal.Decimal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.risk.LiquidationPrice(trader, market)
}

// GetLiquidationCost quotes a liquidation without executing it.
func (d *Dealer) GetLiquidationCost(market, trader string, requestPaper decimal.Decimal) (paper, credit, fee decimal.Decimal, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liq.Cost(market, trader, requestPaper)
}

// GetRiskParams returns a market's parameters, registered or not.
func (d *Dealer) GetRiskParams(market string) (*registry.RiskParams, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.Params(market)
}

// GetAllRegisteredMarkets returns the dense registered-market list.
func (d *Dealer) GetAllRegisteredMarkets() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.Registered()
}

// GetMarkPrice returns the current mark price for a market.
func (d *Dealer) GetMarkPrice(market string) (decimal.Decimal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.MarkPrice(market)
}

// GetFundingRate returns a market's cumulative funding coefficient.
func (d *Dealer) GetFundingRate(market string) (decimal.Decimal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.FundingRate(market)
}

// OrderHash returns the signing digest of an order under this deployment's
// domain.
func (d *Dealer) OrderHash(o *matching.Order) [32]byte {
	return d.matching.Hash(o)
}

// GetOrderFilledAmount returns the cumulative filled paper for an order.
func (d *Dealer) GetOrderFilledAmount(hash [32]byte) decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.matching.FilledAmount(hash)
}

// Insurance returns the insurance account address.
func (d *Dealer) Insurance() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liq.Insurance()
}
