// Package funding maintains the cumulative funding coefficient per market.
// The coefficient is a running sum: positions checkpoint it on every touch
// and accrue paper*(current-entry) lazily, so a rate push never iterates
// over positions.
package funding

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"PerpDealer/internal/auth"
	"PerpDealer/internal/errs"
	"PerpDealer/internal/registry"
)

type Engine struct {
	registry *registry.Registry
	auth     *auth.Registry
	log      zerolog.Logger
}

func NewEngine(reg *registry.Registry, az *auth.Registry, log zerolog.Logger) *Engine {
	return &Engine{registry: reg, auth: az, log: log}
}

// UpdateRates overwrites the cumulative coefficients for the given markets.
// Only the designated funding keeper may call it.
func (e *Engine) UpdateRates(ctx auth.Context, markets []string, rates []decimal.Decimal) error {
	if !e.auth.IsFundingKeeper(ctx.Caller) {
		return fmt.Errorf("caller %s: %w", ctx.Caller, errs.ErrInvalidFundingKeeper)
	}
	if len(markets) != len(rates) {
		return fmt.Errorf("%d markets, %d rates: %w", len(markets), len(rates), errs.ErrArgumentLengthsDiffer)
	}
	// Validate every market before mutating any coefficient.
	for _, m := range markets {
		if _, err := e.registry.Get(m); err != nil {
			return err
		}
	}
	for i, m := range markets {
		if err := e.registry.SetFundingRate(m, rates[i]); err != nil {
			return err
		}
		e.log.Debug().Str("market", m).Str("rate", rates[i].String()).Msg("funding rate updated")
	}
	return nil
}

// Rate returns the current cumulative coefficient for a market.
func (e *Engine) Rate(market string) (decimal.Decimal, error) {
	return e.registry.FundingRate(market)
}
