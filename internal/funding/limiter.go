package funding

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"PerpDealer/internal/auth"
	"PerpDealer/internal/errs"
	"PerpDealer/internal/fpmath"
	"PerpDealer/internal/registry"
)

var secondsPerDay = decimal.NewFromInt(86400)

// Limiter is the production funding keeper. It bounds how fast the
// cumulative coefficient may move: per market the change since the last
// accepted update is capped at
//
//	speed * markPrice * liquidationThreshold * elapsed/86400
//
// so a compromised or buggy rate feed cannot drain positions in one push.
// The first update for a market is unbounded.
type Limiter struct {
	engine   *Engine
	registry *registry.Registry
	address  string
	speed    decimal.Decimal
	last     map[string]time.Time
}

func NewLimiter(engine *Engine, reg *registry.Registry, address string, speed decimal.Decimal) *Limiter {
	return &Limiter{
		engine:   engine,
		registry: reg,
		address:  auth.Normalize(address),
		speed:    speed,
		last:     make(map[string]time.Time),
	}
}

// Address is the identity the limiter presents to the funding engine. The
// owner registers it as the funding keeper.
func (l *Limiter) Address() string { return l.address }

// MaxChange returns the currently allowed absolute coefficient change for a
// market, or false when the market has never been updated (unbounded).
func (l *Limiter) MaxChange(now time.Time, market string) (decimal.Decimal, bool, error) {
	lastAt, seen := l.last[market]
	if !seen {
		return decimal.Zero, false, nil
	}
	params, err := l.registry.Get(market)
	if err != nil {
		return decimal.Zero, false, err
	}
	price, err := params.Source.MarkPrice()
	if err != nil {
		return decimal.Zero, false, err
	}
	elapsed := decimal.NewFromInt(int64(now.Sub(lastAt) / time.Second))
	bound := fpmath.Mul(fpmath.Mul(l.speed, price), params.LiquidationThreshold)
	bound = fpmath.Div(fpmath.Mul(bound, elapsed), secondsPerDay)
	return bound, true, nil
}

// UpdateRates validates each market's change against the bound and forwards
// the batch to the funding engine. Owner gating happens at the dealer.
func (l *Limiter) UpdateRates(now time.Time, markets []string, rates []decimal.Decimal) error {
	if len(markets) != len(rates) {
		return fmt.Errorf("%d markets, %d rates: %w", len(markets), len(rates), errs.ErrArgumentLengthsDiffer)
	}
	for i, m := range markets {
		bound, bounded, err := l.MaxChange(now, m)
		if err != nil {
			return err
		}
		if !bounded {
			continue
		}
		current, err := l.registry.FundingRate(m)
		if err != nil {
			return err
		}
		if rates[i].Sub(current).Abs().GreaterThan(bound) {
			return fmt.Errorf("market %s change %s exceeds %s: %w",
				m, rates[i].Sub(current).Abs(), bound, errs.ErrFundingChangeTooMuch)
		}
	}
	if err := l.engine.UpdateRates(auth.Ctx(l.address), markets, rates); err != nil {
		return err
	}
	for _, m := range markets {
		l.last[m] = now
	}
	return nil
}
