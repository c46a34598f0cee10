package matching

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"PerpDealer/internal/auth"
	"PerpDealer/internal/errs"
	"PerpDealer/internal/fpmath"
	"PerpDealer/internal/ledger"
	"PerpDealer/internal/registry"
	"PerpDealer/internal/risk"
)

// Request is one settlement batch submitted by an order sender. Orders[0] is
// the taker; the remaining orders are makers grouped by signer in ascending
// address order. MatchAmounts carries positive paper magnitudes, one per
// order, with the taker entry equal to the sum of the maker entries.
type Request struct {
	Sender       string
	Orders       []*Order
	Signatures   [][]byte
	MatchAmounts []decimal.Decimal
}

// BalanceChange is one trader's settled delta in the batch. Consecutive
// fills against the same maker coalesce into a single change.
type BalanceChange struct {
	Trader      string
	Market      string
	PaperDelta  decimal.Decimal
	CreditDelta decimal.Decimal
}

// Result summarizes a settled batch: maker changes in submission order
// followed by the taker's, plus the net fee routed to the order sender.
type Result struct {
	Market      string
	OrderSender string
	Fee         decimal.Decimal
	Changes     []BalanceChange
}

// Engine validates and settles order batches against the ledger.
type Engine struct {
	ledger   *ledger.Ledger
	registry *registry.Registry
	risk     *risk.Evaluator
	auth     *auth.Registry
	verifier SignatureVerifier
	domain   Domain
	filled   map[[32]byte]decimal.Decimal
	log      zerolog.Logger
}

func NewEngine(l *ledger.Ledger, reg *registry.Registry, rk *risk.Evaluator,
	az *auth.Registry, verifier SignatureVerifier, domain Domain, log zerolog.Logger) *Engine {
	return &Engine{
		ledger:   l,
		registry: reg,
		risk:     rk,
		auth:     az,
		verifier: verifier,
		domain:   domain,
		filled:   make(map[[32]byte]decimal.Decimal),
		log:      log,
	}
}

// Hash returns the signing digest of an order under the engine's domain.
func (e *Engine) Hash(o *Order) [32]byte {
	return HashOrder(e.domain, o)
}

// FilledAmount returns the cumulative filled paper for an order hash.
func (e *Engine) FilledAmount(hash [32]byte) decimal.Decimal {
	return e.filled[hash]
}

type fill struct {
	signer      string
	paperDelta  decimal.Decimal
	creditDelta decimal.Decimal
}

// Trade settles one batch. The caller holds the dealer lock and restores the
// ledger snapshot on error; fill counters commit only after every safety
// check passes, so a failed batch leaves no trace.
func (e *Engine) Trade(now time.Time, req *Request) (*Result, error) {
	if len(req.Orders) != len(req.Signatures) || len(req.Orders) != len(req.MatchAmounts) {
		return nil, fmt.Errorf("orders/signatures/amounts: %w", errs.ErrArgumentLengthsDiffer)
	}
	if len(req.Orders) < 2 {
		return nil, errs.ErrAtLeastTwoTraders
	}

	sender := auth.Normalize(req.Sender)
	if !e.auth.IsOrderSender(sender) {
		return nil, fmt.Errorf("sender %s not allowlisted: %w", req.Sender, errs.ErrInvalidOrderSender)
	}

	taker := req.Orders[0]
	market := taker.Market
	params, err := e.registry.Get(market)
	if err != nil {
		return nil, err
	}
	fundingRate := params.FundingRate

	hashes := make([][32]byte, len(req.Orders))
	for i, o := range req.Orders {
		if err := e.validateOrder(now, sender, market, o); err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		hashes[i] = HashOrder(e.domain, o)
		if err := e.verifySigner(hashes[i], req.Signatures[i], o.Signer); err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
	}

	takerSigner := auth.Normalize(taker.Signer)
	for i := 1; i < len(req.Orders); i++ {
		makerSigner := auth.Normalize(req.Orders[i].Signer)
		if makerSigner == takerSigner {
			return nil, errs.ErrOrderSelfMatch
		}
		if i > 1 {
			prev := auth.Normalize(req.Orders[i-1].Signer)
			if makerSigner != prev && makerSigner < prev {
				return nil, errs.ErrOrderWrongSorting
			}
		}
	}

	takerPrice := taker.Price()
	takerLong := taker.IsLong()
	pendingFilled := make(map[[32]byte]decimal.Decimal)

	var (
		fills      []fill
		takerPaper decimal.Decimal
		takerCred  decimal.Decimal
		makerTotal decimal.Decimal
		totalFee   decimal.Decimal
	)

	for i := 1; i < len(req.Orders); i++ {
		maker := req.Orders[i]
		amount := req.MatchAmounts[i]
		if amount.Sign() <= 0 {
			return nil, fmt.Errorf("match amount %s for order %d: %w", amount, i, errs.ErrTakerAmountWrong)
		}
		// Makers take the opposite side of the taker.
		if maker.IsLong() == takerLong {
			return nil, fmt.Errorf("order %d on taker side: %w", i, errs.ErrOrderPriceNotMatch)
		}
		price := maker.Price()
		if takerLong && price.GreaterThan(takerPrice) || !takerLong && price.LessThan(takerPrice) {
			return nil, fmt.Errorf("maker price %s crosses taker limit %s: %w", price, takerPrice, errs.ErrOrderPriceNotMatch)
		}
		if err := e.recordFill(pendingFilled, hashes[i], maker, amount); err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}

		// Fill executes at the maker's price. The maker gains paper in its
		// own direction, the taker the mirror image.
		paperDelta := amount
		if !maker.IsLong() {
			paperDelta = amount.Neg()
		}
		rawCredit := fpmath.Mul(paperDelta, price).Neg()
		makerFee := fpmath.Mul(rawCredit.Abs(), maker.MakerFeeRate)
		takerFee := fpmath.Mul(rawCredit.Abs(), taker.TakerFeeRate)
		totalFee = totalFee.Add(makerFee).Add(takerFee)

		fills = append(fills, fill{
			signer:      auth.Normalize(maker.Signer),
			paperDelta:  paperDelta,
			creditDelta: rawCredit.Sub(makerFee),
		})
		takerPaper = takerPaper.Sub(paperDelta)
		takerCred = takerCred.Add(rawCredit.Neg().Sub(takerFee))
		makerTotal = makerTotal.Add(amount)
	}

	if !makerTotal.Equal(req.MatchAmounts[0]) {
		return nil, fmt.Errorf("taker amount %s, maker sum %s: %w", req.MatchAmounts[0], makerTotal, errs.ErrTakerAmountWrong)
	}
	if err := e.recordFill(pendingFilled, hashes[0], taker, req.MatchAmounts[0]); err != nil {
		return nil, fmt.Errorf("taker: %w", err)
	}

	// Coalesce consecutive same-maker fills into one mutation and one event.
	changes := make([]BalanceChange, 0, len(fills)+1)
	for _, f := range fills {
		if n := len(changes); n > 0 && changes[n-1].Trader == f.signer {
			changes[n-1].PaperDelta = changes[n-1].PaperDelta.Add(f.paperDelta)
			changes[n-1].CreditDelta = changes[n-1].CreditDelta.Add(f.creditDelta)
			continue
		}
		changes = append(changes, BalanceChange{Trader: f.signer, Market: market, PaperDelta: f.paperDelta, CreditDelta: f.creditDelta})
	}
	changes = append(changes, BalanceChange{Trader: takerSigner, Market: market, PaperDelta: takerPaper, CreditDelta: takerCred})

	for _, c := range changes {
		e.ledger.ApplyPositionDelta(c.Trader, market, c.PaperDelta, c.CreditDelta, fundingRate)
	}
	e.ledger.AddPrimary(sender, totalFee)

	for _, c := range changes {
		safe, err := e.risk.IsSafe(c.Trader)
		if err != nil {
			return nil, err
		}
		if !safe {
			return nil, fmt.Errorf("trader %s: %w", c.Trader, errs.ErrTraderNotSafe)
		}
	}
	senderSafe, err := e.risk.IsSafe(sender)
	if err != nil {
		return nil, err
	}
	if !senderSafe {
		return nil, errs.ErrOrderSenderNotSafe
	}

	for hash, total := range pendingFilled {
		e.filled[hash] = total
	}

	e.log.Debug().
		Str("market", market).
		Str("taker", takerSigner).
		Int("orders", len(req.Orders)).
		Str("fee", totalFee.String()).
		Msg("batch settled")

	return &Result{Market: market, OrderSender: sender, Fee: totalFee, Changes: changes}, nil
}

func (e *Engine) validateOrder(now time.Time, sender, market string, o *Order) error {
	if o.Market != market {
		return fmt.Errorf("order market %s, batch market %s: %w", o.Market, market, errs.ErrPerpMismatch)
	}
	if now.Unix() >= o.ExpiresAt {
		return errs.ErrOrderExpired
	}
	if auth.Normalize(o.OrderSender) != sender {
		return fmt.Errorf("order bound to sender %s: %w", o.OrderSender, errs.ErrInvalidOrderSender)
	}
	if o.Price().Sign() <= 0 {
		return errs.ErrOrderPriceNegative
	}
	return nil
}

func (e *Engine) verifySigner(hash [32]byte, signature []byte, signer string) error {
	recovered, err := e.verifier.Recover(hash, signature)
	if err != nil {
		return fmt.Errorf("%v: %w", err, errs.ErrInvalidOrderSig)
	}
	if auth.Normalize(recovered) == auth.Normalize(signer) {
		return nil
	}
	// Operators may sign on behalf of traders that delegated to them.
	if e.auth.CanActFor(recovered, signer) {
		return nil
	}
	return fmt.Errorf("recovered %s, want %s: %w", recovered, signer, errs.ErrInvalidOrderSig)
}

func (e *Engine) recordFill(pending map[[32]byte]decimal.Decimal, hash [32]byte, o *Order, amount decimal.Decimal) error {
	total, ok := pending[hash]
	if !ok {
		total = e.filled[hash]
	}
	total = total.Add(amount)
	if total.GreaterThan(o.Paper.Abs()) {
		return fmt.Errorf("filled %s of %s: %w", total, o.Paper.Abs(), errs.ErrOrderFilledOverflow)
	}
	pending[hash] = total
	return nil
}
