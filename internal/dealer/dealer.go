// Package dealer is the composition root of the clearing core. It wires the
// ledger, registry, risk evaluator, matching, funding and liquidation engines
// behind one mutex, assigns event sequence numbers, and restores a ledger
// snapshot whenever a compound operation fails partway.
package dealer

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"PerpDealer/internal/auth"
	"PerpDealer/internal/errs"
	"PerpDealer/internal/event"
	"PerpDealer/internal/funding"
	"PerpDealer/internal/ledger"
	"PerpDealer/internal/liquidation"
	"PerpDealer/internal/matching"
	"PerpDealer/internal/observability"
	"PerpDealer/internal/registry"
	"PerpDealer/internal/risk"
)

// Publisher receives every event the dealer emits, already enveloped and
// sequenced. Implementations must not block the caller.
type Publisher interface {
	Publish(env event.Envelope)
}

// NopPublisher drops events. Useful for tools and tests that do not care
// about egress.
type NopPublisher struct{}

func (NopPublisher) Publish(event.Envelope) {}

// FanoutPublisher forwards every envelope to all targets in order.
type FanoutPublisher struct {
	targets []Publisher
}

func NewFanoutPublisher(targets ...Publisher) *FanoutPublisher {
	return &FanoutPublisher{targets: targets}
}

func (f *FanoutPublisher) Publish(env event.Envelope) {
	for _, t := range f.targets {
		t.Publish(env)
	}
}

// Config carries the deployment parameters of a dealer instance.
type Config struct {
	Owner            string
	Insurance        string
	WithdrawTimeLock time.Duration
	Domain           matching.Domain
}

// Dealer is the single entry point for every state mutation and view.
type Dealer struct {
	mu sync.Mutex

	cfg      Config
	clock    Clock
	ledger   *ledger.Ledger
	registry *registry.Registry
	risk     *risk.Evaluator
	matching *matching.Engine
	funding  *funding.Engine
	liq      *liquidation.Engine
	auth     *auth.Registry
	vault    ledger.AssetVault

	publisher Publisher
	metrics   *observability.Metrics
	log       zerolog.Logger

	timeLock time.Duration
	sequence int64
}

// New assembles a dealer. verifier is the pluggable signature scheme, vault
// the external collateral boundary; pass a NopPublisher and nil metrics when
// egress and instrumentation are not needed.
func New(cfg Config, clock Clock, vault ledger.AssetVault, verifier matching.SignatureVerifier,
	publisher Publisher, metrics *observability.Metrics, log zerolog.Logger) *Dealer {

	led := ledger.New()
	reg := registry.New()
	az := auth.NewRegistry(cfg.Owner)
	rk := risk.NewEvaluator(led, reg)

	d := &Dealer{
		cfg:       cfg,
		clock:     clock,
		ledger:    led,
		registry:  reg,
		risk:      rk,
		auth:      az,
		vault:     vault,
		publisher: publisher,
		metrics:   metrics,
		log:       log,
		timeLock:  cfg.WithdrawTimeLock,
	}
	d.matching = matching.NewEngine(led, reg, rk, az, verifier, cfg.Domain, log)
	d.funding = funding.NewEngine(reg, az, log)
	d.liq = liquidation.NewEngine(led, reg, rk, az, cfg.Insurance, log)
	return d
}

// Auth exposes the authorization registry for wiring (e.g. registering the
// funding limiter as keeper at startup).
func (d *Dealer) Auth() *auth.Registry { return d.auth }

// Funding exposes the funding engine for keeper wiring.
func (d *Dealer) Funding() *funding.Engine { return d.funding }

// Registry exposes the market registry for keeper wiring.
func (d *Dealer) Registry() *registry.Registry { return d.registry }

func (d *Dealer) emit(evt event.Event) {
	d.sequence++
	env := event.Envelope{
		Sequence:  d.sequence,
		EventID:   uuid.New(),
		Type:      evt.EventType(),
		TypeName:  evt.EventType().String(),
		MarketID:  evt.MarketID(),
		Timestamp: d.clock.Now(),
		Payload:   evt,
	}
	if d.metrics != nil {
		d.metrics.EventsPublished.WithLabelValues(env.TypeName).Inc()
	}
	d.publisher.Publish(env)
}

func (d *Dealer) observe(op string, start time.Time) {
	if d.metrics != nil {
		d.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// ---------------------------------------------------------------------------
// Ledger operations
// ---------------------------------------------------------------------------

// Deposit pulls collateral from the caller's wallet and credits it to a
// trader. Crediting a third party is allowed; no safety check applies.
func (d *Dealer) Deposit(ctx auth.Context, to string, primary, secondary decimal.Decimal) error {
	defer d.observe("deposit", time.Now())
	d.mu.Lock()
	defer d.mu.Unlock()

	// Amounts are checked before the vault moves anything so a rejected
	// deposit leaves the external balances untouched.
	if primary.Sign() < 0 || secondary.Sign() < 0 {
		return fmt.Errorf("deposit %s/%s: %w", primary, secondary, errs.ErrDepositInvalid)
	}
	if err := d.vault.TransferIn(ctx.Caller, primary, secondary); err != nil {
		return fmt.Errorf("vault transfer in: %w", err)
	}
	if err := d.ledger.Deposit(to, primary, secondary); err != nil {
		return err
	}
	if d.metrics != nil {
		if primary.Sign() > 0 {
			d.metrics.Deposits.WithLabelValues("primary").Inc()
		}
		if secondary.Sign() > 0 {
			d.metrics.Deposits.WithLabelValues("secondary").Inc()
		}
	}
	d.emit(&event.Deposit{From: ctx.Caller, To: auth.Normalize(to), Primary: primary, Secondary: secondary})
	return nil
}

// RequestWithdraw opens the withdrawal time lock for the caller. A second
// request overwrites the first.
func (d *Dealer) RequestWithdraw(ctx auth.Context, primary, secondary decimal.Decimal) error {
	defer d.observe("request_withdraw", time.Now())
	d.mu.Lock()
	defer d.mu.Unlock()

	executableAt := d.clock.Now().Add(d.timeLock)
	if err := d.ledger.RequestWithdraw(ctx.Caller, primary, secondary, executableAt); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.WithdrawRequests.Inc()
	}
	d.emit(&event.WithdrawRequested{Trader: ctx.Caller, Primary: primary, Secondary: secondary, ExecutableAt: executableAt})
	return nil
}

// ExecuteWithdraw completes the caller's pending withdrawal once the time
// lock has passed. With asInternalTransfer the funds credit another trader's
// account instead of leaving through the vault. The caller must stay safe.
func (d *Dealer) ExecuteWithdraw(ctx auth.Context, to string, asInternalTransfer bool) error {
	defer d.observe("execute_withdraw", time.Now())
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.ledger.Snapshot()
	primary, secondary, err := d.ledger.ExecuteWithdraw(ctx.Caller, d.clock.Now())
	if err != nil {
		return err
	}
	if asInternalTransfer {
		if err := d.ledger.Deposit(to, primary, secondary); err != nil {
			d.ledger.Restore(snap)
			return err
		}
	}

	safe, err := d.risk.IsSafe(ctx.Caller)
	if err != nil {
		d.ledger.Restore(snap)
		return err
	}
	if !safe {
		d.ledger.Restore(snap)
		return fmt.Errorf("trader %s after withdrawal: %w", ctx.Caller, errs.ErrAccountNotSafe)
	}

	if !asInternalTransfer {
		if err := d.vault.TransferOut(to, primary, secondary); err != nil {
			d.ledger.Restore(snap)
			return fmt.Errorf("vault transfer out: %w", err)
		}
	}

	destination := "vault"
	if asInternalTransfer {
		destination = "internal"
	}
	if d.metrics != nil {
		d.metrics.WithdrawExecutions.WithLabelValues(destination).Inc()
	}
	d.emit(&event.WithdrawExecuted{
		Trader:           ctx.Caller,
		To:               auth.Normalize(to),
		Primary:          primary,
		Secondary:        secondary,
		InternalTransfer: asInternalTransfer,
	})
	return nil
}

// SetVirtualCredit grants or revokes operator-backed margin. Owner only.
func (d *Dealer) SetVirtualCredit(ctx auth.Context, trader string, amount decimal.Decimal) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.auth.RequireOwner(ctx); err != nil {
		return err
	}
	d.ledger.SetVirtualCredit(trader, amount)
	return nil
}

// ---------------------------------------------------------------------------
// Admin operations
// ---------------------------------------------------------------------------

// SetRiskParams registers, updates or removes a market. Owner only.
func (d *Dealer) SetRiskParams(ctx auth.Context, marketID string, params registry.RiskParams, register bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.auth.RequireOwner(ctx); err != nil {
		return err
	}
	if err := d.registry.SetRiskParams(marketID, params, register); err != nil {
		return err
	}
	if register {
		d.emit(&event.RiskParamSet{
			Market:               marketID,
			Name:                 params.Name,
			InitialMarginRate:    params.InitialMarginRate,
			LiquidationThreshold: params.LiquidationThreshold,
			LiquidationPriceOff:  params.LiquidationPriceOff,
			InsuranceFeeRate:     params.InsuranceFeeRate,
		})
	} else {
		d.emit(&event.MarketRemoved{Market: marketID})
	}
	return nil
}

// SetFundingRateKeeper designates the funding keeper. Owner only.
func (d *Dealer) SetFundingRateKeeper(ctx auth.Context, keeper string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.auth.SetFundingKeeper(ctx, keeper)
}

// SetOrderSender allowlists or removes a settlement relayer. Owner only.
func (d *Dealer) SetOrderSender(ctx auth.Context, sender string, valid bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.auth.SetOrderSender(ctx, sender, valid)
}

// SetInsurance repoints the insurance account. Owner only.
func (d *Dealer) SetInsurance(ctx auth.Context, insurance string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.auth.RequireOwner(ctx); err != nil {
		return err
	}
	d.liq.SetInsurance(insurance)
	return nil
}

// SetWithdrawTimeLock adjusts the withdrawal delay. Owner only.
func (d *Dealer) SetWithdrawTimeLock(ctx auth.Context, lock time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.auth.RequireOwner(ctx); err != nil {
		return err
	}
	if lock < 0 {
		return fmt.Errorf("negative time lock: %w", errs.ErrInvalidRiskParam)
	}
	d.timeLock = lock
	return nil
}

// SetOperator lets the caller delegate order signing and liquidation
// execution to an operator.
func (d *Dealer) SetOperator(ctx auth.Context, operator string, approved bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.auth.SetOperator(ctx.Caller, operator, approved)
	return nil
}

// ---------------------------------------------------------------------------
// Trading, funding, liquidation
// ---------------------------------------------------------------------------

// Trade settles one order batch submitted by the calling order sender.
func (d *Dealer) Trade(ctx auth.Context, orders []*matching.Order, signatures [][]byte, matchAmounts []decimal.Decimal) (*matching.Result, error) {
	defer d.observe("trade", time.Now())
	d.mu.Lock()
	defer d.mu.Unlock()

	req := &matching.Request{
		Sender:       ctx.Caller,
		Orders:       orders,
		Signatures:   signatures,
		MatchAmounts: matchAmounts,
	}
	snap := d.ledger.Snapshot()
	res, err := d.matching.Trade(d.clock.Now(), req)
	if err != nil {
		d.ledger.Restore(snap)
		if d.metrics != nil {
			d.metrics.TradesRejected.WithLabelValues(errCode(err)).Inc()
		}
		return nil, err
	}

	if d.metrics != nil {
		d.metrics.TradesSettled.Inc()
		d.metrics.OrdersMatched.Observe(float64(len(orders)))
		fee, _ := res.Fee.Float64()
		d.metrics.FeesCollected.Add(fee)
	}
	for _, c := range res.Changes {
		d.emit(&event.BalanceChange{Trader: c.Trader, Market: c.Market, PaperDelta: c.PaperDelta, CreditDelta: c.CreditDelta})
	}
	d.emit(&event.TradeSettled{
		Market:      res.Market,
		OrderSender: res.OrderSender,
		Taker:       auth.Normalize(orders[0].Signer),
		Fee:         res.Fee,
		OrderCount:  len(orders),
	})
	return res, nil
}

// UpdateFundingRate pushes new cumulative coefficients. The caller must be
// the designated funding keeper.
func (d *Dealer) UpdateFundingRate(ctx auth.Context, markets []string, rates []decimal.Decimal) error {
	defer d.observe("update_funding", time.Now())
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.funding.UpdateRates(ctx, markets, rates); err != nil {
		if d.metrics != nil {
			d.metrics.FundingRejected.WithLabelValues(errCode(err)).Inc()
		}
		return err
	}
	for i, m := range markets {
		if d.metrics != nil {
			d.metrics.FundingUpdates.WithLabelValues(m).Inc()
		}
		d.emit(&event.FundingRateUpdated{Market: m, Rate: rates[i]})
	}
	return nil
}

// Liquidate lets the caller (or an operator acting for the liquidator) take
// over part of an unsafe trader's position.
func (d *Dealer) Liquidate(ctx auth.Context, liquidator, trader, market string,
	requestPaper, requestCredit decimal.Decimal) (*liquidation.Result, error) {
	defer d.observe("liquidate", time.Now())
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.ledger.Snapshot()
	res, err := d.liq.Liquidate(ctx, liquidator, trader, market, requestPaper, requestCredit)
	if err != nil {
		d.ledger.Restore(snap)
		if d.metrics != nil {
			d.metrics.LiquidationsRejected.WithLabelValues(errCode(err)).Inc()
		}
		return nil, err
	}

	if d.metrics != nil {
		d.metrics.LiquidationsExecuted.WithLabelValues(market).Inc()
	}
	d.emit(&event.BalanceChange{
		Trader:      res.Trader,
		Market:      market,
		PaperDelta:  res.PaperChange.Neg(),
		CreditDelta: res.CreditChange.Neg().Sub(res.InsuranceFee),
	})
	d.emit(&event.BalanceChange{
		Trader:      res.Liquidator,
		Market:      market,
		PaperDelta:  res.PaperChange,
		CreditDelta: res.CreditChange,
	})
	d.emit(&event.LiquidationExecuted{
		Market:       market,
		Trader:       res.Trader,
		Liquidator:   res.Liquidator,
		PaperChange:  res.PaperChange,
		CreditChange: res.CreditChange,
		InsuranceFee: res.InsuranceFee,
	})
	return res, nil
}

// HandleBadDebt socializes an insolvent, positionless trader. Callable by
// anyone: the checks make it a no-op against healthy accounts.
func (d *Dealer) HandleBadDebt(trader string) error {
	defer d.observe("bad_debt", time.Now())
	d.mu.Lock()
	defer d.mu.Unlock()

	acc := d.ledger.Account(trader)
	if err := d.liq.HandleBadDebt(trader); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.BadDebtSettled.Inc()
	}
	d.emit(&event.BadDebtSettled{Trader: auth.Normalize(trader), Primary: acc.PrimaryCredit, Secondary: acc.SecondaryCredit})
	return nil
}

func errCode(err error) string {
	if code := errs.Code(err); code != "" {
		return code
	}
	return "INTERNAL"
}
