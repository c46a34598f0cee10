package dealer_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"PerpDealer/internal/auth"
	"PerpDealer/internal/errs"
	"PerpDealer/internal/event"
	"PerpDealer/internal/matching"
	"PerpDealer/internal/registry"
	"PerpDealer/internal/testutil"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

// ============================================================================
// Test: deposit and withdrawal round trip
// ============================================================================

func TestDeposit_RejectsNegativeAmount(t *testing.T) {
	ctx := testutil.NewContext(t)
	trader := ctx.Traders[0]
	traderCtx := auth.Ctx(trader.Address)

	err := ctx.Dealer.Deposit(traderCtx, trader.Address, dec(t, "-100"), decimal.Zero)
	if !errors.Is(err, errs.ErrDepositInvalid) {
		t.Fatalf("got %v, want DEPOSIT_AMOUNT_INVALID", err)
	}

	// The rejection must leave the external wallet untouched: a negative
	// amount slipping into the vault would credit it out of nothing.
	p, s := ctx.Vault.Balances(trader.Address)
	if !p.Equal(dec(t, "1000000")) || !s.Equal(dec(t, "1000000")) {
		t.Errorf("wallet %s/%s, want 1000000/1000000", p, s)
	}
	ctx.CheckCredit(trader, "0")

	err = ctx.Dealer.Deposit(traderCtx, trader.Address, decimal.Zero, dec(t, "-1"))
	if !errors.Is(err, errs.ErrDepositInvalid) {
		t.Fatalf("got %v, want DEPOSIT_AMOUNT_INVALID", err)
	}
	if _, s := ctx.Vault.Balances(trader.Address); !s.Equal(dec(t, "1000000")) {
		t.Errorf("wallet secondary %s, want 1000000", s)
	}
}

func TestWithdraw_RoundTrip(t *testing.T) {
	ctx := testutil.NewContext(t)
	trader := ctx.Traders[0]
	traderCtx := auth.Ctx(trader.Address)

	ctx.Deposit(trader, "100")
	if p, _ := ctx.Vault.Balances(trader.Address); !p.Equal(dec(t, "999900")) {
		t.Fatalf("wallet primary %s, want 999900", p)
	}

	if err := ctx.Dealer.RequestWithdraw(traderCtx, dec(t, "60"), decimal.Zero); err != nil {
		t.Fatalf("request withdraw: %v", err)
	}

	// The time lock has not elapsed yet.
	err := ctx.Dealer.ExecuteWithdraw(traderCtx, trader.Address, false)
	if !errors.Is(err, errs.ErrWithdrawPending) {
		t.Fatalf("got %v, want WITHDRAW_PENDING", err)
	}
	ctx.CheckCredit(trader, "100")

	ctx.Clock.Advance(100 * time.Second)
	if err := ctx.Dealer.ExecuteWithdraw(traderCtx, trader.Address, false); err != nil {
		t.Fatalf("execute withdraw: %v", err)
	}
	ctx.CheckCredit(trader, "40")
	if p, _ := ctx.Vault.Balances(trader.Address); !p.Equal(dec(t, "999960")) {
		t.Errorf("wallet primary %s, want 999960", p)
	}

	// Nothing pending anymore.
	err = ctx.Dealer.ExecuteWithdraw(traderCtx, trader.Address, false)
	if !errors.Is(err, errs.ErrWithdrawPending) {
		t.Errorf("got %v, want WITHDRAW_PENDING on drained request", err)
	}
}

func TestWithdraw_InternalTransfer(t *testing.T) {
	ctx := testutil.NewContext(t)
	from, to := ctx.Traders[0], ctx.Traders[1]
	fromCtx := auth.Ctx(from.Address)

	ctx.Deposit(from, "500")
	if err := ctx.Dealer.RequestWithdraw(fromCtx, dec(t, "200"), decimal.Zero); err != nil {
		t.Fatalf("request withdraw: %v", err)
	}
	ctx.Clock.Advance(100 * time.Second)

	walletBefore, _ := ctx.Vault.Balances(from.Address)
	if err := ctx.Dealer.ExecuteWithdraw(fromCtx, to.Address, true); err != nil {
		t.Fatalf("internal transfer: %v", err)
	}
	ctx.CheckCredit(from, "300")
	ctx.CheckCredit(to, "200")

	// Internal transfers never touch the vault.
	if walletAfter, _ := ctx.Vault.Balances(from.Address); !walletAfter.Equal(walletBefore) {
		t.Errorf("wallet moved from %s to %s on internal transfer", walletBefore, walletAfter)
	}
}

func TestWithdraw_UnsafeWithdrawalRollsBack(t *testing.T) {
	ctx := testutil.NewContext(t)
	trader, counterparty := ctx.Traders[0], ctx.Traders[1]
	traderCtx := auth.Ctx(trader.Address)

	ctx.Deposit(trader, "10000")
	ctx.Deposit(counterparty, "10000")
	ctx.OpenPosition(trader, counterparty, ctx.Markets[0], "1", "30000")

	// Pulling nearly everything would leave the position unbacked.
	if err := ctx.Dealer.RequestWithdraw(traderCtx, dec(t, "9900"), decimal.Zero); err != nil {
		t.Fatalf("request withdraw: %v", err)
	}
	ctx.Clock.Advance(100 * time.Second)

	err := ctx.Dealer.ExecuteWithdraw(traderCtx, trader.Address, false)
	if !errors.Is(err, errs.ErrAccountNotSafe) {
		t.Fatalf("got %v, want ACCOUNT_NOT_SAFE", err)
	}
	ctx.CheckCredit(trader, "10000")
	if p, _ := ctx.Vault.Balances(trader.Address); !p.Equal(dec(t, "990000")) {
		t.Errorf("wallet primary %s, want 990000 after rollback", p)
	}
}

func TestWithdraw_VirtualCreditBacksNegativeBalance(t *testing.T) {
	ctx := testutil.NewContext(t)
	trader := ctx.Traders[0]
	traderCtx := auth.Ctx(trader.Address)

	ctx.Deposit(trader, "100")
	if err := ctx.Dealer.SetVirtualCredit(auth.Ctx(ctx.Owner.Address), trader.Address, dec(t, "1000")); err != nil {
		t.Fatalf("set virtual credit: %v", err)
	}

	// Virtual credit keeps the account safe through a negative balance.
	if err := ctx.Dealer.RequestWithdraw(traderCtx, dec(t, "150"), decimal.Zero); err != nil {
		t.Fatalf("request withdraw: %v", err)
	}
	ctx.Clock.Advance(100 * time.Second)
	if err := ctx.Dealer.ExecuteWithdraw(traderCtx, trader.Address, false); err != nil {
		t.Fatalf("execute withdraw: %v", err)
	}
	ctx.CheckCredit(trader, "-50")
}

// ============================================================================
// Test: admin gating
// ============================================================================

func TestAdmin_OwnerOnly(t *testing.T) {
	ctx := testutil.NewContext(t)
	strangerCtx := auth.Ctx(ctx.Traders[0].Address)

	if err := ctx.Dealer.SetVirtualCredit(strangerCtx, ctx.Traders[1].Address, dec(t, "1")); !errors.Is(err, errs.ErrInvalidAuthorization) {
		t.Errorf("SetVirtualCredit: got %v, want INVALID_AUTHORIZATION", err)
	}
	if err := ctx.Dealer.SetFundingRateKeeper(strangerCtx, ctx.Traders[0].Address); !errors.Is(err, errs.ErrInvalidAuthorization) {
		t.Errorf("SetFundingRateKeeper: got %v, want INVALID_AUTHORIZATION", err)
	}
	if err := ctx.Dealer.SetOrderSender(strangerCtx, ctx.Traders[0].Address, true); !errors.Is(err, errs.ErrInvalidAuthorization) {
		t.Errorf("SetOrderSender: got %v, want INVALID_AUTHORIZATION", err)
	}
	if err := ctx.Dealer.SetInsurance(strangerCtx, ctx.Traders[0].Address); !errors.Is(err, errs.ErrInvalidAuthorization) {
		t.Errorf("SetInsurance: got %v, want INVALID_AUTHORIZATION", err)
	}
	if err := ctx.Dealer.SetWithdrawTimeLock(strangerCtx, time.Minute); !errors.Is(err, errs.ErrInvalidAuthorization) {
		t.Errorf("SetWithdrawTimeLock: got %v, want INVALID_AUTHORIZATION", err)
	}

	params, _ := ctx.Dealer.GetRiskParams(ctx.Markets[0])
	if err := ctx.Dealer.SetRiskParams(strangerCtx, ctx.Markets[0], *params, true); !errors.Is(err, errs.ErrInvalidAuthorization) {
		t.Errorf("SetRiskParams: got %v, want INVALID_AUTHORIZATION", err)
	}
}

func TestAdmin_TimeLockAdjustable(t *testing.T) {
	ctx := testutil.NewContext(t)
	ownerCtx := auth.Ctx(ctx.Owner.Address)
	trader := ctx.Traders[0]
	traderCtx := auth.Ctx(trader.Address)

	if err := ctx.Dealer.SetWithdrawTimeLock(ownerCtx, -time.Second); !errors.Is(err, errs.ErrInvalidRiskParam) {
		t.Fatalf("negative lock: got %v, want INVALID_RISK_PARAM", err)
	}
	if err := ctx.Dealer.SetWithdrawTimeLock(ownerCtx, 0); err != nil {
		t.Fatalf("zero lock: %v", err)
	}

	ctx.Deposit(trader, "10")
	if err := ctx.Dealer.RequestWithdraw(traderCtx, dec(t, "10"), decimal.Zero); err != nil {
		t.Fatalf("request withdraw: %v", err)
	}
	// A zero lock executes immediately.
	if err := ctx.Dealer.ExecuteWithdraw(traderCtx, trader.Address, false); err != nil {
		t.Fatalf("execute withdraw: %v", err)
	}
	ctx.CheckCredit(trader, "0")
}

func TestAdmin_MarketRemoval(t *testing.T) {
	ctx := testutil.NewContext(t)
	ownerCtx := auth.Ctx(ctx.Owner.Address)

	params, ok := ctx.Dealer.GetRiskParams(ctx.Markets[0])
	if !ok {
		t.Fatal("btc market missing")
	}
	if err := ctx.Dealer.SetRiskParams(ownerCtx, ctx.Markets[0], *params, false); err != nil {
		t.Fatalf("remove market: %v", err)
	}

	// Removal swaps the last market into the vacated slot.
	got := ctx.Dealer.GetAllRegisteredMarkets()
	want := []string{ctx.Markets[2], ctx.Markets[1]}
	if len(got) != len(want) {
		t.Fatalf("registered = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("registered[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if evs := ctx.Publisher.ByType(event.EventTypeMarketRemoved); len(evs) != 1 {
		t.Errorf("market removed events = %d, want 1", len(evs))
	}
}

// ============================================================================
// Test: event stream
// ============================================================================

func TestEvents_SequencedAndTyped(t *testing.T) {
	ctx := testutil.NewContext(t)
	taker, maker := ctx.Traders[0], ctx.Traders[1]
	ctx.Deposit(taker, "10000")
	ctx.Deposit(maker, "10000")
	ctx.OpenPosition(taker, maker, ctx.Markets[0], "1", "30000")

	var prev int64
	for _, env := range ctx.Publisher.Events {
		if env.Sequence <= prev {
			t.Fatalf("sequence %d after %d", env.Sequence, prev)
		}
		prev = env.Sequence
		if env.EventID == uuid.Nil {
			t.Fatal("event without id")
		}
		if env.TypeName != env.Type.String() {
			t.Fatalf("type name %s for type %v", env.TypeName, env.Type)
		}
	}

	if evs := ctx.Publisher.ByType(event.EventTypeDeposit); len(evs) != 2 {
		t.Errorf("deposit events = %d, want 2", len(evs))
	}
	settled := ctx.Publisher.ByType(event.EventTypeTradeSettled)
	if len(settled) != 1 {
		t.Fatalf("trade settled events = %d, want 1", len(settled))
	}
	ts, ok := settled[0].Payload.(*event.TradeSettled)
	if !ok {
		t.Fatalf("payload %T, want *event.TradeSettled", settled[0].Payload)
	}
	if !ts.Fee.Equal(dec(t, "18")) {
		t.Errorf("trade fee %s, want 18", ts.Fee)
	}
	if got := len(ctx.Publisher.ByType(event.EventTypeBalanceChange)); got != 2 {
		t.Errorf("balance change events = %d, want 2", got)
	}
}

func TestEvents_RejectedTradeEmitsNothing(t *testing.T) {
	ctx := testutil.NewContext(t)
	taker, maker := ctx.Traders[0], ctx.Traders[1]

	// Unfunded traders fail the safety check after matching.
	takerOrder, takerSig := ctx.BuildOrder(taker, ctx.Markets[0], "1", "-30000")
	makerOrder, makerSig := ctx.BuildOrder(maker, ctx.Markets[0], "-1", "30000")
	_, err := ctx.Dealer.Trade(auth.Ctx(ctx.Owner.Address),
		[]*matching.Order{takerOrder, makerOrder},
		[][]byte{takerSig, makerSig},
		[]decimal.Decimal{decimal.NewFromInt(1), decimal.NewFromInt(1)})
	if !errors.Is(err, errs.ErrTraderNotSafe) {
		t.Fatalf("got %v, want TRADER_NOT_SAFE", err)
	}

	if got := len(ctx.Publisher.ByType(event.EventTypeBalanceChange)); got != 0 {
		t.Errorf("balance change events = %d, want 0", got)
	}
	if got := len(ctx.Publisher.ByType(event.EventTypeTradeSettled)); got != 0 {
		t.Errorf("trade settled events = %d, want 0", got)
	}
}

// ============================================================================
// Test: views
// ============================================================================

func TestViews_RiskAndPrices(t *testing.T) {
	ctx := testutil.NewContext(t)
	trader, counterparty := ctx.Traders[0], ctx.Traders[1]
	ctx.Deposit(trader, "10000")
	ctx.Deposit(counterparty, "10000")
	ctx.OpenPosition(trader, counterparty, ctx.Markets[0], "1", "30000")

	price, err := ctx.Dealer.GetMarkPrice(ctx.Markets[0])
	if err != nil {
		t.Fatalf("mark price: %v", err)
	}
	if !price.Equal(dec(t, "30000")) {
		t.Errorf("mark price %s, want 30000", price)
	}

	report, err := ctx.Dealer.GetTraderRisk(trader.Address)
	if err != nil {
		t.Fatalf("trader risk: %v", err)
	}
	if !report.NetValue.Equal(dec(t, "9985")) {
		t.Errorf("net value %s, want 9985", report.NetValue)
	}
	if !report.Exposure.Equal(dec(t, "30000")) {
		t.Errorf("exposure %s, want 30000", report.Exposure)
	}
	if !report.MaintenanceMargin.Equal(dec(t, "900")) {
		t.Errorf("maintenance %s, want 900", report.MaintenanceMargin)
	}

	safe, err := ctx.Dealer.IsSafe(trader.Address)
	if err != nil || !safe {
		t.Errorf("IsSafe = %v, %v; want true", safe, err)
	}

	liqPrice, err := ctx.Dealer.GetLiquidationPrice(trader.Address, ctx.Markets[0])
	if err != nil {
		t.Fatalf("liquidation price: %v", err)
	}
	if !liqPrice.Equal(dec(t, "20634.020618556701030927")) {
		t.Errorf("liquidation price %s", liqPrice)
	}
}

func TestViews_UnknownMarket(t *testing.T) {
	ctx := testutil.NewContext(t)
	unknown := "0x00000000000000000000000000000000000000ff"

	if _, err := ctx.Dealer.GetMarkPrice(unknown); !errors.Is(err, errs.ErrPerpNotRegistered) {
		t.Errorf("mark price: got %v, want PERP_NOT_REGISTERED", err)
	}
	if _, err := ctx.Dealer.GetFundingRate(unknown); !errors.Is(err, errs.ErrPerpNotRegistered) {
		t.Errorf("funding rate: got %v, want PERP_NOT_REGISTERED", err)
	}
	if _, ok := ctx.Dealer.GetRiskParams(unknown); ok {
		t.Error("risk params for unknown market")
	}
}

func TestSetRiskParams_ValidationSurface(t *testing.T) {
	ctx := testutil.NewContext(t)
	ownerCtx := auth.Ctx(ctx.Owner.Address)

	bad := registry.RiskParams{
		Name:                 "BROKEN1x",
		InitialMarginRate:    dec(t, "0.03"),
		LiquidationThreshold: dec(t, "0.05"),
		LiquidationPriceOff:  dec(t, "0.01"),
		InsuranceFeeRate:     dec(t, "0.01"),
		Source:               registry.NewStaticPriceSource(dec(t, "1")),
	}
	// Initial margin must sit above the liquidation threshold.
	err := ctx.Dealer.SetRiskParams(ownerCtx, "0x00000000000000000000000000000000000000aa", bad, true)
	if !errors.Is(err, errs.ErrInvalidRiskParam) {
		t.Errorf("got %v, want INVALID_RISK_PARAM", err)
	}
}
