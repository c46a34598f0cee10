package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"PerpDealer/internal/errs"
	"PerpDealer/internal/ledger"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ============================================================================
// Test: deposits and withdrawals
// ============================================================================

func TestDeposit_CreditsBothLegs(t *testing.T) {
	l := ledger.New()
	if err := l.Deposit("0xA1", dec(t, "100"), dec(t, "30")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	acc := l.Account("0xA1")
	if !acc.PrimaryCredit.Equal(dec(t, "100")) || !acc.SecondaryCredit.Equal(dec(t, "30")) {
		t.Errorf("got %s/%s, want 100/30", acc.PrimaryCredit, acc.SecondaryCredit)
	}
}

func TestDeposit_RejectsNegative(t *testing.T) {
	l := ledger.New()
	if err := l.Deposit("0xA1", dec(t, "-1"), decimal.Zero); err == nil {
		t.Fatal("negative deposit should fail")
	}
}

func TestWithdraw_TimeLock(t *testing.T) {
	l := ledger.New()
	l.Deposit("0xA1", dec(t, "100"), dec(t, "100"))
	if err := l.RequestWithdraw("0xA1", dec(t, "50"), dec(t, "50"), t0.Add(100*time.Second)); err != nil {
		t.Fatalf("request: %v", err)
	}

	_, _, err := l.ExecuteWithdraw("0xA1", t0.Add(99*time.Second))
	if !errors.Is(err, errs.ErrWithdrawPending) {
		t.Fatalf("early execute: got %v, want WITHDRAW_PENDING", err)
	}

	p, s, err := l.ExecuteWithdraw("0xA1", t0.Add(100*time.Second))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !p.Equal(dec(t, "50")) || !s.Equal(dec(t, "50")) {
		t.Errorf("released %s/%s, want 50/50", p, s)
	}
	acc := l.Account("0xA1")
	if !acc.PrimaryCredit.Equal(dec(t, "50")) || !acc.SecondaryCredit.Equal(dec(t, "50")) {
		t.Errorf("remaining %s/%s, want 50/50", acc.PrimaryCredit, acc.SecondaryCredit)
	}
}

func TestWithdraw_SecondRequestOverwrites(t *testing.T) {
	l := ledger.New()
	l.Deposit("0xA1", dec(t, "100"), decimal.Zero)
	l.RequestWithdraw("0xA1", dec(t, "80"), decimal.Zero, t0.Add(100*time.Second))
	l.RequestWithdraw("0xA1", dec(t, "10"), decimal.Zero, t0.Add(200*time.Second))

	if _, _, err := l.ExecuteWithdraw("0xA1", t0.Add(150*time.Second)); !errors.Is(err, errs.ErrWithdrawPending) {
		t.Fatalf("overwritten lock should still pend: %v", err)
	}
	p, _, err := l.ExecuteWithdraw("0xA1", t0.Add(200*time.Second))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !p.Equal(dec(t, "10")) {
		t.Errorf("released %s, want 10 (second request)", p)
	}
}

func TestWithdraw_PrimaryMayGoNegative(t *testing.T) {
	l := ledger.New()
	l.Deposit("0xA1", dec(t, "10"), decimal.Zero)
	l.RequestWithdraw("0xA1", dec(t, "25"), decimal.Zero, t0)
	p, _, err := l.ExecuteWithdraw("0xA1", t0)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !p.Equal(dec(t, "25")) {
		t.Errorf("released %s, want 25", p)
	}
	if !l.Account("0xA1").PrimaryCredit.Equal(dec(t, "-15")) {
		t.Errorf("primary %s, want -15", l.Account("0xA1").PrimaryCredit)
	}
}

func TestWithdraw_SecondaryCannotGoNegative(t *testing.T) {
	l := ledger.New()
	l.Deposit("0xA1", decimal.Zero, dec(t, "10"))
	l.RequestWithdraw("0xA1", decimal.Zero, dec(t, "25"), t0)
	if _, _, err := l.ExecuteWithdraw("0xA1", t0); !errors.Is(err, errs.ErrWithdrawInvalid) {
		t.Fatalf("got %v, want WITHDRAW_INVALID", err)
	}
}

func TestWithdraw_NothingPending(t *testing.T) {
	l := ledger.New()
	if _, _, err := l.ExecuteWithdraw("0xA1", t0); !errors.Is(err, errs.ErrWithdrawInvalid) {
		t.Fatalf("got %v, want WITHDRAW_INVALID", err)
	}
}

// ============================================================================
// Test: positions and funding checkpoints
// ============================================================================

func TestPosition_RealizesOnFlat(t *testing.T) {
	l := ledger.New()
	l.ApplyPositionDelta("0xA1", "BTC", dec(t, "1"), dec(t, "-30000"), decimal.Zero)
	l.ApplyPositionDelta("0xA1", "BTC", dec(t, "-1"), dec(t, "31000"), decimal.Zero)

	if l.HasPositions("0xA1") {
		t.Error("flat position should be deleted")
	}
	if !l.Account("0xA1").PrimaryCredit.Equal(dec(t, "1000")) {
		t.Errorf("realized pnl %s, want 1000", l.Account("0xA1").PrimaryCredit)
	}
}

func TestPosition_FundingAccruesLazily(t *testing.T) {
	l := ledger.New()
	// Long opened at coefficient -1.
	l.ApplyPositionDelta("0xA1", "BTC", dec(t, "1"), dec(t, "-30015"), dec(t, "-1"))

	pos, _ := l.Position("0xA1", "BTC")
	if got := pos.EffectiveCredit(dec(t, "-0.5")); !got.Equal(dec(t, "-30014.5")) {
		t.Errorf("effective credit at -0.5: got %s, want -30014.5", got)
	}
	if got := pos.EffectiveCredit(dec(t, "0.5")); !got.Equal(dec(t, "-30013.5")) {
		t.Errorf("effective credit at 0.5: got %s, want -30013.5", got)
	}

	// Checkpoint folds the accrual in and is idempotent.
	l.SettleFunding("0xA1", "BTC", dec(t, "0.5"))
	l.SettleFunding("0xA1", "BTC", dec(t, "0.5"))
	pos, _ = l.Position("0xA1", "BTC")
	if !pos.Credit.Equal(dec(t, "-30013.5")) || !pos.EntryFundingRate.Equal(dec(t, "0.5")) {
		t.Errorf("after checkpoint: credit %s entry %s", pos.Credit, pos.EntryFundingRate)
	}
}

func TestPosition_ShortFundingSign(t *testing.T) {
	l := ledger.New()
	l.ApplyPositionDelta("0xA1", "BTC", dec(t, "-1"), dec(t, "29997"), dec(t, "1"))

	pos, _ := l.Position("0xA1", "BTC")
	// Negative paper flips the accrual sign: a falling coefficient credits
	// the short.
	if got := pos.EffectiveCredit(dec(t, "0.5")); !got.Equal(dec(t, "29997.5")) {
		t.Errorf("effective credit: got %s, want 29997.5", got)
	}
}

// ============================================================================
// Test: snapshot / restore
// ============================================================================

func TestSnapshotRestore_RevertsMutations(t *testing.T) {
	l := ledger.New()
	l.Deposit("0xA1", dec(t, "100"), decimal.Zero)
	l.ApplyPositionDelta("0xA1", "BTC", dec(t, "1"), dec(t, "-30000"), decimal.Zero)

	snap := l.Snapshot()
	l.AddPrimary("0xA1", dec(t, "-40"))
	l.ApplyPositionDelta("0xA1", "BTC", dec(t, "2"), dec(t, "-60000"), decimal.Zero)
	l.Restore(snap)

	if !l.Account("0xA1").PrimaryCredit.Equal(dec(t, "100")) {
		t.Errorf("primary %s, want 100", l.Account("0xA1").PrimaryCredit)
	}
	pos, _ := l.Position("0xA1", "BTC")
	if !pos.Paper.Equal(dec(t, "1")) {
		t.Errorf("paper %s, want 1", pos.Paper)
	}
}

func TestAddressesCaseInsensitive(t *testing.T) {
	l := ledger.New()
	l.Deposit("0xAbCd", dec(t, "10"), decimal.Zero)
	if !l.Account("0xABCD").PrimaryCredit.Equal(dec(t, "10")) {
		t.Error("account lookup should be case-insensitive")
	}
}
