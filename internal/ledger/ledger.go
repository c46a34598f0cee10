// Package ledger holds the in-memory credit and position state for every
// trader. It exposes mutation primitives only: margin safety, signatures and
// authorization are enforced by the layers above, and atomicity comes from
// snapshotting the ledger before a compound operation and restoring on error.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"PerpDealer/internal/auth"
	"PerpDealer/internal/errs"
	"PerpDealer/internal/fpmath"
)

// Account is one trader's collateral state.
//
// PrimaryCredit settles trades and may go negative as long as the trader
// stays safe. SecondaryCredit is deposit-only collateral that never counts
// toward margin. VirtualCredit is operator-granted margin that cannot be
// withdrawn.
type Account struct {
	PrimaryCredit   decimal.Decimal
	SecondaryCredit decimal.Decimal
	VirtualCredit   decimal.Decimal

	PendingPrimaryWithdraw   decimal.Decimal
	PendingSecondaryWithdraw decimal.Decimal
	WithdrawExecutableAt     time.Time
}

// Position is one trader's exposure in one market. Credit stores the value
// at the last funding checkpoint; the effective credit is
// Credit + Paper*(currentRate - EntryFundingRate). A position exists only
// while Paper is non-zero.
type Position struct {
	Paper            decimal.Decimal
	Credit           decimal.Decimal
	EntryFundingRate decimal.Decimal
}

// EffectiveCredit folds lazily accrued funding into the stored credit.
func (p *Position) EffectiveCredit(currentRate decimal.Decimal) decimal.Decimal {
	accrued := fpmath.Mul(p.Paper, currentRate.Sub(p.EntryFundingRate))
	return p.Credit.Add(accrued)
}

// Ledger is the full account and position book.
type Ledger struct {
	accounts  map[string]*Account
	positions map[string]map[string]*Position
}

func New() *Ledger {
	return &Ledger{
		accounts:  make(map[string]*Account),
		positions: make(map[string]map[string]*Position),
	}
}

func (l *Ledger) account(trader string) *Account {
	trader = auth.Normalize(trader)
	acc, ok := l.accounts[trader]
	if !ok {
		acc = &Account{}
		l.accounts[trader] = acc
	}
	return acc
}

// Account returns a copy of the trader's account state.
func (l *Ledger) Account(trader string) Account {
	if acc, ok := l.accounts[auth.Normalize(trader)]; ok {
		return *acc
	}
	return Account{}
}

// Deposit credits collateral. Negative amounts are rejected; crediting a
// third party is allowed and requires no safety check.
func (l *Ledger) Deposit(to string, primary, secondary decimal.Decimal) error {
	if primary.Sign() < 0 || secondary.Sign() < 0 {
		return fmt.Errorf("deposit amounts must be non-negative: %w", errs.ErrDepositInvalid)
	}
	acc := l.account(to)
	acc.PrimaryCredit = acc.PrimaryCredit.Add(primary)
	acc.SecondaryCredit = acc.SecondaryCredit.Add(secondary)
	return nil
}

// RequestWithdraw records a pending withdrawal executable at executableAt.
// A second request overwrites the first.
func (l *Ledger) RequestWithdraw(trader string, primary, secondary decimal.Decimal, executableAt time.Time) error {
	if primary.Sign() < 0 || secondary.Sign() < 0 {
		return fmt.Errorf("withdraw amounts must be non-negative: %w", errs.ErrWithdrawInvalid)
	}
	if primary.IsZero() && secondary.IsZero() {
		return fmt.Errorf("empty withdraw request: %w", errs.ErrWithdrawInvalid)
	}
	acc := l.account(trader)
	acc.PendingPrimaryWithdraw = primary
	acc.PendingSecondaryWithdraw = secondary
	acc.WithdrawExecutableAt = executableAt
	return nil
}

// ExecuteWithdraw debits the pending amounts once the time lock has passed
// and returns them for routing. Primary may go negative; secondary cannot.
func (l *Ledger) ExecuteWithdraw(trader string, now time.Time) (primary, secondary decimal.Decimal, err error) {
	acc := l.account(trader)
	if acc.PendingPrimaryWithdraw.IsZero() && acc.PendingSecondaryWithdraw.IsZero() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("no pending withdrawal for %s: %w", trader, errs.ErrWithdrawInvalid)
	}
	if now.Before(acc.WithdrawExecutableAt) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("time lock until %s: %w",
			acc.WithdrawExecutableAt.Format(time.RFC3339), errs.ErrWithdrawPending)
	}
	primary, secondary = acc.PendingPrimaryWithdraw, acc.PendingSecondaryWithdraw
	if secondary.GreaterThan(acc.SecondaryCredit) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("secondary credit %s below requested %s: %w",
			acc.SecondaryCredit, secondary, errs.ErrWithdrawInvalid)
	}
	acc.PrimaryCredit = acc.PrimaryCredit.Sub(primary)
	acc.SecondaryCredit = acc.SecondaryCredit.Sub(secondary)
	acc.PendingPrimaryWithdraw = decimal.Zero
	acc.PendingSecondaryWithdraw = decimal.Zero
	acc.WithdrawExecutableAt = time.Time{}
	return primary, secondary, nil
}

// ClearPendingWithdraw drops any pending withdrawal request.
func (l *Ledger) ClearPendingWithdraw(trader string) {
	acc := l.account(trader)
	acc.PendingPrimaryWithdraw = decimal.Zero
	acc.PendingSecondaryWithdraw = decimal.Zero
	acc.WithdrawExecutableAt = time.Time{}
}

// AddPrimary adjusts a trader's primary credit by delta.
func (l *Ledger) AddPrimary(trader string, delta decimal.Decimal) {
	acc := l.account(trader)
	acc.PrimaryCredit = acc.PrimaryCredit.Add(delta)
}

// AddSecondary adjusts a trader's secondary credit by delta.
func (l *Ledger) AddSecondary(trader string, delta decimal.Decimal) {
	acc := l.account(trader)
	acc.SecondaryCredit = acc.SecondaryCredit.Add(delta)
}

// SetVirtualCredit overwrites the operator-granted virtual credit.
func (l *Ledger) SetVirtualCredit(trader string, amount decimal.Decimal) {
	l.account(trader).VirtualCredit = amount
}

// Position returns a copy of the trader's position in a market.
func (l *Ledger) Position(trader, market string) (Position, bool) {
	pos, ok := l.positions[auth.Normalize(trader)][market]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns the trader's open positions keyed by market ID.
func (l *Ledger) Positions(trader string) map[string]Position {
	out := make(map[string]Position)
	for market, pos := range l.positions[auth.Normalize(trader)] {
		out[market] = *pos
	}
	return out
}

// HasPositions reports whether the trader holds any open position.
func (l *Ledger) HasPositions(trader string) bool {
	return len(l.positions[auth.Normalize(trader)]) > 0
}

func (l *Ledger) position(trader, market string) *Position {
	trader = auth.Normalize(trader)
	book := l.positions[trader]
	if book == nil {
		book = make(map[string]*Position)
		l.positions[trader] = book
	}
	pos, ok := book[market]
	if !ok {
		pos = &Position{}
		book[market] = pos
	}
	return pos
}

// SettleFunding folds the funding accrued since the last checkpoint into the
// stored credit and moves the checkpoint to currentRate. Every touch of a
// position goes through here first so accrual stays O(1) per position.
func (l *Ledger) SettleFunding(trader, market string, currentRate decimal.Decimal) {
	pos, ok := l.positions[auth.Normalize(trader)][market]
	if !ok {
		return
	}
	pos.Credit = pos.EffectiveCredit(currentRate)
	pos.EntryFundingRate = currentRate
}

// ApplyPositionDelta settles funding, applies a paper/credit delta to the
// trader's position and realizes the position into primary credit when the
// paper returns to zero.
func (l *Ledger) ApplyPositionDelta(trader, market string, paperDelta, creditDelta, currentRate decimal.Decimal) {
	l.SettleFunding(trader, market, currentRate)
	pos := l.position(trader, market)
	pos.Paper = pos.Paper.Add(paperDelta)
	pos.Credit = pos.Credit.Add(creditDelta)
	pos.EntryFundingRate = currentRate
	if pos.Paper.IsZero() {
		l.realize(trader, market, pos)
	}
}

// ChargePositionCredit debits a position's credit without touching paper,
// settling funding first. Used for liquidation insurance fees.
func (l *Ledger) ChargePositionCredit(trader, market string, amount, currentRate decimal.Decimal) {
	l.SettleFunding(trader, market, currentRate)
	pos := l.position(trader, market)
	pos.Credit = pos.Credit.Sub(amount)
	if pos.Paper.IsZero() {
		l.realize(trader, market, pos)
	}
}

func (l *Ledger) realize(trader, market string, pos *Position) {
	trader = auth.Normalize(trader)
	acc := l.account(trader)
	acc.PrimaryCredit = acc.PrimaryCredit.Add(pos.Credit)
	delete(l.positions[trader], market)
	if len(l.positions[trader]) == 0 {
		delete(l.positions, trader)
	}
}

// Snapshot deep-copies the ledger. Compound operations snapshot on entry and
// Restore on failure so a batch either settles fully or not at all.
func (l *Ledger) Snapshot() *Ledger {
	snap := New()
	for trader, acc := range l.accounts {
		cp := *acc
		snap.accounts[trader] = &cp
	}
	for trader, book := range l.positions {
		cpBook := make(map[string]*Position, len(book))
		for market, pos := range book {
			cp := *pos
			cpBook[market] = &cp
		}
		snap.positions[trader] = cpBook
	}
	return snap
}

// Restore replaces the ledger contents with a snapshot taken earlier.
func (l *Ledger) Restore(snap *Ledger) {
	l.accounts = snap.accounts
	l.positions = snap.positions
}
