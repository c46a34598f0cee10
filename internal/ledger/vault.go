package ledger

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"PerpDealer/internal/auth"
)

// AssetVault is the boundary to the external collateral tokens. Deposits
// pull funds in before the ledger credits them; executed withdrawals push
// funds back out. Implementations must be atomic per call.
type AssetVault interface {
	TransferIn(from string, primary, secondary decimal.Decimal) error
	TransferOut(to string, primary, secondary decimal.Decimal) error
}

// MemoryVault is an in-process vault tracking external wallet balances.
// Test harnesses and the single-node deployment use it; a chain-backed
// implementation satisfies the same interface.
type MemoryVault struct {
	mu        sync.Mutex
	primary   map[string]decimal.Decimal
	secondary map[string]decimal.Decimal
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		primary:   make(map[string]decimal.Decimal),
		secondary: make(map[string]decimal.Decimal),
	}
}

// Mint seeds a wallet with external balances.
func (v *MemoryVault) Mint(wallet string, primary, secondary decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	wallet = auth.Normalize(wallet)
	v.primary[wallet] = v.primary[wallet].Add(primary)
	v.secondary[wallet] = v.secondary[wallet].Add(secondary)
}

// Balances reports a wallet's external holdings.
func (v *MemoryVault) Balances(wallet string) (primary, secondary decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	wallet = auth.Normalize(wallet)
	return v.primary[wallet], v.secondary[wallet]
}

func (v *MemoryVault) TransferIn(from string, primary, secondary decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	from = auth.Normalize(from)
	if primary.Sign() < 0 || secondary.Sign() < 0 {
		return fmt.Errorf("negative transfer in from %s", from)
	}
	if v.primary[from].LessThan(primary) || v.secondary[from].LessThan(secondary) {
		return fmt.Errorf("wallet %s has insufficient balance", from)
	}
	v.primary[from] = v.primary[from].Sub(primary)
	v.secondary[from] = v.secondary[from].Sub(secondary)
	return nil
}

func (v *MemoryVault) TransferOut(to string, primary, secondary decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	to = auth.Normalize(to)
	if primary.Sign() < 0 || secondary.Sign() < 0 {
		return fmt.Errorf("negative transfer out to %s", to)
	}
	v.primary[to] = v.primary[to].Add(primary)
	v.secondary[to] = v.secondary[to].Add(secondary)
	return nil
}
