package matching_test

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"PerpDealer/internal/matching"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func sampleDomain() matching.Domain {
	return matching.Domain{
		Name:              "PerpDealer",
		Version:           "1",
		ChainID:           31337,
		VerifyingContract: "0x00000000000000000000000000000000000d3a1e",
	}
}

func sampleOrder(t *testing.T) *matching.Order {
	return &matching.Order{
		Market:       "0x0000000000000000000000000000000000000b01",
		Paper:        dec(t, "1"),
		Credit:       dec(t, "-30000"),
		MakerFeeRate: dec(t, "0.0001"),
		TakerFeeRate: dec(t, "0.0005"),
		Signer:       "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		OrderSender:  "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		ExpiresAt:    1700000000,
		Nonce:        42,
	}
}

// ============================================================================
// Test: typed-data hashing
// ============================================================================

func TestHashOrder_Deterministic(t *testing.T) {
	d := sampleDomain()
	h1 := matching.HashOrder(d, sampleOrder(t))
	h2 := matching.HashOrder(d, sampleOrder(t))
	if h1 != h2 {
		t.Error("same order must hash identically")
	}
}

func TestHashOrder_FieldsBind(t *testing.T) {
	d := sampleDomain()
	base := matching.HashOrder(d, sampleOrder(t))

	mutations := map[string]func(*matching.Order){
		"paper":  func(o *matching.Order) { o.Paper = dec(t, "2") },
		"credit": func(o *matching.Order) { o.Credit = dec(t, "-30001") },
		"sign":   func(o *matching.Order) { o.Paper = o.Paper.Neg(); o.Credit = o.Credit.Neg() },
		"nonce":  func(o *matching.Order) { o.Nonce++ },
		"expiry": func(o *matching.Order) { o.ExpiresAt++ },
		"signer": func(o *matching.Order) { o.Signer = "0x0000000000000000000000000000000000000001" },
		"market": func(o *matching.Order) { o.Market = "0x0000000000000000000000000000000000000b02" },
	}
	for name, mutate := range mutations {
		o := sampleOrder(t)
		mutate(o)
		if matching.HashOrder(d, o) == base {
			t.Errorf("mutating %s must change the hash", name)
		}
	}
}

func TestHashOrder_DomainBinds(t *testing.T) {
	o := sampleOrder(t)
	base := matching.HashOrder(sampleDomain(), o)

	other := sampleDomain()
	other.ChainID = 1
	if matching.HashOrder(other, o) == base {
		t.Error("chain ID must bind")
	}
	other = sampleDomain()
	other.VerifyingContract = "0x0000000000000000000000000000000000000002"
	if matching.HashOrder(other, o) == base {
		t.Error("verifying contract must bind")
	}
}

func TestDomainSeparator_CaseInsensitiveContract(t *testing.T) {
	a := sampleDomain()
	b := sampleDomain()
	b.VerifyingContract = "0x00000000000000000000000000000000000D3A1E"
	if !bytes.Equal(a.Separator(), b.Separator()) {
		t.Error("contract address case must not affect the separator")
	}
}

// ============================================================================
// Test: signature recovery
// ============================================================================

func TestEcdsaVerifier_Roundtrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	digest := matching.HashOrder(sampleDomain(), sampleOrder(t))
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	v := matching.NewEcdsaVerifier()
	recovered, err := v.Recover(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != addr {
		t.Errorf("recovered %s, want %s", recovered, addr)
	}

	// The 27/28 recovery id convention must verify the same.
	legacy := make([]byte, 65)
	copy(legacy, sig)
	legacy[64] += 27
	recovered, err = v.Recover(digest, legacy)
	if err != nil {
		t.Fatalf("recover legacy v: %v", err)
	}
	if recovered != addr {
		t.Errorf("legacy v: recovered %s, want %s", recovered, addr)
	}
}

func TestEcdsaVerifier_BadLength(t *testing.T) {
	v := matching.NewEcdsaVerifier()
	if _, err := v.Recover([32]byte{}, []byte{1, 2, 3}); err == nil {
		t.Error("short signature must fail")
	}
}
