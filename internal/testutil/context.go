package testutil

import (
	"crypto/ecdsa"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"PerpDealer/internal/auth"
	"PerpDealer/internal/dealer"
	"PerpDealer/internal/event"
	"PerpDealer/internal/ledger"
	"PerpDealer/internal/matching"
	"PerpDealer/internal/observability"
	"PerpDealer/internal/registry"
)

// Clock is a manually driven clock for deterministic tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Signer is a test key pair.
type Signer struct {
	Key     *ecdsa.PrivateKey
	Address string
}

func NewSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &Signer{Key: key, Address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

// Sign produces a 65-byte r||s||v signature over the digest.
func (s *Signer) Sign(t *testing.T, digest [32]byte) []byte {
	t.Helper()
	sig, err := crypto.Sign(digest[:], s.Key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

// RecordingPublisher collects emitted events for assertions.
type RecordingPublisher struct {
	mu     sync.Mutex
	Events []event.Envelope
}

func (p *RecordingPublisher) Publish(env event.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, env)
}

// ByType returns recorded events of one type in emission order.
func (p *RecordingPublisher) ByType(et event.EventType) []event.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []event.Envelope
	for _, e := range p.Events {
		if e.Type == et {
			out = append(out, e)
		}
	}
	return out
}

// Context is the default test deployment: three markets, eight funded
// traders, the owner doubling as order sender, and a manual clock.
//
// Markets: BTC 20x (threshold 0.03, price off 0.01, insurance 0.01) at
// 30000, ETH 10x (0.05/0.01/0.01) at 2000, AR 5x (0.10/0.03/0.02) at 10.
type Context struct {
	T         *testing.T
	Dealer    *dealer.Dealer
	Vault     *ledger.MemoryVault
	Clock     *Clock
	Publisher *RecordingPublisher

	Owner     *Signer
	Insurance *Signer
	Traders   []*Signer

	Markets []string
	Sources []*registry.StaticPriceSource
	Domain  matching.Domain

	MakerFeeRate decimal.Decimal
	TakerFeeRate decimal.Decimal

	nonce uint64
}

var (
	marketIDs = []string{
		"0x0000000000000000000000000000000000000b01",
		"0x0000000000000000000000000000000000000b02",
		"0x0000000000000000000000000000000000000b03",
	}
	marketNames  = []string{"BTC20x", "ETH10x", "AR5x"}
	marketPrices = []string{"30000", "2000", "10"}

	initialMargins = []string{"0.05", "0.10", "0.20"}
	thresholds     = []string{"0.03", "0.05", "0.10"}
	priceOffs      = []string{"0.01", "0.01", "0.03"}
	insuranceFees  = []string{"0.01", "0.01", "0.02"}
)

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

// NewContext builds the default deployment. Every trader starts with a
// 1,000,000/1,000,000 wallet in the vault; nothing is deposited yet.
func NewContext(t *testing.T) *Context {
	t.Helper()

	owner := NewSigner(t)
	insurance := NewSigner(t)
	clock := NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	vault := ledger.NewMemoryVault()
	pub := &RecordingPublisher{}

	domain := matching.Domain{
		Name:              "PerpDealer",
		Version:           "1",
		ChainID:           31337,
		VerifyingContract: "0x00000000000000000000000000000000000d3a1e",
	}
	cfg := dealer.Config{
		Owner:            owner.Address,
		Insurance:        insurance.Address,
		WithdrawTimeLock: 100 * time.Second,
		Domain:           domain,
	}
	log := observability.NewLoggerWithLevel("test", zerolog.Disabled)
	d := dealer.New(cfg, clock, vault, matching.NewEcdsaVerifier(), pub, nil, log)

	ctx := &Context{
		T:            t,
		Dealer:       d,
		Vault:        vault,
		Clock:        clock,
		Publisher:    pub,
		Owner:        owner,
		Insurance:    insurance,
		Markets:      marketIDs,
		Domain:       domain,
		MakerFeeRate: mustDec(t, "0.0001"),
		TakerFeeRate: mustDec(t, "0.0005"),
	}

	ownerCtx := auth.Ctx(owner.Address)
	for i, id := range marketIDs {
		src := registry.NewStaticPriceSource(mustDec(t, marketPrices[i]))
		ctx.Sources = append(ctx.Sources, src)
		params := registry.RiskParams{
			Name:                 marketNames[i],
			InitialMarginRate:    mustDec(t, initialMargins[i]),
			LiquidationThreshold: mustDec(t, thresholds[i]),
			LiquidationPriceOff:  mustDec(t, priceOffs[i]),
			InsuranceFeeRate:     mustDec(t, insuranceFees[i]),
			Source:               src,
		}
		if err := d.SetRiskParams(ownerCtx, id, params, true); err != nil {
			t.Fatalf("register market %s: %v", id, err)
		}
	}
	if err := d.SetOrderSender(ownerCtx, owner.Address, true); err != nil {
		t.Fatalf("set order sender: %v", err)
	}

	million := mustDec(t, "1000000")
	for i := 0; i < 8; i++ {
		trader := NewSigner(t)
		vault.Mint(trader.Address, million, million)
		ctx.Traders = append(ctx.Traders, trader)
	}
	return ctx
}

// Deposit pulls primary collateral from the trader's own wallet.
func (c *Context) Deposit(trader *Signer, primary string) {
	c.T.Helper()
	err := c.Dealer.Deposit(auth.Ctx(trader.Address), trader.Address, mustDec(c.T, primary), decimal.Zero)
	if err != nil {
		c.T.Fatalf("deposit for %s: %v", trader.Address, err)
	}
}

// DepositBoth pulls both credit legs from the trader's own wallet.
func (c *Context) DepositBoth(trader *Signer, primary, secondary string) {
	c.T.Helper()
	err := c.Dealer.Deposit(auth.Ctx(trader.Address), trader.Address, mustDec(c.T, primary), mustDec(c.T, secondary))
	if err != nil {
		c.T.Fatalf("deposit for %s: %v", trader.Address, err)
	}
}

// BuildOrder creates a signed order with the default fee rates, expiring ten
// days out.
func (c *Context) BuildOrder(signer *Signer, market, paper, credit string) (*matching.Order, []byte) {
	c.T.Helper()
	c.nonce++
	o := &matching.Order{
		Market:       market,
		Paper:        mustDec(c.T, paper),
		Credit:       mustDec(c.T, credit),
		MakerFeeRate: c.MakerFeeRate,
		TakerFeeRate: c.TakerFeeRate,
		Signer:       signer.Address,
		OrderSender:  c.Owner.Address,
		ExpiresAt:    c.Clock.Now().Add(10 * 24 * time.Hour).Unix(),
		Nonce:        c.nonce,
	}
	sig := signer.Sign(c.T, matching.HashOrder(c.Domain, o))
	return o, sig
}

// OpenPosition matches taker against maker for takerPaper at price, the
// taker long when takerPaper is positive.
func (c *Context) OpenPosition(taker, maker *Signer, market, takerPaper, price string) {
	c.T.Helper()
	paper := mustDec(c.T, takerPaper)
	credit := paper.Mul(mustDec(c.T, price)).Neg()

	takerOrder, takerSig := c.BuildOrder(taker, market, paper.String(), credit.String())
	makerOrder, makerSig := c.BuildOrder(maker, market, paper.Neg().String(), credit.Neg().String())

	_, err := c.Dealer.Trade(auth.Ctx(c.Owner.Address),
		[]*matching.Order{takerOrder, makerOrder},
		[][]byte{takerSig, makerSig},
		[]decimal.Decimal{paper.Abs(), paper.Abs()})
	if err != nil {
		c.T.Fatalf("open position: %v", err)
	}
}

// SetPrice moves a market's mark price.
func (c *Context) SetPrice(marketIndex int, price string) {
	c.T.Helper()
	c.Sources[marketIndex].SetPrice(mustDec(c.T, price))
}

// CheckCredit asserts a trader's primary credit.
func (c *Context) CheckCredit(trader *Signer, wantPrimary string) {
	c.T.Helper()
	acc := c.Dealer.GetCredit(trader.Address)
	if !acc.PrimaryCredit.Equal(mustDec(c.T, wantPrimary)) {
		c.T.Errorf("primary credit for %s: got %s, want %s", trader.Address, acc.PrimaryCredit, wantPrimary)
	}
}

// CheckPosition asserts a trader's paper and credit in a market. Want a
// flat position? Pass "0", "0".
func (c *Context) CheckPosition(trader *Signer, market, wantPaper, wantCredit string) {
	c.T.Helper()
	pos, ok := c.Dealer.GetPositions(trader.Address)[market]
	if !ok {
		if mustDec(c.T, wantPaper).IsZero() {
			return
		}
		c.T.Errorf("no position for %s in %s, want paper %s", trader.Address, market, wantPaper)
		return
	}
	if !pos.Paper.Equal(mustDec(c.T, wantPaper)) {
		c.T.Errorf("paper for %s in %s: got %s, want %s", trader.Address, market, pos.Paper, wantPaper)
	}
	if !pos.Credit.Equal(mustDec(c.T, wantCredit)) {
		c.T.Errorf("credit for %s in %s: got %s, want %s", trader.Address, market, pos.Credit, wantCredit)
	}
}
