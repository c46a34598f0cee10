package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"PerpDealer/internal/event"
	"PerpDealer/internal/persistence"
	"PerpDealer/internal/query"
	"PerpDealer/internal/testutil"
)

// ============================================================================
// Live view queries (no database required)
// ============================================================================

func TestService_Account(t *testing.T) {
	ctx := testutil.NewContext(t)
	taker, maker := ctx.Traders[0], ctx.Traders[1]
	ctx.Deposit(taker, "10000")
	ctx.Deposit(maker, "100000")
	ctx.OpenPosition(taker, maker, ctx.Markets[0], "1", "30000")

	svc := query.NewService(ctx.Dealer, nil)

	resp, err := svc.Account(taker.Address)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if resp.PrimaryCredit != "10000" {
		t.Errorf("primary credit = %s, want 10000", resp.PrimaryCredit)
	}
	if resp.NetValue != "9985" {
		t.Errorf("net value = %s, want 9985", resp.NetValue)
	}
	if resp.Exposure != "30000" {
		t.Errorf("exposure = %s, want 30000", resp.Exposure)
	}
	if resp.MaintenanceMargin != "900" {
		t.Errorf("maintenance margin = %s, want 900", resp.MaintenanceMargin)
	}
	if !resp.IsSafe {
		t.Error("expected account to be safe")
	}
	if len(resp.Positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(resp.Positions))
	}
	pos := resp.Positions[0]
	if pos.MarketID != ctx.Markets[0] {
		t.Errorf("position market = %s, want %s", pos.MarketID, ctx.Markets[0])
	}
	if pos.Paper != "1" || pos.Credit != "-30015" {
		t.Errorf("position = %s paper / %s credit, want 1 / -30015", pos.Paper, pos.Credit)
	}
	if pos.MarkPrice != "30000" {
		t.Errorf("mark price = %s, want 30000", pos.MarkPrice)
	}
	if pos.LiquidationPrice != "20634.020618556701030927" {
		t.Errorf("liquidation price = %s", pos.LiquidationPrice)
	}
}

func TestService_Markets(t *testing.T) {
	ctx := testutil.NewContext(t)
	svc := query.NewService(ctx.Dealer, nil)

	markets, err := svc.Markets()
	if err != nil {
		t.Fatalf("markets: %v", err)
	}
	if len(markets) != 3 {
		t.Fatalf("markets = %d, want 3", len(markets))
	}
	btc := markets[0]
	if btc.MarketID != ctx.Markets[0] {
		t.Errorf("market id = %s, want %s", btc.MarketID, ctx.Markets[0])
	}
	if btc.MarkPrice != "30000" {
		t.Errorf("mark price = %s, want 30000", btc.MarkPrice)
	}
	if btc.InitialMarginRate != "0.05" || btc.LiquidationThreshold != "0.03" {
		t.Errorf("params = %s / %s, want 0.05 / 0.03", btc.InitialMarginRate, btc.LiquidationThreshold)
	}
	if btc.FundingRate != "0" {
		t.Errorf("funding rate = %s, want 0", btc.FundingRate)
	}
}

func TestService_Market_Unregistered(t *testing.T) {
	ctx := testutil.NewContext(t)
	svc := query.NewService(ctx.Dealer, nil)

	if _, err := svc.Market("0x000000000000000000000000000000000000beef"); err == nil {
		t.Fatal("expected error for unregistered market")
	}
}

func TestService_QuoteLiquidation(t *testing.T) {
	ctx := testutil.NewContext(t)
	trader, counterparty := ctx.Traders[0], ctx.Traders[1]
	ctx.DepositBoth(trader, "5000", "5000")
	ctx.Deposit(counterparty, "100000")
	ctx.OpenPosition(trader, counterparty, ctx.Markets[0], "1", "30000")
	ctx.SetPrice(0, "20600")

	svc := query.NewService(ctx.Dealer, nil)

	quote, err := svc.QuoteLiquidation(ctx.Markets[0], trader.Address, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.ExpectedPaper != "1" {
		t.Errorf("expected paper = %s, want 1", quote.ExpectedPaper)
	}
	if quote.ExpectedCredit != "-20394" {
		t.Errorf("expected credit = %s, want -20394", quote.ExpectedCredit)
	}
	if quote.InsuranceFee != "203.94" {
		t.Errorf("insurance fee = %s, want 203.94", quote.InsuranceFee)
	}
}

// ============================================================================
// History queries (require Postgres, see testutil)
// ============================================================================

func TestService_EventHistory(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	writer := persistence.NewEventLogWriter(db)
	market := "0x0000000000000000000000000000000000000b01"
	rows := make([]persistence.EventRow, 0, 4)
	for i := int64(1); i <= 4; i++ {
		env := event.Envelope{
			Sequence:  i,
			EventID:   uuid.New(),
			Type:      event.EventTypeBalanceChange,
			TypeName:  event.EventTypeBalanceChange.String(),
			Timestamp: time.Now().UTC(),
			Payload: &event.BalanceChange{
				Trader:      "0xaaaa000000000000000000000000000000000001",
				Market:      market,
				PaperDelta:  decimal.NewFromInt(1),
				CreditDelta: decimal.NewFromInt(-30000),
			},
		}
		// Tag odd sequences with the market so filtering has something
		// to distinguish.
		if i%2 == 1 {
			env.MarketID = &market
		}
		row, err := persistence.RowFromEnvelope(env)
		if err != nil {
			t.Fatalf("row from envelope: %v", err)
		}
		rows = append(rows, row)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := writer.WriteBatch(ctx, tx, rows); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	svc := query.NewService(nil, db)

	all, err := svc.Events(ctx, query.EventFilter{}, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("events = %d, want 4", len(all))
	}
	// Newest first.
	if all[0].Sequence != 4 || all[3].Sequence != 1 {
		t.Errorf("order = %d..%d, want 4..1", all[0].Sequence, all[3].Sequence)
	}

	byMarket, err := svc.Events(ctx, query.EventFilter{MarketID: market}, 10)
	if err != nil {
		t.Fatalf("events by market: %v", err)
	}
	if len(byMarket) != 2 {
		t.Errorf("market events = %d, want 2", len(byMarket))
	}

	page, err := svc.Events(ctx, query.EventFilter{AfterSequence: 3}, 10)
	if err != nil {
		t.Fatalf("events page: %v", err)
	}
	if len(page) != 2 || page[0].Sequence != 2 {
		t.Errorf("page = %d rows starting at %d, want 2 starting at 2", len(page), page[0].Sequence)
	}

	seq, err := svc.LastSequence(ctx)
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if seq != 4 {
		t.Errorf("last sequence = %d, want 4", seq)
	}
}

func TestService_FundingRateHistory(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	market := "0x0000000000000000000000000000000000000b01"
	for i := 1; i <= 3; i++ {
		_, err := db.ExecContext(ctx, `
			INSERT INTO funding_rate_history (sequence, market_id, rate, ts)
			VALUES ($1, $2, $3, NOW())`,
			i, market, decimal.NewFromFloat(0.1*float64(i)).String())
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	svc := query.NewService(nil, db)

	records, err := svc.FundingRateHistory(ctx, market, 0, 10)
	if err != nil {
		t.Fatalf("funding history: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	if records[0].Sequence != 3 {
		t.Errorf("first sequence = %d, want 3 (newest first)", records[0].Sequence)
	}

	none, err := svc.FundingRateHistory(ctx, "0x000000000000000000000000000000000000beef", 0, 10)
	if err != nil {
		t.Fatalf("funding history empty: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("records = %d, want 0", len(none))
	}
}
