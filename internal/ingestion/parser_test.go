package ingestion_test

import (
	"testing"

	"PerpDealer/internal/ingestion"
)

// ============================================================================
// Test: command parsing
// ============================================================================

func TestParseCommand_Deposit(t *testing.T) {
	data := []byte(`{
		"caller": "0xAAAA000000000000000000000000000000000001",
		"to": "0xaaaa000000000000000000000000000000000002",
		"primary": "1500.25",
		"secondary": "10"
	}`)
	cmd, err := ingestion.ParseCommand(ingestion.CmdDeposit, data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	dep, ok := cmd.(*ingestion.DepositCommand)
	if !ok {
		t.Fatalf("command type %T", cmd)
	}
	if dep.Caller != "0xAAAA000000000000000000000000000000000001" {
		t.Errorf("caller = %s", dep.Caller)
	}
	if dep.Primary.String() != "1500.25" || dep.Secondary.String() != "10" {
		t.Errorf("amounts = %s / %s", dep.Primary, dep.Secondary)
	}
}

func TestParseCommand_Trade(t *testing.T) {
	data := []byte(`{
		"sender": "0xaaaa000000000000000000000000000000000009",
		"orders": [
			{
				"market": "0x0000000000000000000000000000000000000b01",
				"paper": "1",
				"credit": "-30000",
				"maker_fee_rate": "0.0001",
				"taker_fee_rate": "0.0005",
				"signer": "0xaaaa000000000000000000000000000000000001",
				"order_sender": "0xaaaa000000000000000000000000000000000009",
				"expires_at": 1704844800,
				"nonce": 7
			}
		],
		"signatures": ["0xdeadbeef"],
		"match_amounts": ["1"]
	}`)
	cmd, err := ingestion.ParseCommand(ingestion.CmdTrade, data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tr, ok := cmd.(*ingestion.TradeCommand)
	if !ok {
		t.Fatalf("command type %T", cmd)
	}
	if len(tr.Orders) != 1 || len(tr.Signatures) != 1 || len(tr.MatchAmounts) != 1 {
		t.Fatalf("lengths = %d/%d/%d", len(tr.Orders), len(tr.Signatures), len(tr.MatchAmounts))
	}
	o := tr.Orders[0]
	if o.Paper.String() != "1" || o.Credit.String() != "-30000" {
		t.Errorf("order legs = %s / %s", o.Paper, o.Credit)
	}
	if o.ExpiresAt != 1704844800 || o.Nonce != 7 {
		t.Errorf("expiry/nonce = %d / %d", o.ExpiresAt, o.Nonce)
	}
	if len(tr.Signatures[0]) != 4 {
		t.Errorf("signature bytes = %d, want 4", len(tr.Signatures[0]))
	}
}

func TestParseCommand_FundingUpdate(t *testing.T) {
	data := []byte(`{"markets": ["m1", "m2"], "rates": ["0.5", "-0.25"]}`)
	cmd, err := ingestion.ParseCommand(ingestion.CmdFundingUpdate, data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	fu := cmd.(*ingestion.FundingUpdateCommand)
	if len(fu.Markets) != 2 || len(fu.Rates) != 2 {
		t.Fatalf("lengths = %d/%d", len(fu.Markets), len(fu.Rates))
	}
	if fu.Rates[1].String() != "-0.25" {
		t.Errorf("rate = %s", fu.Rates[1])
	}
}

func TestParseCommand_Liquidate(t *testing.T) {
	data := []byte(`{
		"executor": "0xaaaa000000000000000000000000000000000003",
		"liquidator": "0xaaaa000000000000000000000000000000000003",
		"trader": "0xaaaa000000000000000000000000000000000001",
		"market": "0x0000000000000000000000000000000000000b01",
		"request_paper": "1",
		"request_credit": "-30000"
	}`)
	cmd, err := ingestion.ParseCommand(ingestion.CmdLiquidate, data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	lq := cmd.(*ingestion.LiquidateCommand)
	if lq.RequestPaper.String() != "1" || lq.RequestCredit.String() != "-30000" {
		t.Errorf("request = %s / %s", lq.RequestPaper, lq.RequestCredit)
	}
}

func TestParseCommand_EmptyAmountsDefaultToZero(t *testing.T) {
	data := []byte(`{"trader": "0xaaaa000000000000000000000000000000000001", "primary": "5"}`)
	cmd, err := ingestion.ParseCommand(ingestion.CmdWithdrawRequest, data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	wr := cmd.(*ingestion.WithdrawRequestCommand)
	if !wr.Secondary.IsZero() {
		t.Errorf("secondary = %s, want 0", wr.Secondary)
	}
}

func TestParseCommand_Rejections(t *testing.T) {
	cases := []struct {
		name string
		cmd  string
		data string
	}{
		{"unknown command", "rebalance", `{}`},
		{"bad json", ingestion.CmdDeposit, `{"caller": `},
		{"bad decimal", ingestion.CmdDeposit, `{"caller": "a", "to": "b", "primary": "abc"}`},
		{"bad signature hex", ingestion.CmdTrade, `{"sender": "a", "signatures": ["0xzz"]}`},
		{"bad rate", ingestion.CmdFundingUpdate, `{"markets": ["m"], "rates": ["1..2"]}`},
	}
	for _, tc := range cases {
		if _, err := ingestion.ParseCommand(tc.cmd, []byte(tc.data)); err == nil {
			t.Errorf("%s: parse succeeded, want error", tc.name)
		}
	}
}
