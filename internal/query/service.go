package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"PerpDealer/internal/dealer"
)

// Service answers read-only queries. Live account and market state comes
// straight from the dealer; historical series come from the Postgres event
// log and its projections. History responses are only as fresh as the last
// persisted batch, so callers should treat LastSequence as the watermark.
type Service struct {
	dealer *dealer.Dealer
	db     *sql.DB
}

func NewService(d *dealer.Dealer, db *sql.DB) *Service {
	return &Service{dealer: d, db: db}
}

// Account returns a trader's credit, open positions and derived risk
// metrics in one snapshot.
func (s *Service) Account(trader string) (*AccountResponse, error) {
	acct := s.dealer.GetCredit(trader)

	resp := &AccountResponse{
		Trader:                   trader,
		PrimaryCredit:            acct.PrimaryCredit.String(),
		SecondaryCredit:          acct.SecondaryCredit.String(),
		VirtualCredit:            acct.VirtualCredit.String(),
		PendingPrimaryWithdraw:   acct.PendingPrimaryWithdraw.String(),
		PendingSecondaryWithdraw: acct.PendingSecondaryWithdraw.String(),
	}
	if !acct.WithdrawExecutableAt.IsZero() {
		resp.WithdrawExecutableAt = acct.WithdrawExecutableAt.Unix()
	}

	report, err := s.dealer.GetTraderRisk(trader)
	if err != nil {
		return nil, err
	}
	resp.NetValue = report.NetValue.String()
	resp.Exposure = report.Exposure.String()
	resp.MaintenanceMargin = report.MaintenanceMargin.String()

	safe, err := s.dealer.IsSafe(trader)
	if err != nil {
		return nil, err
	}
	resp.IsSafe = safe

	for market, pos := range s.dealer.GetPositions(trader) {
		mark, err := s.dealer.GetMarkPrice(market)
		if err != nil {
			return nil, err
		}
		liqPrice, err := s.dealer.GetLiquidationPrice(trader, market)
		if err != nil {
			return nil, err
		}
		resp.Positions = append(resp.Positions, PositionResponse{
			MarketID:         market,
			Paper:            pos.Paper.String(),
			Credit:           pos.Credit.String(),
			EntryFundingRate: pos.EntryFundingRate.String(),
			MarkPrice:        mark.String(),
			LiquidationPrice: liqPrice.String(),
		})
	}
	return resp, nil
}

// Markets returns every registered market with its current parameters.
func (s *Service) Markets() ([]MarketResponse, error) {
	var out []MarketResponse
	for _, id := range s.dealer.GetAllRegisteredMarkets() {
		m, err := s.Market(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

// Market returns one registered market's parameters and current state.
func (s *Service) Market(id string) (*MarketResponse, error) {
	params, ok := s.dealer.GetRiskParams(id)
	if !ok {
		return nil, fmt.Errorf("market %s not registered", id)
	}
	mark, err := s.dealer.GetMarkPrice(id)
	if err != nil {
		return nil, err
	}
	rate, err := s.dealer.GetFundingRate(id)
	if err != nil {
		return nil, err
	}
	return &MarketResponse{
		MarketID:             id,
		InitialMarginRate:    params.InitialMarginRate.String(),
		LiquidationThreshold: params.LiquidationThreshold.String(),
		LiquidationPriceOff:  params.LiquidationPriceOff.String(),
		InsuranceFeeRate:     params.InsuranceFeeRate.String(),
		MarkPrice:            mark.String(),
		FundingRate:          rate.String(),
	}, nil
}

// QuoteLiquidation prices a hypothetical liquidation without executing it.
func (s *Service) QuoteLiquidation(market, trader string, requestPaper decimal.Decimal) (*LiquidationQuote, error) {
	paper, credit, fee, err := s.dealer.GetLiquidationCost(market, trader, requestPaper)
	if err != nil {
		return nil, err
	}
	return &LiquidationQuote{
		MarketID:       market,
		RequestPaper:   requestPaper.String(),
		ExpectedPaper:  paper.String(),
		ExpectedCredit: credit.String(),
		InsuranceFee:   fee.String(),
	}, nil
}

// EventFilter narrows an event log query. Zero values mean no constraint.
type EventFilter struct {
	EventType     string
	MarketID      string
	AfterSequence int64
}

// Events pages through the persisted event log in descending sequence order.
func (s *Service) Events(ctx context.Context, filter EventFilter, limit int) ([]EventRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	q := `
		SELECT sequence, event_id, event_type, market_id, payload, ts
		FROM dealer_events
		WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if filter.EventType != "" {
		q += fmt.Sprintf(" AND event_type = $%d", idx)
		args = append(args, filter.EventType)
		idx++
	}
	if filter.MarketID != "" {
		q += fmt.Sprintf(" AND market_id = $%d", idx)
		args = append(args, filter.MarketID)
		idx++
	}
	if filter.AfterSequence > 0 {
		q += fmt.Sprintf(" AND sequence < $%d", idx)
		args = append(args, filter.AfterSequence)
		idx++
	}

	q += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var r EventRecord
		var market sql.NullString
		if err := rows.Scan(&r.Sequence, &r.EventID, &r.EventType, &market, &r.Payload, &r.Timestamp); err != nil {
			return nil, err
		}
		if market.Valid {
			r.MarketID = &market.String
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// FundingRateHistory pages through persisted funding rate updates for one
// market, newest first.
func (s *Service) FundingRateHistory(ctx context.Context, market string, afterSequence int64, limit int) ([]FundingRateRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	q := `
		SELECT sequence, market_id, rate, ts
		FROM funding_rate_history
		WHERE market_id = $1`
	args := []interface{}{market}
	idx := 2

	if afterSequence > 0 {
		q += fmt.Sprintf(" AND sequence < $%d", idx)
		args = append(args, afterSequence)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []FundingRateRecord
	for rows.Next() {
		var r FundingRateRecord
		if err := rows.Scan(&r.Sequence, &r.MarketID, &r.Rate, &r.Timestamp); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// LastSequence returns the highest persisted event sequence, the freshness
// watermark for all history queries.
func (s *Service) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM dealer_events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}
