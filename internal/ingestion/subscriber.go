package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PerpDealer/internal/auth"
	"PerpDealer/internal/dealer"
	"PerpDealer/internal/errs"
	"PerpDealer/internal/funding"
)

const (
	commandStream  = "PERP_DEALER_CMDS"
	commandPrefix  = "perp.dealer.cmd."
	commandSubject = "perp.dealer.cmd.>"
	consumerName   = "dealer-cmds"
)

// Subscriber consumes dealer commands from JetStream and applies them in
// delivery order. Malformed or rejected commands are acknowledged and logged;
// redelivery cannot fix either, and the dealer already rolled back.
type Subscriber struct {
	js       jetstream.JetStream
	dealer   *dealer.Dealer
	limiter  *funding.Limiter
	clock    dealer.Clock
	log      zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewSubscriber(js jetstream.JetStream, d *dealer.Dealer, lim *funding.Limiter,
	clock dealer.Clock, log zerolog.Logger) *Subscriber {
	return &Subscriber{js: js, dealer: d, limiter: lim, clock: clock, log: log}
}

// EnsureCommandStream creates or updates the command ingress stream.
func EnsureCommandStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      commandStream,
		Subjects:  []string{commandSubject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create command stream: %w", err)
	}
	return nil
}

// Start creates the durable consumer and begins dispatching.
func (s *Subscriber) Start(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, commandStream, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: commandSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.handle(msg)
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", consumerName, err)
	}
	s.consumer = cc
	s.log.Info().Str("subject", commandSubject).Msg("command subscriber started")
	return nil
}

// Stop halts the consumer.
func (s *Subscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
}

func (s *Subscriber) handle(msg jetstream.Msg) {
	name := strings.TrimPrefix(msg.Subject(), commandPrefix)
	cmd, err := ParseCommand(name, msg.Data())
	if err != nil {
		s.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("unparseable command")
		return
	}
	if err := s.dispatch(cmd); err != nil {
		s.log.Warn().
			Str("command", cmd.Name()).
			Str("code", rejectCode(err)).
			Err(err).
			Msg("command rejected")
		return
	}
	s.log.Debug().Str("command", cmd.Name()).Msg("command applied")
}

func (s *Subscriber) dispatch(cmd Command) error {
	switch c := cmd.(type) {
	case *DepositCommand:
		return s.dealer.Deposit(auth.Ctx(c.Caller), c.To, c.Primary, c.Secondary)
	case *WithdrawRequestCommand:
		return s.dealer.RequestWithdraw(auth.Ctx(c.Trader), c.Primary, c.Secondary)
	case *WithdrawExecuteCommand:
		return s.dealer.ExecuteWithdraw(auth.Ctx(c.Trader), c.To, c.InternalTransfer)
	case *TradeCommand:
		_, err := s.dealer.Trade(auth.Ctx(c.Sender), c.Orders, c.Signatures, c.MatchAmounts)
		return err
	case *FundingUpdateCommand:
		return s.limiter.UpdateRates(s.clock.Now(), c.Markets, c.Rates)
	case *LiquidateCommand:
		_, err := s.dealer.Liquidate(auth.Ctx(c.Executor), c.Liquidator, c.Trader, c.Market, c.RequestPaper, c.RequestCredit)
		return err
	case *BadDebtCommand:
		return s.dealer.HandleBadDebt(c.Trader)
	default:
		return fmt.Errorf("no handler for command %q", cmd.Name())
	}
}

func rejectCode(err error) string {
	if code := errs.Code(err); code != "" {
		return code
	}
	return "INTERNAL"
}
