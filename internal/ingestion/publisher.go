// Package ingestion is the NATS boundary of the dealer: an outbound
// publisher that mirrors the event stream to JetStream and a subscriber
// that feeds JSON commands into the dealer.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PerpDealer/internal/event"
	"PerpDealer/internal/observability"
)

const outboundStream = "PERP_DEALER_EVENTS"

// ChannelPublisher satisfies the dealer's Publisher interface without ever
// blocking the dealer lock: envelopes go into a buffered channel and a full
// channel drops the event (the persistence log stays authoritative).
type ChannelPublisher struct {
	ch      chan event.Envelope
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewChannelPublisher(size int, metrics *observability.Metrics, log zerolog.Logger) *ChannelPublisher {
	return &ChannelPublisher{
		ch:      make(chan event.Envelope, size),
		metrics: metrics,
		log:     log,
	}
}

func (p *ChannelPublisher) Publish(env event.Envelope) {
	select {
	case p.ch <- env:
	default:
		if p.metrics != nil {
			p.metrics.PublishDrops.Inc()
		}
		p.log.Warn().Int64("sequence", env.Sequence).Str("type", env.TypeName).Msg("publish channel full, event dropped")
	}
}

// Events exposes the envelope channel to downstream consumers.
func (p *ChannelPublisher) Events() <-chan event.Envelope { return p.ch }

// OutboundPublisher drains an envelope channel into JetStream. Subjects
// follow perp.dealer.events.<type>.<market>; global events omit the market
// token.
type OutboundPublisher struct {
	js    jetstream.JetStream
	input <-chan event.Envelope
	log   zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, input <-chan event.Envelope, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{js: js, input: input, log: log}
}

// Run drains the channel until the context ends or the channel closes. A
// failed publish is logged and skipped: consumers that need completeness
// replay the event log from Postgres.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-op.input:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, env); err != nil {
				op.log.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	subject := fmt.Sprintf("perp.dealer.events.%s", env.TypeName)
	if env.MarketID != nil {
		subject = fmt.Sprintf("%s.%s", subject, *env.MarketID)
	}
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates or updates the outbound event stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      outboundStream,
		Subjects:  []string{"perp.dealer.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
