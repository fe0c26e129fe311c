package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"zyura/internal/observability"
)

// NATSSubscriber subscribes to JetStream subjects and feeds raw commands
// into the engine shell via commandChan. NATS is the high-throughput
// ingestion surface; the HTTP API covers interactive submission.
type NATSSubscriber struct {
	js          jetstream.JetStream
	commandChan chan<- RawCommand
	consumers   []jetstream.ConsumeContext
	log         zerolog.Logger
	metrics     *observability.Metrics
}

// RawCommand is an unparsed command off the wire. The shell parses and
// validates it before handing a typed command to the engine.
type RawCommand struct {
	Subject     string
	CommandType string
	Data        []byte
	Received    time.Time
	AckFunc     func()
	NakFunc     func()
}

// SubjectConfig maps a NATS subject to a command type.
type SubjectConfig struct {
	Subject      string
	CommandType  string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject layout. Oracle delay
// attestations get a dedicated stream so payout ordering is independent
// of operational traffic.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "zyura.cmd.initialize", CommandType: "Initialize", ConsumerName: "zyura-init", StreamName: "ZYURA_COMMANDS"},
		{Subject: "zyura.cmd.pause", CommandType: "SetPauseStatus", ConsumerName: "zyura-pause", StreamName: "ZYURA_COMMANDS"},
		{Subject: "zyura.cmd.close", CommandType: "CloseConfig", ConsumerName: "zyura-close", StreamName: "ZYURA_COMMANDS"},
		{Subject: "zyura.cmd.roles.>", CommandType: "AssignRole", ConsumerName: "zyura-roles", StreamName: "ZYURA_COMMANDS"},
		{Subject: "zyura.cmd.products.create", CommandType: "CreateProduct", ConsumerName: "zyura-product-create", StreamName: "ZYURA_COMMANDS"},
		{Subject: "zyura.cmd.products.update", CommandType: "UpdateProduct", ConsumerName: "zyura-product-update", StreamName: "ZYURA_COMMANDS"},
		{Subject: "zyura.cmd.wallet.fund.>", CommandType: "FundWallet", ConsumerName: "zyura-wallet-fund", StreamName: "ZYURA_COMMANDS"},
		{Subject: "zyura.cmd.policies.purchase.>", CommandType: "PurchasePolicy", ConsumerName: "zyura-purchase", StreamName: "ZYURA_COMMANDS"},
		{Subject: "zyura.cmd.policies.expire.>", CommandType: "ExpirePolicy", ConsumerName: "zyura-expire", StreamName: "ZYURA_COMMANDS"},
		{Subject: "zyura.cmd.policies.sweep", CommandType: "SweepExpired", ConsumerName: "zyura-sweep", StreamName: "ZYURA_COMMANDS"},
		{Subject: "zyura.cmd.liquidity.deposit.>", CommandType: "DepositLiquidity", ConsumerName: "zyura-lp-deposit", StreamName: "ZYURA_COMMANDS"},
		{Subject: "zyura.cmd.liquidity.withdraw.>", CommandType: "WithdrawLiquidity", ConsumerName: "zyura-lp-withdraw", StreamName: "ZYURA_COMMANDS"},
		{Subject: "zyura.oracle.delay.>", CommandType: "ProcessPayout", ConsumerName: "zyura-oracle-delay", StreamName: "ZYURA_ORACLE"},
	}
}

func NewNATSSubscriber(
	js jetstream.JetStream,
	commandChan chan<- RawCommand,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *NATSSubscriber {
	return &NATSSubscriber{
		js:          js,
		commandChan: commandChan,
		log:         log,
		metrics:     metrics,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		cfg := cfg
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			if ns.metrics != nil {
				ns.metrics.IngestMessages.WithLabelValues(cfg.Subject).Inc()
			}

			raw := RawCommand{
				Subject:     msg.Subject(),
				CommandType: cfg.CommandType,
				Data:        msg.Data(),
				Received:    time.Now(),
				AckFunc:     func() { msg.Ack() },
				NakFunc:     func() { msg.Nak() },
			}

			select {
			case ns.commandChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "ZYURA_COMMANDS",
			Subjects:  []string{"zyura.cmd.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "ZYURA_ORACLE",
			Subjects:  []string{"zyura.oracle.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
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
