package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"zyura/internal/observability"
)

// OutboundPublisher publishes committed commands to NATS for downstream
// consumers (notification services, analytics, reconciliation). Publishing
// happens after the command is committed in memory; consumers needing
// durability guarantees read the command log instead.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableCommand
	log       zerolog.Logger
	metrics   *observability.Metrics
}

// PublishableCommand is a committed command ready for outbound publishing.
type PublishableCommand struct {
	Sequence       int64           `json:"sequence"`
	CommandType    string          `json:"command_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      []byte          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(
	js jetstream.JetStream,
	inputChan <-chan PublishableCommand,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       log,
		metrics:   metrics,
	}
}

// Run consumes committed commands until the context is cancelled or the
// channel closes. Publish failures are logged, not retried.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case pc, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, pc); err != nil {
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
				op.log.Warn().
					Err(err).
					Int64("sequence", pc.Sequence).
					Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, pc PublishableCommand) error {
	data, err := json.Marshal(pc)
	if err != nil {
		return fmt.Errorf("marshal committed command: %w", err)
	}

	subject := fmt.Sprintf("zyura.ledger.events.%s", pc.CommandType)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "ZYURA_LEDGER_EVENTS",
		Subjects:  []string{"zyura.ledger.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Info().Str("stream", "ZYURA_LEDGER_EVENTS").Msg("ensured stream")
	return nil
}
