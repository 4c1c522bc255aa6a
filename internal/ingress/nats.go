// Package ingress hosts the optional message-bus event source. Deployments
// behind a broker publish the same event envelopes to NATS instead of (or in
// addition to) HTTP webhooks; both paths feed the one dispatcher, so the
// idempotency gate also deduplicates across transports.
package ingress

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/edassess/naplan-api/internal/dto"
	"github.com/edassess/naplan-api/internal/handler"
)

// NATSConsumer subscribes to the event subject and forwards envelopes to the
// dispatcher.
type NATSConsumer struct {
	conn       *nats.Conn
	subject    string
	dispatcher handler.EventDispatcher
	logger     zerolog.Logger

	sub *nats.Subscription
}

// NewNATSConsumer constructs the consumer. The connection may be nil, in which
// case Start is a no-op; this keeps the wiring in main unconditional.
func NewNATSConsumer(conn *nats.Conn, subject string, dispatcher handler.EventDispatcher, logger zerolog.Logger) *NATSConsumer {
	return &NATSConsumer{
		conn:       conn,
		subject:    subject,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "nats_ingress").Logger(),
	}
}

// Start subscribes to the subject and forwards messages until ctx is cancelled.
func (c *NATSConsumer) Start(ctx context.Context) error {
	if c.conn == nil || c.subject == "" {
		return nil
	}

	sub, err := c.conn.Subscribe(c.subject, func(msg *nats.Msg) {
		var env dto.EventEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			c.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("undecodable event dropped")
			return
		}

		ack, err := c.dispatcher.Dispatch(ctx, env)
		if err != nil {
			c.logger.Warn().Err(err).Str("event_id", env.EventID).Msg("invalid event envelope dropped")
			return
		}
		if ack.Duplicate {
			c.logger.Debug().Str("event_id", env.EventID).Msg("duplicate event suppressed")
		}
	})
	if err != nil {
		return err
	}

	c.sub = sub
	c.logger.Info().Str("subject", c.subject).Msg("nats ingress subscribed")

	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	return nil
}

// Stop drains the subscription.
func (c *NATSConsumer) Stop() {
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to drain nats subscription")
		}
		c.sub = nil
	}
}
