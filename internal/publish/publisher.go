// Package publish pushes settlement events to NATS JetStream for downstream
// consumers. Publishing happens after the store commit is confirmed; a failed
// publish is logged and skipped, since consumers can always rebuild from the
// settlement log.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PredMarket/internal/observability"
	"PredMarket/internal/outbound"
)

const (
	// StreamName holds every outbound settlement event.
	StreamName = "PREDMARKET_EVENTS"

	subjectRoot = "predmarket.events"
)

// Publisher drains the engine's outbound channel into JetStream.
// Subjects follow predmarket.events.{kind} with the event id appended when
// the envelope carries one.
type Publisher struct {
	js      jetstream.JetStream
	input   <-chan outbound.Envelope
	log     zerolog.Logger
	metrics *observability.Metrics
}

// NewPublisher creates a Publisher. metrics may be nil.
func NewPublisher(js jetstream.JetStream, input <-chan outbound.Envelope, logger zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:      js,
		input:   input,
		log:     logger,
		metrics: metrics,
	}
}

// Run publishes envelopes until the context is cancelled or the input
// channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, env); err != nil {
				// Non-fatal: the settlement log is the source of truth.
				p.log.Warn().
					Int64("sequence", env.Sequence).
					Str("kind", string(env.Kind)).
					Err(err).
					Msg("outbound publish failed")
				if p.metrics != nil {
					p.metrics.OutboundDrops.Inc()
				}
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, env outbound.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := Subject(env)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subject returns the JetStream subject an envelope is published on.
func Subject(env outbound.Envelope) string {
	subject := fmt.Sprintf("%s.%s", subjectRoot, env.Kind)
	if env.EventID != nil {
		subject = fmt.Sprintf("%s.%d", subject, *env.EventID)
	}
	return subject
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subjectRoot + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}

// Connect establishes a NATS connection and returns a JetStream context.
func Connect(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats reconnected")
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
