package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/fleetmesh/eventbus/envelope"
)

// DeliveryPolicy controls where a newly created consumer starts reading
// from the stream.
type DeliveryPolicy int

const (
	// DeliverNew delivers only messages published after the consumer is
	// created. This is the default.
	DeliverNew DeliveryPolicy = iota
	// DeliverAll replays everything still retained by the stream.
	DeliverAll
)

func (p DeliveryPolicy) jetstreamPolicy() jetstream.DeliverPolicy {
	if p == DeliverAll {
		return jetstream.DeliverAllPolicy
	}
	return jetstream.DeliverNewPolicy
}

// Durability is an explicit, required choice per subscription: either a
// durable name (cursor persists across reconnects and process restarts) or
// Ephemeral (cursor discarded on disconnect). There is deliberately no
// default — callers must say which they mean.
type Durability struct{ name string }

// Durable names a persistent consumer. The broker keeps its delivery
// cursor across reconnects and restarts under this name.
func Durable(name string) Durability { return Durability{name: name} }

// Ephemeral creates a consumer whose cursor is discarded on disconnect.
func Ephemeral() Durability { return Durability{} }

func (d Durability) isDurable() bool { return d.name != "" }

// Handler processes one decoded envelope. A returned error marks the
// delivery failed for logging purposes; see WithManualAck for how that
// affects acknowledgement.
type Handler func(ctx context.Context, e envelope.Envelope) error

type subscribeConfig struct {
	deliveryPolicy DeliveryPolicy
	manualAck      bool
}

// SubscribeOption customizes a single Subscribe call.
type SubscribeOption func(*subscribeConfig)

// WithDeliveryPolicy overrides the default DeliverNew.
func WithDeliveryPolicy(p DeliveryPolicy) SubscribeOption {
	return func(c *subscribeConfig) { c.deliveryPolicy = p }
}

// WithManualAck opts a subscription out of the default auto-ack behaviour.
// A handler error then Naks the message (broker redelivery) instead of
// being swallowed. The default remains fire-and-forget: at-least-once at
// the broker boundary, at-most-once at the handler boundary.
func WithManualAck() SubscribeOption {
	return func(c *subscribeConfig) { c.manualAck = true }
}

// SubscriptionHandle represents one live subscription. Close stops message
// delivery; for an ephemeral subscription it also removes the consumer,
// for a durable one it leaves the consumer for a future resume.
type SubscriptionHandle struct {
	pattern      string
	durable      bool
	consumerName string
	stream       jetstream.Stream
	cc           jetstream.ConsumeContext
	log          zerolog.Logger
}

// Pattern returns the subject pattern this handle was subscribed with.
func (h *SubscriptionHandle) Pattern() string { return h.pattern }

// Durable reports whether this handle's consumer persists across restarts.
func (h *SubscriptionHandle) Durable() bool { return h.durable }

// Close stops the subscription loop and releases its consumer.
func (h *SubscriptionHandle) Close() error {
	h.cc.Stop()
	if h.durable || h.stream == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.stream.DeleteConsumer(ctx, h.consumerName); err != nil {
		h.log.Warn().Err(err).Str("consumer", h.consumerName).Msg("failed to remove ephemeral consumer")
	}
	return nil
}

// noopConsumeContext satisfies jetstream.ConsumeContext without a live
// consumer, backing SubscriptionHandle instances returned by the null
// session (see eventbus.NullSession).
type noopConsumeContext struct{ closed chan struct{} }

func (c *noopConsumeContext) Stop()                   {}
func (c *noopConsumeContext) Drain()                  {}
func (c *noopConsumeContext) Closed() <-chan struct{} { return c.closed }

// NewNoopHandle returns a SubscriptionHandle whose Close is a no-op,
// handed out by a degraded-mode session when the broker is unreachable.
func NewNoopHandle(pattern string, durability Durability) *SubscriptionHandle {
	closed := make(chan struct{})
	close(closed)
	return &SubscriptionHandle{
		pattern: pattern,
		durable: durability.isDurable(),
		cc:      &noopConsumeContext{closed: closed},
		log:     zerolog.Nop(),
	}
}

// SubscriptionEngine creates consumers against the shared stream and pumps
// their deliveries to user handlers.
type SubscriptionEngine struct {
	session *Session
	log     zerolog.Logger
	metrics *Metrics
}

// NewSubscriptionEngine builds a SubscriptionEngine bound to session.
func NewSubscriptionEngine(session *Session, log zerolog.Logger, metrics *Metrics) *SubscriptionEngine {
	return &SubscriptionEngine{session: session, log: log, metrics: metrics}
}

// Subscribe creates a consumer filtered to events.<pattern> and starts
// dispatching decoded envelopes to handler. pattern follows NATS subject
// grammar: "*" matches one token, ">" matches one or more trailing tokens,
// appended after the fixed "events." prefix (e.g. pattern "payment_service.payment.*"
// filters "events.payment_service.payment.*").
func (e *SubscriptionEngine) Subscribe(ctx context.Context, pattern string, durability Durability, handler Handler, opts ...SubscribeOption) (*SubscriptionHandle, error) {
	cfg := subscribeConfig{deliveryPolicy: DeliverNew}
	for _, opt := range opts {
		opt(&cfg)
	}

	subject := "events." + pattern

	stream, err := e.session.JetStream().Stream(ctx, StreamName)
	if err != nil {
		return nil, fmt.Errorf("broker: subscribe %s: lookup stream: %w", subject, err)
	}

	consumerCfg := jetstream.ConsumerConfig{
		FilterSubject: subject,
		DeliverPolicy: cfg.deliveryPolicy.jetstreamPolicy(),
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if durability.isDurable() {
		consumerCfg.Durable = durability.name
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("broker: subscribe %s: create consumer: %w", subject, err)
	}

	cache := NewIdempotencyCache()
	handle := &SubscriptionHandle{
		pattern:      pattern,
		durable:      durability.isDurable(),
		consumerName: consumer.CachedInfo().Name,
		stream:       stream,
		log:          e.log,
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		e.dispatch(ctx, msg, pattern, cache, handler, cfg.manualAck)
	})
	if err != nil {
		return nil, fmt.Errorf("broker: subscribe %s: start consume: %w", subject, err)
	}
	handle.cc = cc

	e.log.Info().Str("subject", subject).Bool("durable", handle.durable).Msg("subscribed")
	return handle, nil
}

// dispatch decodes one message, consults the idempotency cache, and runs
// the handler. It always acks unless manualAck is set and the handler
// failed — that is the one path that triggers broker redelivery.
func (e *SubscriptionEngine) dispatch(ctx context.Context, msg jetstream.Msg, pattern string, cache *IdempotencyCache, handler Handler, manualAck bool) {
	env, err := envelope.Decode(msg.Data())
	if err != nil {
		e.log.Error().Err(err).Msg("dropping undecodable message")
		_ = msg.Ack()
		return
	}

	if cache.Seen(env.ID) {
		if e.metrics != nil {
			e.metrics.Redeliveries.WithLabelValues(pattern).Inc()
		}
		_ = msg.Ack()
		return
	}

	if e.metrics != nil {
		e.metrics.DeliveriesTotal.WithLabelValues(pattern).Inc()
	}

	if err := handler(ctx, env); err != nil {
		e.log.Error().Err(err).Str("envelope_id", env.ID).Str("pattern", pattern).Msg("handler failed")
		if manualAck {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
		return
	}

	cache.Mark(env.ID)
	_ = msg.Ack()
}
