package broker

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/fleetmesh/eventbus/envelope"
)

const defaultPublishTimeout = 5 * time.Second

// Publisher maps an Envelope to a subject and writes it to the shared
// stream, translating every failure mode into a uniform bool so business
// code never has to branch on broker internals.
type Publisher struct {
	session *Session
	log     zerolog.Logger
	metrics *Metrics
	timeout time.Duration
}

// PublisherOption customizes a Publisher at construction.
type PublisherOption func(*Publisher)

// WithPublishTimeout overrides the default 5s per-call publish timeout.
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.timeout = d }
}

// NewPublisher builds a Publisher bound to session.
func NewPublisher(session *Session, log zerolog.Logger, metrics *Metrics, opts ...PublisherOption) *Publisher {
	p := &Publisher{session: session, log: log, metrics: metrics, timeout: defaultPublishTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish encodes e, derives its subject (events.<source>.<type>), and
// writes it to the stream with e.ID as the dedup key. It returns false —
// never an error — on any failure: not connected, encode failure, timeout,
// or broker rejection. Success means the event is durably stored and
// within the dedup window; failure is non-fatal to the caller, who has
// already committed the domain write this event describes.
func (p *Publisher) Publish(ctx context.Context, e envelope.Envelope) bool {
	if !p.session.IsConnected() {
		p.log.Error().Str("envelope_id", e.ID).Msg("publish skipped: broker not connected")
		p.countFailure(e, "not_connected")
		return false
	}

	subject := e.SubjectString()
	data, err := envelope.Encode(e)
	if err != nil {
		p.log.Error().Err(err).Str("envelope_id", e.ID).Msg("publish failed: encode error")
		p.countFailure(e, "encode_error")
		return false
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err = p.session.JetStream().Publish(pubCtx, subject, data, jetstream.WithMsgID(e.ID))
	if err != nil {
		reason := "publish_error"
		if errors.Is(pubCtx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
			p.log.Error().Str("envelope_id", e.ID).Str("subject", subject).Msg("publish timed out")
		} else {
			p.log.Error().Err(err).Str("envelope_id", e.ID).Str("subject", subject).Msg("publish failed")
		}
		p.countFailure(e, reason)
		return false
	}

	if p.metrics != nil {
		p.metrics.PublishTotal.WithLabelValues(e.Source, e.Type).Inc()
	}
	p.log.Info().Str("envelope_id", e.ID).Str("subject", subject).Msg("published")
	return true
}

func (p *Publisher) countFailure(e envelope.Envelope, reason string) {
	if p.metrics == nil {
		return
	}
	p.metrics.PublishTotal.WithLabelValues(e.Source, e.Type).Inc()
	p.metrics.PublishFailuresTotal.WithLabelValues(e.Source, e.Type, reason).Inc()
}
