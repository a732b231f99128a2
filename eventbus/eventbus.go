// Package eventbus is the surface business microservices actually embed:
// a Session interface plus an injectable Accessor that lazily connects one
// broker session per process and degrades to a null-object implementation
// when the broker is unreachable.
package eventbus

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/fleetmesh/eventbus/broker"
	"github.com/fleetmesh/eventbus/envelope"
)

// Session is everything a business service needs from the event bus:
// publish, subscribe, liveness, and shutdown. Both the live broker-backed
// implementation and the degraded null implementation satisfy it, so
// callers never branch on broker availability.
type Session interface {
	Publish(ctx context.Context, e envelope.Envelope) bool
	Subscribe(ctx context.Context, pattern string, durability broker.Durability, handler broker.Handler, opts ...broker.SubscribeOption) (*broker.SubscriptionHandle, error)
	IsConnected() bool
	Close() error
}

// liveSession wires a connected broker.Session to a Publisher and
// SubscriptionEngine, exposing them as one Session.
type liveSession struct {
	session *broker.Session
	pub     *broker.Publisher
	engine  *broker.SubscriptionEngine
}

// NewLiveSession builds a Session backed by a connected broker session.
// Callers that want direct access to the underlying broker.Session (for
// metrics wiring, explicit stream re-provisioning, etc.) hold onto the
// broker.Session returned by broker.Connect themselves; this wrapper is
// the handle business code receives.
func NewLiveSession(session *broker.Session, log zerolog.Logger, metrics *broker.Metrics) Session {
	return &liveSession{
		session: session,
		pub:     broker.NewPublisher(session, log, metrics),
		engine:  broker.NewSubscriptionEngine(session, log, metrics),
	}
}

func (s *liveSession) Publish(ctx context.Context, e envelope.Envelope) bool {
	return s.pub.Publish(ctx, e)
}

func (s *liveSession) Subscribe(ctx context.Context, pattern string, durability broker.Durability, handler broker.Handler, opts ...broker.SubscribeOption) (*broker.SubscriptionHandle, error) {
	return s.engine.Subscribe(ctx, pattern, durability, handler, opts...)
}

func (s *liveSession) IsConnected() bool { return s.session.IsConnected() }

func (s *liveSession) Close() error { return s.session.Close() }

// nullSession is returned when construction of a live session fails.
// Publish always reports failure, Subscribe always returns a handle whose
// Close is a no-op, and no handler is ever invoked — business operations
// must continue to succeed with event publishing disabled.
type nullSession struct{}

// NullSession returns the degraded-mode Session every Accessor falls back
// to when it cannot reach the broker.
func NullSession() Session { return nullSession{} }

func (nullSession) Publish(context.Context, envelope.Envelope) bool { return false }

func (nullSession) Subscribe(_ context.Context, pattern string, durability broker.Durability, _ broker.Handler, _ ...broker.SubscribeOption) (*broker.SubscriptionHandle, error) {
	return broker.NewNoopHandle(pattern, durability), nil
}

func (nullSession) IsConnected() bool { return false }

func (nullSession) Close() error { return nil }
