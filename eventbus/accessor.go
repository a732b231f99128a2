package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fleetmesh/eventbus/broker"
)

// Accessor lazily constructs one broker Session and hands it to every
// caller. It replaces the reference implementation's module-level
// get_event_bus() singleton: the same lazy-connect-once-and-cache
// behaviour, but as an explicit value a service's bootstrap code
// constructs and passes down, so tests can construct their own Accessor
// with their own Config (for example one pointed at an unreachable broker,
// which yields the null session) instead of reaching into package state.
// An Accessor always dials through broker.Connect; it cannot be handed a
// ready-made Session.
type Accessor struct {
	cfg     broker.Config
	log     zerolog.Logger
	metrics *broker.Metrics

	once    sync.Once
	session Session
}

// NewAccessor builds an Accessor for cfg. Nothing happens until the first
// Get call — construction never touches the network.
func NewAccessor(cfg broker.Config, log zerolog.Logger, metrics *broker.Metrics) *Accessor {
	return &Accessor{cfg: cfg, log: log, metrics: metrics}
}

// Get returns the process-wide session, connecting and provisioning the
// stream on the first call. Every subsequent call, regardless of context,
// returns the same cached session — one broker connection per Accessor
// regardless of how many call sites share it. If the initial connect
// fails, Get logs the failure and caches a null session: callers keep
// getting a usable, inert Session rather than an error to handle.
func (a *Accessor) Get(ctx context.Context) Session {
	a.once.Do(func() {
		a.session = a.connect(ctx)
	})
	return a.session
}

func (a *Accessor) connect(ctx context.Context) Session {
	session, err := broker.Connect(ctx, a.cfg, a.log, a.metrics)
	if err != nil {
		a.log.Error().Err(err).Str("service", a.cfg.ServiceName).Msg("event bus unreachable, degrading to null session")
		return NullSession()
	}

	mgr := broker.NewStreamManager(session, a.log)
	if err := mgr.EnsureStream(ctx, broker.DefaultStreamSpec()); err != nil {
		a.log.Error().Err(err).Msg("stream provisioning failed, publishing will degrade per-call")
	}

	return NewLiveSession(session, a.log, a.metrics)
}
