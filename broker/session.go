// Package broker owns the connection to the event broker and everything
// layered directly on top of it: stream provisioning, publishing, and
// subscription management. Nothing in this package understands business
// event types — that's the embedding service's concern.
package broker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// State is a Session's connection lifecycle stage.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectError wraps a failure to establish the initial broker connection.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("broker: connect to %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Session owns one broker connection for a service instance. It is safe
// for concurrent use by publishers and subscribers.
type Session struct {
	cfg     Config
	log     zerolog.Logger
	metrics *Metrics

	conn  *nats.Conn
	js    jetstream.JetStream
	state atomic.Int32
}

// Connect dials the broker per cfg (resolved against environment defaults,
// see Config.Resolve), wires reconnect/error callbacks that log and flip
// the liveness flag, and returns a ready-to-use Session. metrics may be
// nil, in which case liveness/reconnect counters are not recorded.
func Connect(ctx context.Context, cfg Config, log zerolog.Logger, metrics *Metrics) (*Session, error) {
	cfg = cfg.Resolve()
	s := &Session{cfg: cfg, log: log, metrics: metrics}
	s.state.Store(int32(StateConnecting))

	opts := []nats.Option{
		nats.Name(cfg.ServiceName),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(*cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.state.Store(int32(StateReconnecting))
			s.setConnectedGauge(false)
			if err != nil {
				s.log.Warn().Err(err).Str("service", cfg.ServiceName).Msg("broker disconnected")
			} else {
				s.log.Warn().Str("service", cfg.ServiceName).Msg("broker disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.state.Store(int32(StateConnected))
			s.setConnectedGauge(true)
			if s.metrics != nil {
				s.metrics.Reconnects.Inc()
			}
			s.log.Info().Str("service", cfg.ServiceName).Str("url", nc.ConnectedUrl()).Msg("broker reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			s.log.Error().Err(err).Str("subject", subject).Msg("broker async error")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			s.state.Store(int32(StateClosed))
			s.setConnectedGauge(false)
		}),
	}
	if cfg.hasAuth() {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		return nil, &ConnectError{URL: cfg.URL, Err: err}
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		s.state.Store(int32(StateDisconnected))
		return nil, &ConnectError{URL: cfg.URL, Err: fmt.Errorf("init jetstream: %w", err)}
	}

	s.conn = conn
	s.js = js
	s.state.Store(int32(StateConnected))
	s.setConnectedGauge(true)
	s.log.Info().Str("service", cfg.ServiceName).Str("url", cfg.URL).Msg("connected to broker")

	return s, nil
}

func (s *Session) setConnectedGauge(v bool) {
	if s.metrics == nil {
		return
	}
	if v {
		s.metrics.Connected.Set(1)
	} else {
		s.metrics.Connected.Set(0)
	}
}

// IsConnected reports the current liveness flag.
func (s *Session) IsConnected() bool {
	return State(s.state.Load()) == StateConnected
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	return State(s.state.Load())
}

// JetStream exposes the underlying jetstream context for the Stream
// Manager, Publisher, and Subscription Engine to build on.
func (s *Session) JetStream() jetstream.JetStream {
	return s.js
}

// ServiceName returns the service identity this session was connected
// with. The Publisher does not use it: envelopes are published under their
// own Source.
func (s *Session) ServiceName() string {
	return s.cfg.ServiceName
}

// Close flushes pending publishes and releases the connection. Idempotent.
func (s *Session) Close() error {
	if State(s.state.Load()) == StateClosed {
		return nil
	}
	if s.conn == nil {
		s.state.Store(int32(StateClosed))
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.log.Warn().Err(err).Msg("broker drain failed, closing anyway")
	}
	s.conn.Close()
	s.state.Store(int32(StateClosed))
	s.setConnectedGauge(false)
	return nil
}
