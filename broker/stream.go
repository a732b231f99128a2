package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// StreamName is the single logical stream every event is published to.
const StreamName = "EVENTS"

// StreamSpec describes the shared event stream's retention and storage
// policy. DefaultStreamSpec matches the wire-compatible configuration
// other consumers of the same broker expect.
type StreamSpec struct {
	Name             string
	Subjects         []string
	MaxAge           time.Duration
	MaxBytes         int64
	MaxMsgs          int64
	DuplicateWindow  time.Duration
	Storage          jetstream.StorageType
	Retention        jetstream.RetentionPolicy
	Discard          jetstream.DiscardPolicy
}

// DefaultStreamSpec is the EVENTS stream: file storage, 7-day / 100MiB
// retention, 2-minute dedup window, oldest-first discard.
func DefaultStreamSpec() StreamSpec {
	return StreamSpec{
		Name:            StreamName,
		Subjects:        []string{"events.>"},
		MaxAge:          7 * 24 * time.Hour,
		MaxBytes:        100 * 1024 * 1024,
		MaxMsgs:         -1,
		DuplicateWindow: 2 * time.Minute,
		Storage:         jetstream.FileStorage,
		Retention:       jetstream.LimitsPolicy,
		Discard:         jetstream.DiscardOld,
	}
}

func (s StreamSpec) config() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:       s.Name,
		Subjects:   s.Subjects,
		MaxAge:     s.MaxAge,
		MaxBytes:   s.MaxBytes,
		MaxMsgs:    s.MaxMsgs,
		Duplicates: s.DuplicateWindow,
		Storage:    s.Storage,
		Retention:  s.Retention,
		Discard:    s.Discard,
	}
}

// StreamManager provisions and verifies the shared event stream.
type StreamManager struct {
	js  jetstream.JetStream
	log zerolog.Logger
}

// NewStreamManager builds a StreamManager bound to a connected session's
// jetstream context.
func NewStreamManager(session *Session, log zerolog.Logger) *StreamManager {
	return &StreamManager{js: session.JetStream(), log: log}
}

// EnsureStream creates the stream described by spec if it is absent. If a
// stream of that name already exists, its configuration is updated to
// spec (CreateOrUpdateStream); an existing stream is not left as it was.
// A provisioning failure (permissions, an update the broker rejects, a race
// with another service's first connect) is logged and returned as a wrapped
// error; the callers in this module treat that error as non-fatal, so
// publishing is not blocked by it — a missing stream simply makes
// individual publishes fail later, handled in Publisher.
func (m *StreamManager) EnsureStream(ctx context.Context, spec StreamSpec) error {
	_, err := m.js.CreateOrUpdateStream(ctx, spec.config())
	if err != nil {
		m.log.Error().Err(err).Str("stream", spec.Name).Msg("stream provisioning failed, continuing without it")
		return fmt.Errorf("broker: ensure stream %s: %w", spec.Name, err)
	}
	m.log.Info().Str("stream", spec.Name).Msg("stream ready")
	return nil
}
