// Package conventions captures the cross-service subscription patterns
// every business service reuses instead of reinventing: the all-events
// audit subscription, and the independent-durable-consumers fan-out used
// for cascading side effects.
package conventions

import (
	"context"
	"fmt"

	"github.com/fleetmesh/eventbus/broker"
)

// WildcardAudit is the correct "every event, regardless of source or
// type" subject pattern. A service subscribing with this pattern — the
// audit service's actual role — receives every published event. Handlers
// in this role must be idempotent and tolerate unknown type values.
func WildcardAudit() string { return ">" }

// LegacyTwoTokenAll reproduces a pattern still used by at least one
// subscriber in the fleet (the audit service's NATS wildcard test
// subscribes with exactly this string) to mean "all events." Appended after
// "events." it filters "events.*.*": one token for the source and exactly
// one token for the type, because "*" matches exactly one token. Every type
// in the registry has at least two tokens (user.created,
// file.uploaded.with_ai, memory.factual.stored, ...), so it silently misses
// all of them and only matches single-token types. New subscribers
// should use WildcardAudit instead; this is preserved only for services
// that were relying on (or are migrating off) the narrower behaviour.
func LegacyTwoTokenAll() string { return "*.*" }

// AuditSubscribe subscribes handler to every event in the stream under
// the given durable name, using the correct WildcardAudit pattern.
func AuditSubscribe(ctx context.Context, engine *broker.SubscriptionEngine, durableName string, handler broker.Handler) (*broker.SubscriptionHandle, error) {
	return engine.Subscribe(ctx, WildcardAudit(), broker.Durable(durableName), handler)
}

// CascadeConsumer names one independent durable subscriber in a cascade
// fan-out: a service name plus the handler it runs when the cascading
// event fires.
type CascadeConsumer struct {
	ServiceName string
	Handler     broker.Handler
}

// CascadeSubscribe subscribes every consumer in consumers to pattern,
// each under its own durable name (serviceName + "-" + pattern-derived
// suffix), matching the fan-out used for events like user.deleted or
// device.offline: the broker delivers the same event to each independent
// consumer, the producer is unaware of any of them, and failure of one
// subscribe call does not prevent the others from being attempted.
//
// Returned handles are positional with consumers; a nil handle at index i
// means that consumer's subscribe call failed. Only the first failure's
// error is returned alongside, wrapped with that consumer's service name;
// later failures show only as nil handles. Subscription of the remaining
// consumers still proceeds.
func CascadeSubscribe(ctx context.Context, engine *broker.SubscriptionEngine, pattern string, consumers []CascadeConsumer) ([]*broker.SubscriptionHandle, error) {
	handles := make([]*broker.SubscriptionHandle, len(consumers))
	var firstErr error

	for i, c := range consumers {
		durableName := fmt.Sprintf("%s-%s", c.ServiceName, sanitizePattern(pattern))
		handle, err := engine.Subscribe(ctx, pattern, broker.Durable(durableName), c.Handler)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("conventions: cascade subscribe for %s: %w", c.ServiceName, err)
			}
			continue
		}
		handles[i] = handle
	}

	return handles, firstErr
}

func sanitizePattern(pattern string) string {
	out := make([]byte, 0, len(pattern))
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '.', '*', '>':
			out = append(out, '-')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
