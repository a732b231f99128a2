// Package envelope defines the canonical event record carried across the
// fleet's event bus: identity, ordering, versioning, and payload. Every
// publish and every delivered message is an Envelope.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the default payload schema version for newly constructed
// envelopes. Existing values are never repurposed; bump per-type as payload
// shapes change.
const SchemaVersion = "1.0.0"

// Envelope is the canonical, immutable-after-construction event record.
// Fields mirror the wire format in SPEC_FULL.md §8: id, type, source,
// subject, timestamp, data, metadata, version.
type Envelope struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Subject   *string                `json:"subject"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Metadata  map[string]string      `json:"metadata"`
	Version   string                 `json:"version"`
}

// New constructs an Envelope with a fresh UUID, the current UTC timestamp,
// and the default schema version. subject and metadata are optional and may
// be nil.
func New(eventType, source string, data map[string]interface{}, subject *string, metadata map[string]string) Envelope {
	if data == nil {
		data = map[string]interface{}{}
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	return Envelope{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Metadata:  metadata,
		Version:   SchemaVersion,
	}
}

// Encode produces the canonical JSON representation of the envelope.
// Encoding is deterministic for a given Envelope value.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeError reports a malformed or incomplete envelope payload.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("envelope: decode failed: %s", e.Reason)
}

// Decode parses bytes into an Envelope. Required fields (id, type, source)
// must be present and non-empty; unknown fields are ignored (forward
// compatible), unknown type/source strings are accepted verbatim — dispatch
// on type is the handler's responsibility, not the decoder's.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, &DecodeError{Reason: err.Error()}
	}
	if e.ID == "" {
		return Envelope{}, &DecodeError{Reason: "missing id"}
	}
	if e.Type == "" {
		return Envelope{}, &DecodeError{Reason: "missing type"}
	}
	if e.Source == "" {
		return Envelope{}, &DecodeError{Reason: "missing source"}
	}
	if e.Data == nil {
		e.Data = map[string]interface{}{}
	}
	if e.Metadata == nil {
		e.Metadata = map[string]string{}
	}
	if e.Version == "" {
		e.Version = SchemaVersion
	}
	return e, nil
}

// SubjectString derives the NATS subject an envelope is published under:
// events.<source>.<type>.
func (e Envelope) SubjectString() string {
	return fmt.Sprintf("events.%s.%s", e.Source, e.Type)
}
