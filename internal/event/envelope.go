// Package event defines the envelope that every intent passing through the
// kernel is wrapped in, along with the dotted event-type vocabulary and the
// prefix-wildcard matching rules used by subscriptions and contracts.
package event

import (
	"fmt"
	"time"
)

// RecipientSystem is the recipient id used for events that concern the
// process as a whole rather than a single pane.
const RecipientSystem = "system"

// Envelope is the immutable event record dispatched by the kernel.
// Subscribers receive shared references and must not mutate them.
type Envelope struct {
	EventID       string                 `json:"eventId"`
	CorrelationID string                 `json:"correlationId"`
	CausationID   string                 `json:"causationId,omitempty"`
	Type          string                 `json:"type"`
	Source        string                 `json:"source"`
	RecipientID   string                 `json:"recipientId"`
	Timestamp     int64                  `json:"timestamp"` // milliseconds since epoch
	Sequence      uint64                 `json:"sequence"`
	Payload       map[string]interface{} `json:"payload,omitempty"`

	// Skipped is set when an enforced contract chose the skip action:
	// receivers observe the event but decline its side effect.
	Skipped bool `json:"skipped,omitempty"`
}

// Clone returns a deep copy of the envelope, including its payload map.
func (e *Envelope) Clone() *Envelope {
	var c = *e
	if e.Payload != nil {
		c.Payload = make(map[string]interface{}, len(e.Payload))
		for k, v := range e.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}

// Millis converts a time to the envelope's millisecond timestamp form.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// RedactPayload returns a shallow copy of payload with the `body` and
// `message` fields replaced by {redacted: true, length: N}. All envelopes,
// telemetry entries and disk artefacts share this view unless developer
// mode is active.
func RedactPayload(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	var out = make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if k == "body" || k == "message" {
			out[k] = map[string]interface{}{
				"redacted": true,
				"length":   payloadLength(v),
			}
			continue
		}
		out[k] = v
	}
	return out
}

func payloadLength(v interface{}) int {
	switch s := v.(type) {
	case string:
		return len(s)
	case []byte:
		return len(s)
	case nil:
		return 0
	default:
		return len(fmt.Sprintf("%v", v))
	}
}
