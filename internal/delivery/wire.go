// Package delivery assigns per-sender outbound sequence numbers, tracks
// each delivery to full acknowledgement or timeout, suppresses duplicates,
// and persists sequencing state atomically.
package delivery

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// AgentEnvelopePrefix is the single-prefix envelope tolerated (and
// stripped) ahead of the sequenced wire form.
const AgentEnvelopePrefix = "[AGENT MSG - reply via hm-send.js] "

// SessionResetMarker in a body with sequence 1 resets lastSeen for that
// sender/recipient.
const SessionResetMarker = "[SESSION-RESET]"

var wirePattern = regexp.MustCompile(`^\(([^#()]+?) #(\d+)\):\s?(.*)$`)

// Message is a parsed sequenced message.
type Message struct {
	Sender string
	Seq    uint64
	Body   string
}

// SessionReset reports whether this message resets the sender's session.
func (m Message) SessionReset() bool {
	return m.Seq == 1 && strings.Contains(m.Body, SessionResetMarker)
}

// Format renders the on-the-wire form "(ROLE #N): body".
func Format(sender string, seq uint64, body string) string {
	return fmt.Sprintf("(%s #%d): %s", sender, seq, body)
}

// Parse extracts sender, sequence and body from the wire form, tolerating
// a single agent-envelope prefix.
func Parse(s string) (Message, bool) {
	s = strings.TrimPrefix(s, AgentEnvelopePrefix)
	var m = wirePattern.FindStringSubmatch(strings.SplitN(s, "\n", 2)[0])
	if m == nil {
		return Message{}, false
	}
	var seq, err = strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return Message{}, false
	}
	var body = m[3]
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		body += s[i:]
	}
	return Message{Sender: strings.TrimSpace(m[1]), Seq: seq, Body: body}, true
}

// CreateDeliveryID mints the id threaded through the fan-out envelopes of
// one tracked delivery.
func CreateDeliveryID(sender string, seq uint64, recipient string) string {
	return fmt.Sprintf("dlv-%s-%d-%s-%s", sender, seq, recipient, uuid.NewString()[:8])
}
