package telephony

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Event types delivered by the provider's call-control webhooks.
const (
	EventCallInitiated        = "call.initiated"
	EventCallRinging          = "call.ringing"
	EventCallAnswered         = "call.answered"
	EventCallBridged          = "call.bridged"
	EventCallHangup           = "call.hangup"
	EventCallCompleted        = "call.completed"
	EventMachineDetectionDone = "call.machine.detection.ended"

	EventMessageReceived       = "message.received"
	EventMessageSent           = "message.sent"
	EventMessageDeliveryStatus = "message.delivery_status"
)

// Event is the parsed, provider-shaped webhook event. Call and message
// events share the envelope; the payload fields that apply depend on Type.
type Event struct {
	Type       string
	OccurredAt time.Time

	// Call payload.
	CallControlID        string
	ConnectionID         string
	State                string
	Direction            string
	From                 string
	To                   string
	HangupCause          string
	HangupDurationMillis int64

	// Message payload.
	MessageID     string
	MessageFrom   string
	MessageTo     []string
	MessageStatus string
	Text          string
}

// IsCallEvent reports whether the event belongs to the call-control path.
func (e Event) IsCallEvent() bool { return strings.HasPrefix(e.Type, "call.") }

// IsMessageEvent reports whether the event belongs to the messaging path.
func (e Event) IsMessageEvent() bool { return strings.HasPrefix(e.Type, "message.") }

// Wire shapes. The provider posts {"data": {"event_type": ..., "payload": {...}}}.
type webhookEnvelope struct {
	Data struct {
		EventType  string          `json:"event_type"`
		OccurredAt time.Time       `json:"occurred_at"`
		Payload    json.RawMessage `json:"payload"`
	} `json:"data"`
}

type callPayload struct {
	CallControlID        string `json:"call_control_id"`
	ConnectionID         string `json:"connection_id"`
	State                string `json:"state"`
	Direction            string `json:"direction"`
	From                 string `json:"from"`
	To                   string `json:"to"`
	HangupCause          string `json:"hangup_cause"`
	HangupDurationMillis int64  `json:"hangup_duration_millis"`
}

type messagePayload struct {
	ID   string `json:"id"`
	From struct {
		PhoneNumber string `json:"phone_number"`
	} `json:"from"`
	To []struct {
		PhoneNumber string `json:"phone_number"`
		Status      string `json:"status"`
	} `json:"to"`
	Text string `json:"text"`
}

var errEmptyEvent = errors.New("telephony: webhook without event payload")

// ParseEvent decodes a webhook body into an Event.
func ParseEvent(body []byte) (Event, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, err
	}
	if env.Data.EventType == "" || len(env.Data.Payload) == 0 {
		return Event{}, errEmptyEvent
	}

	evt := Event{Type: env.Data.EventType, OccurredAt: env.Data.OccurredAt}

	if evt.IsMessageEvent() {
		var p messagePayload
		if err := json.Unmarshal(env.Data.Payload, &p); err != nil {
			return Event{}, err
		}
		evt.MessageID = p.ID
		evt.MessageFrom = p.From.PhoneNumber
		for _, to := range p.To {
			evt.MessageTo = append(evt.MessageTo, to.PhoneNumber)
			if evt.MessageStatus == "" {
				evt.MessageStatus = to.Status
			}
		}
		evt.Text = p.Text
		return evt, nil
	}

	var p callPayload
	if err := json.Unmarshal(env.Data.Payload, &p); err != nil {
		return Event{}, err
	}
	evt.CallControlID = p.CallControlID
	evt.ConnectionID = p.ConnectionID
	evt.State = p.State
	evt.Direction = p.Direction
	evt.From = strings.TrimSpace(p.From)
	evt.To = strings.TrimSpace(p.To)
	evt.HangupCause = p.HangupCause
	evt.HangupDurationMillis = p.HangupDurationMillis
	return evt, nil
}

// NormalizeDestination canonicalizes a dial target so differently formatted
// payloads for the same destination compare equal: surrounding whitespace
// and a sip:/sips: scheme are stripped, and the result is lowercased.
// Different webhook events may format the same SIP URI with or without the
// scheme; leg lookups key on this canonical form.
func NormalizeDestination(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "sip:"):
		s = s[len("sip:"):]
	case strings.HasPrefix(lower, "sips:"):
		s = s[len("sips:"):]
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// SIPUsername extracts the user portion of a SIP destination, or "" when the
// destination has no user@host shape (e.g. a plain E.164 number).
func SIPUsername(destination string) string {
	d := NormalizeDestination(destination)
	at := strings.IndexByte(d, '@')
	if at <= 0 {
		return ""
	}
	return d[:at]
}

// LooksLikeSIP reports whether the destination is a SIP target rather than a
// plain phone number.
func LooksLikeSIP(destination string) bool {
	d := strings.TrimSpace(strings.ToLower(destination))
	return strings.HasPrefix(d, "sip:") || strings.HasPrefix(d, "sips:") || strings.Contains(d, "@")
}
