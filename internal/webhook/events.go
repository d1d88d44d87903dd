// Package webhook receives provider callbacks: Gupshup delivery receipts and
// inbound messages, and Razorpay billing events.
package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event is one decoded Gupshup callback. Exactly one of the concrete types
// below is returned by ParseGupshupEvent; callbacks we do not handle decode
// to UnknownEvent and are acknowledged without side effects.
type Event interface {
	isEvent()
}

// DeliveryEvent is a delivery receipt for a message we sent.
type DeliveryEvent struct {
	ProviderMessageID string
}

// InboundTextEvent is a text message from a customer.
type InboundTextEvent struct {
	From string
	Text string
}

// UnknownEvent is any callback shape we do not act on.
type UnknownEvent struct {
	Type string
}

func (DeliveryEvent) isEvent()    {}
func (InboundTextEvent) isEvent() {}
func (UnknownEvent) isEvent()     {}

type gupshupCallback struct {
	Type    string `json:"type"`
	Payload struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		Text   string `json:"text"`
		Source string `json:"source"`
	} `json:"payload"`
}

// ParseGupshupEvent decodes a raw Gupshup callback body into an Event.
func ParseGupshupEvent(body []byte) (Event, error) {
	var cb gupshupCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}

	switch {
	case cb.Type == "message-event" && cb.Payload.Type == "delivered":
		return DeliveryEvent{ProviderMessageID: cb.Payload.ID}, nil
	case cb.Type == "message" && cb.Payload.Type == "text":
		return InboundTextEvent{From: cb.Payload.Source, Text: cb.Payload.Text}, nil
	default:
		return UnknownEvent{Type: cb.Type}, nil
	}
}

// IsOptOut reports whether an inbound text is an opt-out request.
func IsOptOut(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "stop") || strings.Contains(lower, "unsubscribe")
}
