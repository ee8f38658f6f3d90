package domain

import (
	"fmt"
	"strings"
)

// Channel represents a delivery channel.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	// ChannelPush is a best-effort side channel. Jobs never request it
	// directly; it is triggered by the pwa_optin payload hint.
	ChannelPush Channel = "push"
)

func (c Channel) String() string { return string(c) }

// IsValid reports whether the channel may be requested by a job.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelWhatsApp, ChannelSMS:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// PulseJob is a claimed unit of outbound reminder work. The queue backend
// assigns the ID at enqueue time and exclusively owns state transitions; a
// worker only carries a transient view of the job for one dispatch cycle.
type PulseJob struct {
	ID            string         `json:"id"`
	Channel       Channel        `json:"channel"`
	Phone         string         `json:"phone"`
	BusinessCode  string         `json:"business_code"`
	PulseKind     string         `json:"pulse_kind"`
	Message       string         `json:"message"`
	Payload       map[string]any `json:"payload,omitempty"`
	ReservationID string         `json:"reservation_id,omitempty"`
}

// ResolvedMessage returns the text to send: the explicit message field, or
// the payload's message/text entries when absent.
func (j PulseJob) ResolvedMessage() string {
	if msg := strings.TrimSpace(j.Message); msg != "" {
		return msg
	}
	for _, key := range []string{"message", "text"} {
		if msg := strings.TrimSpace(payloadString(j.Payload, key)); msg != "" {
			return msg
		}
	}
	return ""
}

// WhatsAppOptIn reports whether the job consented to WhatsApp delivery.
func (j PulseJob) WhatsAppOptIn() bool {
	return payloadBool(j.Payload, "whatsapp_optin")
}

// PushOptIn reports whether a best-effort push should be fired.
func (j PulseJob) PushOptIn() bool {
	return payloadBool(j.Payload, "pwa_optin")
}

// Normalized returns a copy with trimmed fields, a lowercased channel, the
// destination number in international format, and the message resolved from
// the payload when the explicit field is empty. Normalizing an already
// normalized job is a no-op.
func (j PulseJob) Normalized(countryCode string) PulseJob {
	n := j
	n.Channel = Channel(strings.ToLower(strings.TrimSpace(string(j.Channel))))
	n.Phone = NormalizePhone(j.Phone, countryCode)
	n.BusinessCode = strings.TrimSpace(j.BusinessCode)
	n.PulseKind = strings.TrimSpace(j.PulseKind)
	n.Message = j.ResolvedMessage()
	n.ReservationID = strings.TrimSpace(j.ReservationID)
	return n
}

// Validate checks a normalized job and reports every violated rule, not just
// the first one.
func (j PulseJob) Validate() error {
	var violations ValidationErrors

	if strings.TrimSpace(string(j.Channel)) == "" {
		violations = append(violations, "channel required")
	} else if !j.Channel.IsValid() {
		violations = append(violations, "channel must be whatsapp|sms")
	}
	if j.Phone == "" {
		violations = append(violations, "phone required")
	}
	if j.BusinessCode == "" {
		violations = append(violations, "business_code required")
	}
	if j.PulseKind == "" {
		violations = append(violations, "pulse_kind required")
	}
	if j.ResolvedMessage() == "" {
		violations = append(violations, "message required")
	}

	if len(violations) > 0 {
		return violations
	}
	return nil
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if value, ok := payload[key].(string); ok {
		return value
	}
	return ""
}

func payloadBool(payload map[string]any, key string) bool {
	if payload == nil {
		return false
	}
	switch value := payload[key].(type) {
	case bool:
		return value
	case string:
		return strings.EqualFold(strings.TrimSpace(value), "true")
	}
	return false
}
