package provider

import (
	"context"
	"fmt"

	"github.com/digiy/pulse-dispatch/internal/domain"
)

// Provider is the outbound delivery port for one channel. Implementations
// must resolve ordinary delivery failures to a ProviderError rather than
// panicking, and must accept an already-normalized destination number.
type Provider interface {
	Send(ctx context.Context, phone string, message string, meta SendMeta) (*SendResult, error)
}

// SendMeta carries job context providers may attach to the outbound call.
type SendMeta struct {
	BusinessCode string
	PulseKind    string
	Payload      map[string]any
}

// SendResult is the opaque provider outcome echoed back to callers and
// persisted by the queue backend on acknowledge.
type SendResult struct {
	Provider  string `json:"provider"`
	To        string `json:"to"`
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
	Preview   string `json:"preview,omitempty"`
}

// Registry maps channels to their configured providers.
type Registry map[domain.Channel]Provider

func (r Registry) Get(channel domain.Channel) (Provider, error) {
	p, ok := r[channel]
	if !ok || p == nil {
		return nil, fmt.Errorf("no provider configured for channel %q", channel)
	}
	return p, nil
}
