package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/digiy/pulse-dispatch/internal/domain"
	"go.uber.org/zap"
)

const previewLimit = 140

// StubProvider is a deployment placeholder that logs and reports success.
// Real deployments replace it with a provider integration (Meta Cloud API,
// Twilio, a push gateway); it is wired by default so the pipeline can run
// end to end without credentials.
type StubProvider struct {
	channel domain.Channel
	logger  *zap.Logger
	now     func() time.Time
}

func NewStubProvider(channel domain.Channel, logger *zap.Logger) *StubProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubProvider{
		channel: channel,
		logger:  logger,
		now:     time.Now,
	}
}

func (p *StubProvider) Send(ctx context.Context, phone string, message string, meta SendMeta) (*SendResult, error) {
	if p == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.logger.Info("stub provider send",
		zap.String("channel", p.channel.String()),
		zap.String("to", phone),
		zap.String("businessCode", meta.BusinessCode),
		zap.String("pulseKind", meta.PulseKind),
	)

	return &SendResult{
		Provider:  "stub-" + p.channel.String(),
		To:        phone,
		Status:    "queued",
		MessageID: fmt.Sprintf("%s_%d", messageIDPrefix(p.channel), p.now().UnixMilli()),
		Preview:   truncatePreview(message),
	}, nil
}

func messageIDPrefix(channel domain.Channel) string {
	switch channel {
	case domain.ChannelWhatsApp:
		return "wa"
	case domain.ChannelPush:
		return "push"
	default:
		return "sms"
	}
}

func truncatePreview(message string) string {
	runes := []rune(message)
	if len(runes) <= previewLimit {
		return message
	}
	return string(runes[:previewLimit])
}
