package service

import (
	"context"
	"fmt"
	"time"

	"github.com/digiy/pulse-dispatch/internal/domain"
	"github.com/digiy/pulse-dispatch/internal/observability"
	"github.com/digiy/pulse-dispatch/internal/provider"
	"github.com/digiy/pulse-dispatch/internal/ratelimit"
	"go.uber.org/zap"
)

const defaultPushTimeout = 3 * time.Second

// SendOutcome is the dispatch service's view of one successful send.
type SendOutcome struct {
	ChannelUsed    domain.Channel
	FallbackFrom   domain.Channel
	ProviderResult *provider.SendResult
}

// PulseService validates job-shaped requests, resolves the text to send, and
// routes to providers with fallback. It is stateless: no job state survives a
// call.
type PulseService struct {
	providers   provider.Registry
	limiter     ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	countryCode string
	pushTimeout time.Duration
	now         func() time.Time
}

func NewPulseService(
	providers provider.Registry,
	limiter ratelimit.RateLimiter,
	countryCode string,
	pushTimeout time.Duration,
	logger *zap.Logger,
) (*PulseService, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("provider registry is required")
	}
	if countryCode == "" {
		countryCode = domain.DefaultCountryCode
	}
	if pushTimeout <= 0 {
		pushTimeout = defaultPushTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PulseService{
		providers:   providers,
		limiter:     limiter,
		logger:      logger,
		countryCode: countryCode,
		pushTimeout: pushTimeout,
		now:         time.Now,
	}, nil
}

func (s *PulseService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Send normalizes and validates the job, fires the best-effort push side
// effect, then attempts the primary channel with fallback:
//
//	whatsapp_optin  -> whatsapp, then sms on failure
//	no optin        -> sms directly
//
// Push never gates the primary channel; whatsapp is only tried with explicit
// consent; sms is the guaranteed-reach fallback.
func (s *PulseService) Send(ctx context.Context, job domain.PulseJob) (*SendOutcome, error) {
	clean := job.Normalized(s.countryCode)
	if err := clean.Validate(); err != nil {
		return nil, err
	}

	if clean.PushOptIn() {
		go s.firePush(clean)
	}

	if clean.WhatsAppOptIn() {
		waResult, waErr := s.attempt(ctx, domain.ChannelWhatsApp, clean)
		if waErr == nil {
			s.metrics.IncPulseSent(domain.ChannelWhatsApp.String())
			return &SendOutcome{ChannelUsed: domain.ChannelWhatsApp, ProviderResult: waResult}, nil
		}

		observability.WithContextLogger(s.logger, ctx).Warn("whatsapp send failed, falling back to sms",
			zap.String("outboxId", clean.ID),
			zap.String("businessCode", clean.BusinessCode),
			zap.String("pulseKind", clean.PulseKind),
			zap.Bool("transient", provider.IsTransient(waErr)),
			zap.Error(waErr),
		)
		s.metrics.IncFallback(domain.ChannelWhatsApp.String(), domain.ChannelSMS.String())

		smsResult, smsErr := s.attempt(ctx, domain.ChannelSMS, clean)
		if smsErr == nil {
			s.metrics.IncPulseSent(domain.ChannelSMS.String())
			return &SendOutcome{
				ChannelUsed:    domain.ChannelSMS,
				FallbackFrom:   domain.ChannelWhatsApp,
				ProviderResult: smsResult,
			}, nil
		}

		s.metrics.IncPulseFailed(domain.ChannelSMS.String(), "fallback_exhausted")
		return nil, fmt.Errorf("%w: whatsapp failed: %v; sms fallback failed: %v", domain.ErrDelivery, waErr, smsErr)
	}

	smsResult, smsErr := s.attempt(ctx, domain.ChannelSMS, clean)
	if smsErr != nil {
		s.metrics.IncPulseFailed(domain.ChannelSMS.String(), "provider_error")
		return nil, fmt.Errorf("%w: sms failed: %v", domain.ErrDelivery, smsErr)
	}

	s.metrics.IncPulseSent(domain.ChannelSMS.String())
	return &SendOutcome{ChannelUsed: domain.ChannelSMS, ProviderResult: smsResult}, nil
}

func (s *PulseService) attempt(ctx context.Context, channel domain.Channel, job domain.PulseJob) (*provider.SendResult, error) {
	p, err := s.providers.Get(channel)
	if err != nil {
		return nil, err
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, channel.String()); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	meta := provider.SendMeta{
		BusinessCode: job.BusinessCode,
		PulseKind:    job.PulseKind,
		Payload:      job.Payload,
	}

	start := s.now()
	result, err := p.Send(ctx, job.Phone, job.Message, meta)
	s.metrics.ObserveProviderSendDuration(channel.String(), s.now().Sub(start))

	return result, err
}

// firePush runs detached from the request: it gets its own timeout so the
// caller's response never waits on it, and failures are logged only.
func (s *PulseService) firePush(job domain.PulseJob) {
	p, err := s.providers.Get(domain.ChannelPush)
	if err != nil {
		s.logger.Debug("push side effect skipped", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.pushTimeout)
	defer cancel()

	meta := provider.SendMeta{
		BusinessCode: job.BusinessCode,
		PulseKind:    job.PulseKind,
		Payload:      job.Payload,
	}

	if _, err := p.Send(ctx, job.Phone, job.Message, meta); err != nil {
		s.logger.Warn("push side effect failed",
			zap.String("outboxId", job.ID),
			zap.String("businessCode", job.BusinessCode),
			zap.Error(err),
		)
		s.metrics.IncPulseFailed(domain.ChannelPush.String(), "side_effect")
		return
	}

	s.metrics.IncPulseSent(domain.ChannelPush.String())
}
