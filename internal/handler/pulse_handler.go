package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/digiy/pulse-dispatch/internal/domain"
	"github.com/digiy/pulse-dispatch/internal/observability"
	"github.com/digiy/pulse-dispatch/internal/provider"
	"github.com/digiy/pulse-dispatch/internal/service"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// PulseSender routes a validated job to providers with fallback.
type PulseSender interface {
	Send(ctx context.Context, job domain.PulseJob) (*service.SendOutcome, error)
}

// OutboxEnqueuer accepts producer-side jobs into the durable queue.
type OutboxEnqueuer interface {
	Enqueue(ctx context.Context, job *domain.PulseJob) error
}

// PulseHandler authenticates callers with a single x-api-key shared secret.
// A bearer-token alternative was deliberately not kept: the only caller is
// the outbox worker, which sends the key header.
type PulseHandler struct {
	service     PulseSender
	enqueuer    OutboxEnqueuer
	apiKey      string
	countryCode string
}

func NewPulseHandler(service PulseSender, enqueuer OutboxEnqueuer, apiKey string, countryCode string) (*PulseHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("pulse service is required")
	}
	return &PulseHandler{
		service:     service,
		enqueuer:    enqueuer,
		apiKey:      strings.TrimSpace(apiKey),
		countryCode: strings.TrimSpace(countryCode),
	}, nil
}

func RegisterPulseRoutes(router fiber.Router, service PulseSender, enqueuer OutboxEnqueuer, apiKey string, countryCode string) error {
	h, err := NewPulseHandler(service, enqueuer, apiKey, countryCode)
	if err != nil {
		return err
	}

	group := router.Group("/pulse")
	group.Post("/send", h.SendPulse)
	if enqueuer != nil {
		group.Post("/outbox", h.EnqueuePulse)
	}

	return nil
}

type sendPulseRequest struct {
	Channel       string         `json:"channel"`
	Phone         string         `json:"phone"`
	BusinessCode  string         `json:"business_code"`
	PulseKind     string         `json:"pulse_kind"`
	Message       string         `json:"message"`
	Payload       map[string]any `json:"payload"`
	OutboxID      string         `json:"outbox_id"`
	ReservationID string         `json:"reservation_id"`
}

type sendPulseResponse struct {
	OK             bool                 `json:"ok"`
	RequestID      string               `json:"request_id"`
	Sent           bool                 `json:"sent,omitempty"`
	ChannelUsed    string               `json:"channel_used,omitempty"`
	FallbackFrom   string               `json:"fallback_from,omitempty"`
	Phone          string               `json:"phone,omitempty"`
	BusinessCode   string               `json:"business_code,omitempty"`
	PulseKind      string               `json:"pulse_kind,omitempty"`
	OutboxID       string               `json:"outbox_id,omitempty"`
	ReservationID  string               `json:"reservation_id,omitempty"`
	ProviderResult *provider.SendResult `json:"provider_result,omitempty"`
	Error          string               `json:"error,omitempty"`
	Details        []string             `json:"details,omitempty"`
}

type enqueuePulseResponse struct {
	OK        bool     `json:"ok"`
	RequestID string   `json:"request_id"`
	OutboxID  string   `json:"outbox_id,omitempty"`
	Error     string   `json:"error,omitempty"`
	Details   []string `json:"details,omitempty"`
}

func (h *PulseHandler) SendPulse(c *fiber.Ctx) error {
	rid := requestID(c)

	if status, errMsg := h.authenticate(c); status != fiber.StatusOK {
		return c.Status(status).JSON(sendPulseResponse{OK: false, RequestID: rid, Error: errMsg})
	}

	var req sendPulseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(sendPulseResponse{
			OK:        false,
			RequestID: rid,
			Error:     "invalid request body",
		})
	}

	ctx := observability.WithRequestID(c.Context(), rid)
	job := requestToJob(req)
	outcome, err := h.service.Send(ctx, job)
	if err != nil {
		return sendPulseError(c, rid, err)
	}

	return c.Status(fiber.StatusOK).JSON(sendPulseResponse{
		OK:             true,
		RequestID:      rid,
		Sent:           true,
		ChannelUsed:    outcome.ChannelUsed.String(),
		FallbackFrom:   outcome.FallbackFrom.String(),
		Phone:          outcome.ProviderResult.To,
		BusinessCode:   strings.TrimSpace(req.BusinessCode),
		PulseKind:      strings.TrimSpace(req.PulseKind),
		OutboxID:       req.OutboxID,
		ReservationID:  req.ReservationID,
		ProviderResult: outcome.ProviderResult,
	})
}

func (h *PulseHandler) EnqueuePulse(c *fiber.Ctx) error {
	rid := requestID(c)

	if status, errMsg := h.authenticate(c); status != fiber.StatusOK {
		return c.Status(status).JSON(enqueuePulseResponse{OK: false, RequestID: rid, Error: errMsg})
	}
	if h.enqueuer == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(enqueuePulseResponse{
			OK:        false,
			RequestID: rid,
			Error:     "outbox enqueue is not available on this deployment",
		})
	}

	var req sendPulseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(enqueuePulseResponse{
			OK:        false,
			RequestID: rid,
			Error:     "invalid request body",
		})
	}

	// Normalize with the deployment's country code before the job is
	// persisted: normalization is idempotent, so a wrong prefix here could
	// never be repaired on the dispatch path.
	job := requestToJob(req).Normalized(h.countryCode)
	if err := job.Validate(); err != nil {
		var violations domain.ValidationErrors
		if errors.As(err, &violations) {
			return c.Status(fiber.StatusBadRequest).JSON(enqueuePulseResponse{
				OK:        false,
				RequestID: rid,
				Error:     "Invalid payload",
				Details:   violations.Details(),
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(enqueuePulseResponse{
			OK:        false,
			RequestID: rid,
			Error:     err.Error(),
		})
	}

	if err := h.enqueuer.Enqueue(c.Context(), &job); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to enqueue job")
	}

	return c.Status(fiber.StatusAccepted).JSON(enqueuePulseResponse{
		OK:        true,
		RequestID: rid,
		OutboxID:  job.ID,
	})
}

// authenticate fails closed: a missing server-side key is a server error,
// never an open door.
func (h *PulseHandler) authenticate(c *fiber.Ctx) (int, string) {
	if h.apiKey == "" {
		return fiber.StatusInternalServerError, "pulse api key missing on server"
	}

	got := strings.TrimSpace(c.Get("x-api-key"))
	if got == "" || got != h.apiKey {
		return fiber.StatusUnauthorized, "invalid api key"
	}

	return fiber.StatusOK, ""
}

func sendPulseError(c *fiber.Ctx, rid string, err error) error {
	var violations domain.ValidationErrors
	if errors.As(err, &violations) {
		return c.Status(fiber.StatusBadRequest).JSON(sendPulseResponse{
			OK:        false,
			RequestID: rid,
			Error:     "Invalid payload",
			Details:   violations.Details(),
		})
	}

	if errors.Is(err, domain.ErrDelivery) {
		return c.Status(fiber.StatusBadGateway).JSON(sendPulseResponse{
			OK:        false,
			RequestID: rid,
			Error:     err.Error(),
		})
	}

	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}

func requestToJob(req sendPulseRequest) domain.PulseJob {
	return domain.PulseJob{
		ID:            strings.TrimSpace(req.OutboxID),
		Channel:       domain.Channel(req.Channel),
		Phone:         req.Phone,
		BusinessCode:  req.BusinessCode,
		PulseKind:     req.PulseKind,
		Message:       req.Message,
		Payload:       req.Payload,
		ReservationID: req.ReservationID,
	}
}

func requestID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	return "req_" + uuid.NewString()
}
