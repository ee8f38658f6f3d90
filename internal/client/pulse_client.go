package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/digiy/pulse-dispatch/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const (
	defaultDispatchTimeout = 15 * time.Second

	// diagnosticBodyLimit bounds how much of an unparseable response body is
	// kept as error detail.
	diagnosticBodyLimit = 400
)

type sendRequest struct {
	Channel       string         `json:"channel"`
	Phone         string         `json:"phone"`
	BusinessCode  string         `json:"business_code"`
	PulseKind     string         `json:"pulse_kind"`
	Message       string         `json:"message"`
	Payload       map[string]any `json:"payload"`
	OutboxID      string         `json:"outbox_id,omitempty"`
	ReservationID string         `json:"reservation_id,omitempty"`
}

// PulseClient forwards claimed jobs to the dispatch service. Every call
// carries the shared credential and a fresh per-attempt request id distinct
// from the job's own id.
type PulseClient struct {
	client       *resty.Client
	baseURL      string
	apiKey       string
	workerName   string
	newRequestID func() string
}

func NewPulseClient(baseURL string, apiKey string, workerName string, timeout time.Duration) (*PulseClient, error) {
	trimmedBase := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedBase == "" {
		return nil, fmt.Errorf("pulse api base url is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("pulse api key is required")
	}
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}

	restyClient := resty.New()
	restyClient.SetTimeout(timeout)
	restyClient.SetRetryCount(0)

	c := &PulseClient{
		client:     restyClient,
		baseURL:    trimmedBase,
		apiKey:     apiKey,
		workerName: strings.TrimSpace(workerName),
	}
	c.newRequestID = c.defaultRequestID

	return c, nil
}

// Dispatch issues one synchronous send attempt for a claimed job. Any
// non-success status or malformed response body is a failure; the caller
// turns it into an acknowledge with ok=false.
func (c *PulseClient) Dispatch(ctx context.Context, job domain.PulseJob) (*domain.DispatchResult, error) {
	payload := job.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	body := sendRequest{
		Channel:       string(job.Channel),
		Phone:         job.Phone,
		BusinessCode:  job.BusinessCode,
		PulseKind:     job.PulseKind,
		Message:       job.Message,
		Payload:       payload,
		OutboxID:      job.ID,
		ReservationID: job.ReservationID,
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-api-key", c.apiKey).
		SetHeader("x-request-id", c.newRequestID()).
		SetBody(body).
		Post(c.baseURL + "/pulse/send")
	if err != nil {
		return nil, fmt.Errorf("dispatch request failed: %w", err)
	}

	text := response.String()

	var result domain.DispatchResult
	parseErr := json.Unmarshal([]byte(text), &result)

	if !response.IsSuccess() {
		if parseErr == nil && strings.TrimSpace(result.Error) != "" {
			return nil, fmt.Errorf("dispatch rejected: %s", result.Error)
		}
		return nil, fmt.Errorf("HTTP_%d: %s", response.StatusCode(), truncate(text, diagnosticBodyLimit))
	}

	if parseErr != nil {
		return nil, fmt.Errorf("malformed dispatch response: %s", truncate(text, diagnosticBodyLimit))
	}
	if !result.OK {
		return nil, fmt.Errorf("dispatch reported failure: %s", result.Error)
	}

	return &result, nil
}

func (c *PulseClient) defaultRequestID() string {
	return fmt.Sprintf("wk_%s_%s", c.workerName, uuid.NewString())
}

// truncate cuts on rune boundaries so multi-byte characters in a provider's
// error body are never split mid-sequence.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
