// Package outboxrpc implements the outbox queue port against a remote
// backend that exposes claim/acknowledge as atomic remote procedures. The
// backend owns all state transitions, including in-flight expiry.
package outboxrpc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/digiy/pulse-dispatch/internal/domain"
	"github.com/digiy/pulse-dispatch/internal/outbox"
	"github.com/go-resty/resty/v2"
)

const (
	defaultRPCTimeout = 10 * time.Second

	claimProcedure = "pulse_claim_batch"
	ackProcedure   = "pulse_ack"
)

var _ outbox.Queue = (*Client)(nil)

// Client calls the queue backend's RPC surface with a service-role key. The
// key is a worker-only credential and must never reach browser-side code.
type Client struct {
	client     *resty.Client
	baseURL    string
	workerName string
}

func NewClient(baseURL string, serviceKey string, workerName string) (*Client, error) {
	trimmedBase := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedBase == "" {
		return nil, fmt.Errorf("outbox rpc base url is required")
	}
	if strings.TrimSpace(serviceKey) == "" {
		return nil, fmt.Errorf("outbox rpc service key is required")
	}

	client := resty.New()
	client.SetTimeout(defaultRPCTimeout)
	client.SetRetryCount(0)
	client.SetHeader("apikey", serviceKey)
	client.SetHeader("Authorization", "Bearer "+serviceKey)
	client.SetHeader("Content-Type", "application/json")

	return &Client{
		client:     client,
		baseURL:    trimmedBase,
		workerName: strings.TrimSpace(workerName),
	}, nil
}

type claimRequest struct {
	Limit  int    `json:"p_limit"`
	Worker string `json:"p_worker,omitempty"`
}

type ackRequest struct {
	ID             string         `json:"p_id"`
	OK             bool           `json:"p_ok"`
	ProviderResult map[string]any `json:"p_provider_result"`
	Error          *string        `json:"p_error"`
}

func (c *Client) Claim(ctx context.Context, limit int) ([]domain.PulseJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	var jobs []domain.PulseJob
	response, err := c.client.R().
		SetContext(ctx).
		SetBody(claimRequest{Limit: limit, Worker: c.workerName}).
		SetResult(&jobs).
		Post(c.rpcURL(claimProcedure))
	if err != nil {
		return nil, fmt.Errorf("claim rpc failed: %w", err)
	}
	if !response.IsSuccess() {
		return nil, rpcError(claimProcedure, response)
	}

	return jobs, nil
}

func (c *Client) Ack(ctx context.Context, id string, outcome outbox.Outcome) error {
	req := ackRequest{
		ID:             id,
		OK:             outcome.OK,
		ProviderResult: outcome.ProviderResult,
	}
	if req.ProviderResult == nil {
		req.ProviderResult = map[string]any{}
	}
	if msg := strings.TrimSpace(outcome.ErrorMessage); msg != "" {
		req.Error = &msg
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		Post(c.rpcURL(ackProcedure))
	if err != nil {
		return fmt.Errorf("ack rpc failed: %w", err)
	}
	if !response.IsSuccess() {
		return rpcError(ackProcedure, response)
	}

	return nil
}

func (c *Client) rpcURL(procedure string) string {
	return fmt.Sprintf("%s/rpc/%s", c.baseURL, procedure)
}

func rpcError(procedure string, response *resty.Response) error {
	body := strings.TrimSpace(response.String())
	if len(body) > 400 {
		body = body[:400]
	}
	return fmt.Errorf("%s rpc returned HTTP_%d: %s", procedure, response.StatusCode(), body)
}
