package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/digiy/pulse-dispatch/internal/domain"
	"github.com/go-resty/resty/v2"
)

func TestWebhookProviderSendSuccess(t *testing.T) {
	t.Parallel()

	var gotBody webhookRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.Header().Set("X-Message-ID", "provider-msg-1")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	p, err := NewWebhookProvider(server.URL, domain.ChannelSMS)
	if err != nil {
		t.Fatalf("NewWebhookProvider() error = %v", err)
	}

	result, err := p.Send(context.Background(), "+221771234567", "Rappel", SendMeta{
		BusinessCode: "SALY01",
		PulseKind:    "J-1",
	})
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if result.MessageID != "provider-msg-1" {
		t.Fatalf("MessageID = %q, want provider-msg-1", result.MessageID)
	}
	if result.Provider != "webhook-sms" {
		t.Fatalf("Provider = %q, want webhook-sms", result.Provider)
	}

	if gotBody.To != "+221771234567" {
		t.Fatalf("request.to = %q, want +221771234567", gotBody.To)
	}
	if gotBody.Channel != "sms" {
		t.Fatalf("request.channel = %q, want sms", gotBody.Channel)
	}
	if gotBody.BusinessCode != "SALY01" {
		t.Fatalf("request.business_code = %q, want SALY01", gotBody.BusinessCode)
	}
}

func TestWebhookProviderStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("provider failed"))
			}))
			defer server.Close()

			p, err := NewWebhookProvider(server.URL, domain.ChannelWhatsApp)
			if err != nil {
				t.Fatalf("NewWebhookProvider() error = %v", err)
			}

			_, err = p.Send(context.Background(), "+221771234567", "Rappel", SendMeta{})
			if err == nil {
				t.Fatal("Send() should fail for non-2xx status")
			}

			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("error type = %T, want *ProviderError", err)
			}
			if providerErr.StatusCode != tc.statusCode {
				t.Fatalf("StatusCode = %d, want %d", providerErr.StatusCode, tc.statusCode)
			}
			if IsTransient(err) != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", IsTransient(err), tc.wantTransient)
			}
		})
	}
}

func TestWebhookProviderTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(20 * time.Millisecond)

	p, err := NewWebhookProviderWithClient(server.URL, domain.ChannelSMS, client)
	if err != nil {
		t.Fatalf("NewWebhookProviderWithClient() error = %v", err)
	}

	_, err = p.Send(context.Background(), "+221771234567", "Rappel", SendMeta{})
	if err == nil {
		t.Fatal("Send() should fail on timeout")
	}
	if !IsTransient(err) {
		t.Fatalf("timeout should classify as transient, got %v", err)
	}
}

func TestNewWebhookProviderValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewWebhookProvider("", domain.ChannelSMS); err == nil {
		t.Fatal("empty endpoint should fail")
	}
	if _, err := NewWebhookProvider("not a url", domain.ChannelSMS); err == nil {
		t.Fatal("invalid endpoint should fail")
	}
	if _, err := NewWebhookProviderWithClient("http://localhost:1", domain.ChannelSMS, nil); err == nil {
		t.Fatal("nil client should fail")
	}
}
