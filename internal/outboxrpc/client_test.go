package outboxrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/digiy/pulse-dispatch/internal/outbox"
)

func TestClientClaim(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rpc/pulse_claim_batch" {
			t.Errorf("path = %s, want /rpc/pulse_claim_batch", r.URL.Path)
		}
		if got := r.Header.Get("apikey"); got != "service-key" {
			t.Errorf("apikey header = %q, want service-key", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer service-key" {
			t.Errorf("Authorization header = %q, want bearer key", got)
		}

		var req claimRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode claim request: %v", err)
		}
		if req.Limit != 10 {
			t.Errorf("p_limit = %d, want 10", req.Limit)
		}
		if req.Worker != "pulse-worker-1" {
			t.Errorf("p_worker = %q, want pulse-worker-1", req.Worker)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"j1","channel":"sms","phone":"+221771234567","business_code":"SALY01","pulse_kind":"J-1","message":"Rappel"}]`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "service-key", "pulse-worker-1")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	jobs, err := client.Claim(context.Background(), 10)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("len(jobs) = %d, want 1", len(jobs))
	}
	if jobs[0].ID != "j1" || jobs[0].BusinessCode != "SALY01" {
		t.Fatalf("job = %+v, want j1/SALY01", jobs[0])
	}
}

func TestClientClaimZeroLimit(t *testing.T) {
	t.Parallel()

	client, err := NewClient("http://127.0.0.1:1", "service-key", "w")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	jobs, err := client.Claim(context.Background(), 0)
	if err != nil {
		t.Fatalf("Claim(0) error = %v", err)
	}
	if jobs != nil {
		t.Fatalf("Claim(0) = %v, want nil without network call", jobs)
	}
}

func TestClientAck(t *testing.T) {
	t.Parallel()

	var gotReq ackRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rpc/pulse_ack" {
			t.Errorf("path = %s, want /rpc/pulse_ack", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("failed to decode ack request: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "service-key", "w")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	err = client.Ack(context.Background(), "j1", outbox.Outcome{
		OK:           false,
		ErrorMessage: "send failed",
	})
	if err != nil {
		t.Fatalf("Ack() error = %v", err)
	}

	if gotReq.ID != "j1" {
		t.Fatalf("p_id = %q, want j1", gotReq.ID)
	}
	if gotReq.OK {
		t.Fatal("p_ok = true, want false")
	}
	if gotReq.ProviderResult == nil {
		t.Fatal("p_provider_result should default to an empty object")
	}
	if gotReq.Error == nil || *gotReq.Error != "send failed" {
		t.Fatalf("p_error = %v, want send failed", gotReq.Error)
	}
}

func TestClientErrorTruncatesBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "service-key", "w")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = client.Claim(context.Background(), 5)
	if err == nil {
		t.Fatal("Claim() should fail for HTTP 500")
	}
	if !strings.Contains(err.Error(), "HTTP_500") {
		t.Fatalf("error %q should carry the HTTP status", err)
	}
	if len(err.Error()) > 500 {
		t.Fatalf("error body not truncated: %d chars", len(err.Error()))
	}
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient("", "key", "w"); err == nil {
		t.Fatal("empty base url should fail")
	}
	if _, err := NewClient("http://localhost:1", "", "w"); err == nil {
		t.Fatal("empty service key should fail")
	}
}
