package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsPipelineCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncPulseSent("SMS")
	metrics.IncPulseFailed("sms", "delivery_error")
	metrics.IncFallback("whatsapp", "sms")
	metrics.ObserveProviderSendDuration("sms", 120*time.Millisecond)
	metrics.ObserveClaimBatchSize(7)
	metrics.IncWorkerInFlight("sms")
	metrics.DecWorkerInFlight("sms")
	metrics.IncAckFailure()

	if got := testutil.ToFloat64(metrics.pulsesSentTotal.WithLabelValues("sms")); got != 1 {
		t.Fatalf("pulses_sent_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.pulsesFailedTotal.WithLabelValues("sms", "delivery_error")); got != 1 {
		t.Fatalf("pulses_failed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.fallbackTotal.WithLabelValues("whatsapp", "sms")); got != 1 {
		t.Fatalf("fallback_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.workerInflight.WithLabelValues("sms")); got != 0 {
		t.Fatalf("worker_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.ackFailuresTotal); got != 1 {
		t.Fatalf("ack_failures_total = %v, want 1", got)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncPulseSent("sms")
	metrics.IncPulseFailed("sms", "x")
	metrics.IncFallback("whatsapp", "sms")
	metrics.ObserveProviderSendDuration("sms", time.Second)
	metrics.ObserveClaimBatchSize(1)
	metrics.IncWorkerInFlight("sms")
	metrics.DecWorkerInFlight("sms")
	metrics.IncAckFailure()
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
