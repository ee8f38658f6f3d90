package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/digiy/pulse-dispatch/internal/domain"
	"github.com/digiy/pulse-dispatch/internal/outbox"
	"go.uber.org/zap"
)

type fakeQueue struct {
	mu      sync.Mutex
	claimFn func(ctx context.Context, limit int) ([]domain.PulseJob, error)
	ackFn   func(ctx context.Context, id string, outcome outbox.Outcome) error
	acks    []ackCall
}

type ackCall struct {
	id      string
	outcome outbox.Outcome
}

func (f *fakeQueue) Claim(ctx context.Context, limit int) ([]domain.PulseJob, error) {
	if f.claimFn != nil {
		return f.claimFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeQueue) Ack(ctx context.Context, id string, outcome outbox.Outcome) error {
	f.mu.Lock()
	f.acks = append(f.acks, ackCall{id: id, outcome: outcome})
	f.mu.Unlock()

	if f.ackFn != nil {
		return f.ackFn(ctx, id, outcome)
	}
	return nil
}

func (f *fakeQueue) ackCalls() []ackCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ackCall(nil), f.acks...)
}

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []string
	dispatchFn func(ctx context.Context, job domain.PulseJob) (*domain.DispatchResult, error)
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, job domain.PulseJob) (*domain.DispatchResult, error) {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, job.ID)
	f.mu.Unlock()

	if f.dispatchFn != nil {
		return f.dispatchFn(ctx, job)
	}
	return &domain.DispatchResult{OK: true, ChannelUsed: domain.ChannelSMS}, nil
}

func (f *fakeDispatcher) dispatchedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dispatched...)
}

func batchOf(ids ...string) []domain.PulseJob {
	jobs := make([]domain.PulseJob, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, domain.PulseJob{
			ID:           id,
			Channel:      domain.ChannelSMS,
			Phone:        "+221771234567",
			BusinessCode: "SALY01",
			PulseKind:    "J-1",
			Message:      "Rappel",
		})
	}
	return jobs
}

func newWorker(t *testing.T, queue outbox.Queue, dispatcher Dispatcher, concurrency int) *WorkerService {
	t.Helper()

	w, err := NewWorkerService(queue, dispatcher, "test-worker", 10, 10*time.Millisecond, 50*time.Millisecond, concurrency, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}
	return w
}

func TestWorkerProcessBatchIsolatesFailingJob(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	dispatcher := &fakeDispatcher{dispatchFn: func(ctx context.Context, job domain.PulseJob) (*domain.DispatchResult, error) {
		if job.ID == "j2" {
			return nil, errors.New("HTTP_502: all providers failed")
		}
		return &domain.DispatchResult{
			OK:             true,
			ChannelUsed:    domain.ChannelSMS,
			ProviderResult: map[string]any{"provider": "stub-sms"},
		}, nil
	}}

	worker := newWorker(t, queue, dispatcher, 1)
	worker.processBatch(context.Background(), batchOf("j1", "j2", "j3"))

	acks := queue.ackCalls()
	if len(acks) != 3 {
		t.Fatalf("ack count = %d, want exactly one ack per claimed job", len(acks))
	}

	byID := map[string]outbox.Outcome{}
	for _, a := range acks {
		byID[a.id] = a.outcome
	}

	if !byID["j1"].OK || !byID["j3"].OK {
		t.Fatal("jobs j1 and j3 should be acknowledged as sent")
	}
	if byID["j2"].OK {
		t.Fatal("job j2 should be acknowledged as failed")
	}
	if !strings.Contains(byID["j2"].ErrorMessage, "HTTP_502") {
		t.Fatalf("j2 error = %q, want dispatch diagnostic", byID["j2"].ErrorMessage)
	}
	if byID["j1"].ProviderResult["provider"] != "stub-sms" {
		t.Fatalf("j1 provider result = %v, want stub-sms", byID["j1"].ProviderResult)
	}
}

func TestWorkerProcessBatchConcurrent(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	dispatcher := &fakeDispatcher{dispatchFn: func(ctx context.Context, job domain.PulseJob) (*domain.DispatchResult, error) {
		if job.ID == "j2" {
			return nil, errors.New("boom")
		}
		return &domain.DispatchResult{OK: true, ChannelUsed: domain.ChannelSMS}, nil
	}}

	worker := newWorker(t, queue, dispatcher, 4)
	worker.processBatch(context.Background(), batchOf("j1", "j2", "j3", "j4", "j5"))

	if got := len(queue.ackCalls()); got != 5 {
		t.Fatalf("ack count = %d, want 5 under concurrent dispatch", got)
	}
}

func TestWorkerEmptyClaimOnlyIdles(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	var claims int
	queue := &fakeQueue{claimFn: func(ctx context.Context, limit int) ([]domain.PulseJob, error) {
		claims++
		return nil, nil
	}}
	dispatcher := &fakeDispatcher{}

	worker := newWorker(t, queue, dispatcher, 1)

	var idleSleeps int
	worker.sleep = func(ctx context.Context, d time.Duration) error {
		idleSleeps++
		if idleSleeps >= 3 {
			cancel()
		}
		return nil
	}

	if err := worker.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if len(dispatcher.dispatchedIDs()) != 0 {
		t.Fatal("empty claims must never trigger a dispatch")
	}
	if claims < 3 {
		t.Fatalf("claims = %d, want the loop to keep polling", claims)
	}
}

func TestWorkerClaimErrorTriggersElevatedBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	queue := &fakeQueue{claimFn: func(ctx context.Context, limit int) ([]domain.PulseJob, error) {
		return nil, errors.New("backend unavailable")
	}}
	worker := newWorker(t, queue, &fakeDispatcher{}, 1)

	var sleeps []time.Duration
	worker.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		if len(sleeps) >= 2 {
			cancel()
		}
		return nil
	}

	if err := worker.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v, claim errors must not stop the loop", err)
	}

	for _, d := range sleeps {
		if d != worker.errorBackoff {
			t.Fatalf("sleep = %v, want elevated backoff %v", d, worker.errorBackoff)
		}
	}
	if worker.errorBackoff <= worker.pollInterval {
		t.Fatal("error backoff should exceed the idle interval")
	}
}

func TestWorkerBatchThenIdle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	var claims int
	queue := &fakeQueue{claimFn: func(ctx context.Context, limit int) ([]domain.PulseJob, error) {
		claims++
		if claims == 1 {
			return batchOf("j1", "j2"), nil
		}
		return nil, nil
	}}
	dispatcher := &fakeDispatcher{}
	worker := newWorker(t, queue, dispatcher, 1)
	worker.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	if err := worker.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if got := dispatcher.dispatchedIDs(); len(got) != 2 {
		t.Fatalf("dispatched = %v, want both jobs processed before the idle sleep", got)
	}
	if got := len(queue.ackCalls()); got != 2 {
		t.Fatalf("ack count = %d, want 2", got)
	}
}

func TestWorkerAckFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{ackFn: func(ctx context.Context, id string, outcome outbox.Outcome) error {
		return errors.New("ack rpc failed")
	}}
	worker := newWorker(t, queue, &fakeDispatcher{}, 1)

	// Must not panic or abort the batch.
	worker.processBatch(context.Background(), batchOf("j1", "j2"))

	if got := len(queue.ackCalls()); got != 2 {
		t.Fatalf("ack attempts = %d, want one per job even when acks fail", got)
	}
}
