package service

import (
	"context"
	"fmt"
	"time"

	"github.com/digiy/pulse-dispatch/internal/domain"
	"github.com/digiy/pulse-dispatch/internal/observability"
	"github.com/digiy/pulse-dispatch/internal/outbox"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize    = 10
	defaultPollInterval = 1500 * time.Millisecond
	defaultErrorBackoff = 3 * time.Second
	minConcurrency      = 1
)

// Dispatcher forwards one claimed job to the dispatch service.
type Dispatcher interface {
	Dispatch(ctx context.Context, job domain.PulseJob) (*domain.DispatchResult, error)
}

// WorkerService is the outbox polling loop: claim a batch, dispatch each job,
// acknowledge each outcome exactly once. The loop only stops on context
// cancellation; claim errors trigger an elevated backoff sleep and the loop
// resumes.
type WorkerService struct {
	queue        outbox.Queue
	dispatcher   Dispatcher
	logger       *zap.Logger
	metrics      *observability.Metrics
	name         string
	batchSize    int
	pollInterval time.Duration
	errorBackoff time.Duration
	concurrency  int
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewWorkerService(
	queue outbox.Queue,
	dispatcher Dispatcher,
	name string,
	batchSize int,
	pollInterval time.Duration,
	errorBackoff time.Duration,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if queue == nil {
		return nil, fmt.Errorf("outbox queue is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if errorBackoff <= pollInterval {
		errorBackoff = defaultErrorBackoff
	}
	if concurrency < minConcurrency {
		concurrency = minConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		queue:        queue,
		dispatcher:   dispatcher,
		logger:       logger,
		name:         name,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		errorBackoff: errorBackoff,
		concurrency:  concurrency,
		sleep:        sleepWithContext,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start runs the claim/dispatch/acknowledge loop until ctx is canceled.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.logger.Info("outbox worker started",
		zap.String("worker", s.name),
		zap.Int("batch", s.batchSize),
		zap.Duration("interval", s.pollInterval),
		zap.Int("concurrency", s.concurrency),
	)

	for {
		if ctx.Err() != nil {
			s.logger.Info("outbox worker stopped", zap.String("worker", s.name))
			return nil
		}

		jobs, err := s.queue.Claim(ctx, s.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("claim failed", zap.String("worker", s.name), zap.Error(err))
			if err := s.sleep(ctx, s.errorBackoff); err != nil {
				return nil
			}
			continue
		}

		if len(jobs) == 0 {
			if err := s.sleep(ctx, s.pollInterval); err != nil {
				return nil
			}
			continue
		}

		s.metrics.ObserveClaimBatchSize(len(jobs))
		s.processBatch(ctx, jobs)
	}
}

// processBatch dispatches every claimed job with per-job error isolation: a
// failing job becomes an acknowledge with ok=false and never aborts its
// batch siblings.
func (s *WorkerService) processBatch(ctx context.Context, jobs []domain.PulseJob) {
	if s.concurrency <= 1 {
		for i := range jobs {
			s.processJob(ctx, jobs[i])
		}
		return
	}

	g := &errgroup.Group{}
	g.SetLimit(s.concurrency)
	for i := range jobs {
		job := jobs[i]
		g.Go(func() error {
			s.processJob(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *WorkerService) processJob(ctx context.Context, job domain.PulseJob) {
	channelName := string(job.Channel)
	s.metrics.IncWorkerInFlight(channelName)
	defer s.metrics.DecWorkerInFlight(channelName)

	s.logger.Info("dispatching job",
		zap.String("outboxId", job.ID),
		zap.String("businessCode", job.BusinessCode),
		zap.String("pulseKind", job.PulseKind),
		zap.String("phone", job.Phone),
	)

	result, err := s.dispatcher.Dispatch(ctx, job)
	if err != nil {
		s.logger.Error("dispatch failed",
			zap.String("outboxId", job.ID),
			zap.Error(err),
		)
		s.metrics.IncPulseFailed(channelName, "dispatch_error")
		s.acknowledge(ctx, job.ID, outbox.Outcome{
			OK:             false,
			ProviderResult: map[string]any{},
			ErrorMessage:   err.Error(),
		})
		return
	}

	s.metrics.IncPulseSent(string(result.ChannelUsed))
	s.acknowledge(ctx, job.ID, outbox.Outcome{
		OK:             true,
		ProviderResult: result.ProviderResult,
	})
}

// acknowledge must run exactly once per claimed job. Its own failure is
// logged and swallowed: the job stays in-flight and the backend's expiry
// policy reclaims it.
func (s *WorkerService) acknowledge(ctx context.Context, id string, outcome outbox.Outcome) {
	if err := s.queue.Ack(ctx, id, outcome); err != nil {
		s.logger.Error("acknowledge failed, job remains in-flight until backend expiry",
			zap.String("outboxId", id),
			zap.Bool("ok", outcome.OK),
			zap.Error(err),
		)
		s.metrics.IncAckFailure()
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
