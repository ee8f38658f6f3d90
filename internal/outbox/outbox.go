// Package outbox defines the queue backend port consumed by the worker. The
// backend owns all job state transitions; a claim hands at most one worker a
// transient view of each job, and every claimed job must be acknowledged
// exactly once.
package outbox

import (
	"context"

	"github.com/digiy/pulse-dispatch/internal/domain"
)

// Outcome reports a claimed job's per-attempt result back to the queue.
type Outcome struct {
	OK             bool
	ProviderResult map[string]any
	ErrorMessage   string
}

// Queue is the claim/acknowledge contract of the durable job store. Claim
// atomically marks up to limit pending jobs in-flight and returns them to
// exactly one caller; an empty result is not an error. Ack drives the job to
// sent, retry-pending, or permanently failed.
type Queue interface {
	Claim(ctx context.Context, limit int) ([]domain.PulseJob, error)
	Ack(ctx context.Context, id string, outcome Outcome) error
}
