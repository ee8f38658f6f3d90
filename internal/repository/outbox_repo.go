package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/digiy/pulse-dispatch/internal/domain"
	"github.com/digiy/pulse-dispatch/internal/outbox"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultVisibilityTimeout = time.Minute
	defaultMaxAttempts       = 5

	baseRetryDelay = 30 * time.Second
	maxRetryDelay  = 15 * time.Minute
)

var _ outbox.Queue = (*OutboxRepo)(nil)

// OutboxRepo is the Postgres-backed queue backend. Claim is the sole
// serialization point between concurrent workers: FOR UPDATE SKIP LOCKED
// guarantees a job is handed to at most one claimer, and in-flight rows older
// than the visibility timeout become claimable again so a crashed worker
// never strands work.
type OutboxRepo struct {
	db          *gorm.DB
	claimedBy   string
	visibility  time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewOutboxRepo(db *gorm.DB, claimedBy string, visibility time.Duration, maxAttempts int) *OutboxRepo {
	if strings.TrimSpace(claimedBy) == "" {
		claimedBy = "pulse-worker"
	}
	if visibility <= 0 {
		visibility = defaultVisibilityTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &OutboxRepo{
		db:          db,
		claimedBy:   claimedBy,
		visibility:  visibility,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Enqueue inserts a pending job. The queue assigns the id when the producer
// did not provide one.
func (r *OutboxRepo) Enqueue(ctx context.Context, job *domain.PulseJob) error {
	model := outboxModelFromJob(job)
	if model == nil {
		return nil
	}

	if strings.TrimSpace(model.ID) == "" {
		model.ID = uuid.NewString()
	}
	model.MaxAttempts = r.maxAttempts

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}

	job.ID = model.ID
	return nil
}

func (r *OutboxRepo) Claim(ctx context.Context, limit int) ([]domain.PulseJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := r.now().UTC()
	reclaimCutoff := now.Add(-r.visibility)

	var models []OutboxJobModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := withRowLock(tx, "SKIP LOCKED").
			Where(
				"(status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)) OR (status = ? AND claimed_at <= ?)",
				StatusPending, now, StatusInflight, reclaimCutoff,
			).
			Order("created_at ASC").
			Limit(limit).
			Find(&models).Error
		if err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}

		ids := make([]string, 0, len(models))
		for i := range models {
			ids = append(ids, models[i].ID)
		}

		return tx.Model(&OutboxJobModel{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     StatusInflight,
				"claimed_at": now,
				"claimed_by": r.claimedBy,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.PulseJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, outboxModelToJob(&models[i]))
	}
	return jobs, nil
}

func (r *OutboxRepo) Ack(ctx context.Context, id string, outcome outbox.Outcome) error {
	if outcome.OK {
		return r.ackSent(ctx, id, outcome)
	}
	return r.ackFailure(ctx, id, outcome)
}

func (r *OutboxRepo) ackSent(ctx context.Context, id string, outcome outbox.Outcome) error {
	result := r.db.WithContext(ctx).
		Model(&OutboxJobModel{}).
		Where("id = ? AND status = ?", id, StatusInflight).
		Updates(map[string]any{
			"status":          StatusSent,
			"provider_result": JSONMap(outcome.ProviderResult),
			"last_error":      nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *OutboxRepo) ackFailure(ctx context.Context, id string, outcome outbox.Outcome) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model OutboxJobModel
		err := withRowLock(tx, "").
			First(&model, "id = ? AND status = ?", id, StatusInflight).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		attempts := model.AttemptCount + 1
		maxAttempts := model.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = r.maxAttempts
		}

		updates := map[string]any{
			"attempt_count": attempts,
			"claimed_at":    nil,
			"claimed_by":    nil,
		}
		if msg := strings.TrimSpace(outcome.ErrorMessage); msg != "" {
			updates["last_error"] = msg
		}

		if attempts >= maxAttempts {
			updates["status"] = StatusFailed
		} else {
			updates["status"] = StatusPending
			updates["next_attempt_at"] = r.now().UTC().Add(retryDelay(attempts))
		}

		return tx.Model(&model).Updates(updates).Error
	})
}

// withRowLock adds FOR UPDATE on dialects that have it. sqlite serializes
// writers on its own and rejects the syntax, so the clause is skipped there.
func withRowLock(tx *gorm.DB, options string) *gorm.DB {
	if tx.Dialector.Name() != "postgres" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE", Options: options})
}

// retryDelay doubles per attempt from the base delay, capped.
func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
