package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrLeaseLost is returned when a job is no longer leased by the caller.
var ErrLeaseLost = errors.New("queue: lease lost")

// Store persists jobs and moves them through their lease lifecycle. Every
// transition is a conditional update on status and lease owner so concurrent
// consumers never both win the same job.
type Store struct {
	db          *gorm.DB
	maxAttempts int
	now         func() time.Time
}

// NewStore constructs a job store. maxAttempts applies to newly enqueued jobs.
func NewStore(db *gorm.DB, maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Store{db: db, maxAttempts: maxAttempts, now: func() time.Time { return time.Now().UTC() }}
}

// WithTx returns a store bound to tx so enqueueing commits with the caller's writes.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, maxAttempts: s.maxAttempts, now: s.now}
}

// Migrate creates the job table.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Job{})
}

// Enqueue stores a pending job. When dedupeKey is non-empty and a job with the
// same key exists, the call is a no-op.
func (s *Store) Enqueue(ctx context.Context, name, dedupeKey string, payload map[string]interface{}) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("job name is required")
	}

	job := Job{
		Name:          name,
		Payload:       datatypes.JSONMap(payload),
		Status:        StatusPending,
		MaxAttempts:   s.maxAttempts,
		NextAttemptAt: s.now(),
	}
	if key := strings.TrimSpace(dedupeKey); key != "" {
		job.DedupeKey = &key
	}
	if job.Payload == nil {
		job.Payload = datatypes.JSONMap{}
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).
		Create(&job).Error
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	return nil
}

// Get returns one job by id.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	var job Job
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return Job{}, err
	}
	return job, nil
}

// Lease claims up to limit due jobs for consumer. A job is due when it is
// pending and its next attempt time has passed, or when it is leased, its lease
// expired and it still has attempts left. Leasing counts as an attempt.
func (s *Store) Lease(ctx context.Context, consumer string, limit int, leaseTTL time.Duration) ([]Delivery, error) {
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return nil, fmt.Errorf("consumer is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	if leaseTTL <= 0 {
		return nil, fmt.Errorf("lease ttl must be greater than zero")
	}

	now := s.now()
	expires := now.Add(leaseTTL)

	var candidates []Job
	if err := s.db.WithContext(ctx).
		Where(s.dueClause(now)).
		Order("next_attempt_at ASC, created_at ASC, id ASC").
		Limit(limit).
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("select lease candidates: %w", err)
	}

	deliveries := make([]Delivery, 0, len(candidates))
	for _, candidate := range candidates {
		result := s.db.WithContext(ctx).
			Model(&Job{}).
			Where("id = ?", candidate.ID).
			Where(s.dueClause(now)).
			Updates(map[string]interface{}{
				"status":           StatusLeased,
				"lease_owner":      consumer,
				"lease_expires_at": expires,
				"attempts":         gorm.Expr("attempts + 1"),
				"updated_at":       now,
			})
		if result.Error != nil {
			return deliveries, fmt.Errorf("lease job %s: %w", candidate.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			continue
		}

		deliveries = append(deliveries, Delivery{
			JobID:       candidate.ID,
			Name:        candidate.Name,
			Payload:     map[string]interface{}(candidate.Payload),
			Attempt:     candidate.Attempts + 1,
			MaxAttempts: candidate.MaxAttempts,
		})
	}

	return deliveries, nil
}

func (s *Store) dueClause(now time.Time) *gorm.DB {
	return s.db.
		Where("status = ? AND next_attempt_at <= ?", StatusPending, now).
		Or("status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ? AND attempts < max_attempts", StatusLeased, now)
}

// Ack marks a leased job done.
func (s *Store) Ack(ctx context.Context, id, consumer string) error {
	now := s.now()
	return s.transition(ctx, id, consumer, map[string]interface{}{
		"status":           StatusDone,
		"lease_owner":      "",
		"lease_expires_at": nil,
		"processed_at":     now,
		"updated_at":       now,
	})
}

// Retry releases a leased job back to pending, due at next.
func (s *Store) Retry(ctx context.Context, id, consumer string, next time.Time, cause error) error {
	return s.transition(ctx, id, consumer, map[string]interface{}{
		"status":           StatusPending,
		"lease_owner":      "",
		"lease_expires_at": nil,
		"next_attempt_at":  next.UTC(),
		"last_error":       truncateError(cause),
		"updated_at":       s.now(),
	})
}

// Dead moves a leased job to the terminal dead status.
func (s *Store) Dead(ctx context.Context, id, consumer string, cause error) error {
	now := s.now()
	return s.transition(ctx, id, consumer, map[string]interface{}{
		"status":           StatusDead,
		"lease_owner":      "",
		"lease_expires_at": nil,
		"last_error":       truncateError(cause),
		"processed_at":     now,
		"updated_at":       now,
	})
}

func (s *Store) transition(ctx context.Context, id, consumer string, updates map[string]interface{}) error {
	result := s.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND status = ? AND lease_owner = ?", id, StatusLeased, consumer).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update job %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// ReapExhausted moves jobs whose final lease expired without an outcome to
// dead and returns them so their owners can record the failure.
func (s *Store) ReapExhausted(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	now := s.now()

	var candidates []Job
	if err := s.db.WithContext(ctx).
		Where("status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ? AND attempts >= max_attempts", StatusLeased, now).
		Order("lease_expires_at ASC").
		Limit(limit).
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("select exhausted jobs: %w", err)
	}

	reaped := make([]Job, 0, len(candidates))
	for _, job := range candidates {
		result := s.db.WithContext(ctx).
			Model(&Job{}).
			Where("id = ? AND status = ? AND lease_expires_at <= ?", job.ID, StatusLeased, now).
			Updates(map[string]interface{}{
				"status":           StatusDead,
				"lease_owner":      "",
				"lease_expires_at": nil,
				"last_error":       "lease expired on final attempt",
				"processed_at":     now,
				"updated_at":       now,
			})
		if result.Error != nil {
			return reaped, fmt.Errorf("reap job %s: %w", job.ID, result.Error)
		}
		if result.RowsAffected == 1 {
			job.Status = StatusDead
			reaped = append(reaped, job)
		}
	}

	return reaped, nil
}
