package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lun1tunes/instachatico/internal/core/domain"
)

const deadLetterTTL = 7 * 24 * time.Hour

// DeadLetterRepo keeps units of work that exhausted their retries.
type DeadLetterRepo struct {
	rdb *redis.Client
}

// NewDeadLetterRepo creates a Redis-backed dead-letter store.
func NewDeadLetterRepo(client *Client) *DeadLetterRepo {
	return &DeadLetterRepo{rdb: client.rdb}
}

// Add stores a dead letter, ordered by creation time.
func (r *DeadLetterRepo) Add(ctx context.Context, dl *domain.DeadLetter) error {
	if dl.ID == "" {
		dl.ID = uuid.NewString()
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	if err := r.rdb.Set(ctx, deadLetterKey(dl.ID), data, deadLetterTTL).Err(); err != nil {
		return fmt.Errorf("failed to set dead letter: %w", err)
	}

	if err := r.rdb.ZAdd(ctx, deadLetterQueueKey(), redis.Z{
		Score:  float64(dl.CreatedAt.UnixMilli()),
		Member: dl.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to dead letter index: %w", err)
	}

	return nil
}

// List returns up to limit dead letters, newest first.
func (r *DeadLetterRepo) List(ctx context.Context, limit int) ([]*domain.DeadLetter, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.rdb.ZRevRange(ctx, deadLetterQueueKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange failed: %w", err)
	}

	letters := make([]*domain.DeadLetter, 0, len(ids))
	for _, id := range ids {
		data, err := r.rdb.Get(ctx, deadLetterKey(id)).Bytes()
		if err == redis.Nil {
			// Payload expired but id still indexed
			r.rdb.ZRem(ctx, deadLetterQueueKey(), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get dead letter: %w", err)
		}

		var dl domain.DeadLetter
		if err := json.Unmarshal(data, &dl); err != nil {
			continue
		}
		letters = append(letters, &dl)
	}

	return letters, nil
}

// Remove deletes a dead letter (e.g. after a manual requeue).
func (r *DeadLetterRepo) Remove(ctx context.Context, id string) error {
	if err := r.rdb.ZRem(ctx, deadLetterQueueKey(), id).Err(); err != nil {
		return fmt.Errorf("failed to remove from dead letter index: %w", err)
	}
	if err := r.rdb.Del(ctx, deadLetterKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}
	return nil
}

// Count returns the number of indexed dead letters.
func (r *DeadLetterRepo) Count(ctx context.Context) (int, error) {
	count, err := r.rdb.ZCard(ctx, deadLetterQueueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}
