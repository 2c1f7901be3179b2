package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyStore persists processed webhook delivery keys. It is the first
// line of defence against double-delivered marketplace events; the ledger's
// own unique constraint is the backstop.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// ErrIdempotencyConflict indicates the delivery key was already recorded.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// CheckAndInsert records a delivery key, failing with ErrIdempotencyConflict
// when the key has been seen before on any channel.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, channel string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("delivery key required")
	}
	if channel == "" {
		return errors.New("channel required")
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_delivery_keys (delivery_key, channel, received_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (delivery_key) DO NOTHING`,
		key, channel, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// Cleanup removes delivery keys older than retention. Connectors never retry
// a delivery that far back, so expired keys only cost storage.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM webhook_delivery_keys WHERE received_at < $1`, cutoff)
	return err
}

// Delete removes a delivery key so the channel may redeliver after a failed
// run.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("delivery key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM webhook_delivery_keys WHERE delivery_key=$1`, key)
	return err
}
