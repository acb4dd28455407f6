package sqlstore

import (
	"context"
	"fmt"
	"time"
)

const upsertState = `
	INSERT INTO run_state (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

func (t *txStore) SetState(ctx context.Context, key, value string) error {
	if _, err := t.q.exec(ctx, upsertState, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("sqlstore: set state %s: %w", key, err)
	}
	return nil
}

// SetState writes one run-state key outside a transaction.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	if _, err := s.q().exec(ctx, upsertState, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("sqlstore: set state %s: %w", key, err)
	}
	return nil
}

// GetState returns domain.ErrNotFound for unknown keys.
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var v string
	if err := s.q().queryRow(ctx, `SELECT value FROM run_state WHERE key = ?`, key).Scan(&v); err != nil {
		return "", fmt.Errorf("sqlstore: get state %s: %w", key, notFound(err))
	}
	return v, nil
}
