package sqlite

import (
	"context"
	"database/sql"
	"time"
)

// KVStore provides the opaque key-value operations the timer core persists
// through: get, set, remove. No transactional guarantees across keys.
type KVStore struct {
	store *Store
}

// NewKVStore creates a new key-value store.
func NewKVStore(store *Store) *KVStore {
	return &KVStore{store: store}
}

// Get returns the value for key. The second return is false when the key is
// absent.
func (k *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	const query = `SELECT value FROM kv WHERE key = ?`

	var value []byte
	err := k.store.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set stores value under key, replacing any existing value.
func (k *KVStore) Set(ctx context.Context, key string, value []byte) error {
	const query = `
		INSERT INTO kv (key, value, updated_at_epoch)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at_epoch = excluded.updated_at_epoch
	`
	_, err := k.store.ExecContext(ctx, query, key, value, time.Now().UnixMilli())
	return err
}

// Remove deletes key. Removing an absent key is not an error.
func (k *KVStore) Remove(ctx context.Context, key string) error {
	const query = `DELETE FROM kv WHERE key = ?`
	_, err := k.store.ExecContext(ctx, query, key)
	return err
}
