// Package storage provides the two-scope durable key-value store for pomod.
//
// The local scope is always available (sqlite on disk). The synced scope is
// an optional Redis backend shared across devices; every synced operation
// falls back to the local scope when the synced scope is missing or failing,
// so storage trouble degrades to device-local behavior instead of an error.
package storage

import (
	"context"

	"github.com/rs/zerolog/log"
)

// KV is the opaque key-value contract the core persists through:
// get, set, remove. No transactional guarantees across keys.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// SyncedStore is a KV over the synced scope with local-scope fallback.
//
// Writes go to both scopes; the local write is the one that must succeed,
// the synced write is best-effort. Reads prefer the synced scope and fall
// back to local on error or absence, so a value written during a sync outage
// is still found.
type SyncedStore struct {
	synced KV // nil when no synced backend is configured
	local  KV
}

// NewSyncedStore creates a synced-with-fallback store. synced may be nil.
func NewSyncedStore(synced, local KV) *SyncedStore {
	return &SyncedStore{synced: synced, local: local}
}

// Get reads key, preferring the synced scope.
func (s *SyncedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.synced != nil {
		value, ok, err := s.synced.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Synced read failed, falling back to local")
		} else if ok {
			return value, true, nil
		}
	}
	return s.local.Get(ctx, key)
}

// Set writes key to both scopes. A synced failure is logged and swallowed.
func (s *SyncedStore) Set(ctx context.Context, key string, value []byte) error {
	if s.synced != nil {
		if err := s.synced.Set(ctx, key, value); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Synced write failed, keeping local copy only")
		}
	}
	return s.local.Set(ctx, key, value)
}

// Remove deletes key from both scopes.
func (s *SyncedStore) Remove(ctx context.Context, key string) error {
	if s.synced != nil {
		if err := s.synced.Remove(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Synced remove failed")
		}
	}
	return s.local.Remove(ctx, key)
}
