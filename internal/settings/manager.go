// Package settings owns the mutable pomodoro durations, persisted to the
// synced storage scope.
package settings

import (
	"context"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/pomodui/pomod/internal/storage"
	"github.com/pomodui/pomod/pkg/models"
	"github.com/rs/zerolog/log"
)

const settingsKey = "settings"

// Manager serves the current durations and persists user updates. The
// in-memory copy stays authoritative when storage fails.
type Manager struct {
	mu      sync.RWMutex
	current models.Settings
	userSet bool // true once an explicit update (stored or received) exists
	store   storage.KV
}

// NewManager loads persisted settings, falling back to the given defaults
// (typically the daemon config's timer section).
func NewManager(ctx context.Context, store storage.KV, fallback models.Settings) *Manager {
	m := &Manager{current: fallback, store: store}

	data, ok, err := store.Get(ctx, settingsKey)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load settings, using defaults")
		return m
	}
	if !ok {
		return m
	}

	var stored models.Settings
	if err := json.Unmarshal(data, &stored); err != nil {
		log.Warn().Err(err).Msg("Corrupt stored settings, using defaults")
		return m
	}
	if err := stored.Validate(); err != nil {
		log.Warn().Err(err).Msg("Invalid stored settings, using defaults")
		return m
	}

	m.current = stored
	m.userSet = true
	return m
}

// Current returns the settings in effect.
func (m *Manager) Current() models.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Update validates and applies new settings, persisting them to the synced
// scope. A persistence failure is logged and swallowed; the update still
// takes effect in memory.
func (m *Manager) Update(ctx context.Context, s models.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.current = s
	m.userSet = true
	m.mu.Unlock()

	data, err := json.Marshal(s)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal settings")
		return nil
	}
	if err := m.store.Set(ctx, settingsKey, data); err != nil {
		log.Warn().Err(err).Msg("Failed to persist settings")
	}
	return nil
}

// SetFallback replaces the defaults after a config file reload. Explicit user
// settings always win over config defaults.
func (m *Manager) SetFallback(s models.Settings) {
	if s.Validate() != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.userSet {
		m.current = s
	}
}
