package storage

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/pomodui/pomod/pkg/models"
	"github.com/rs/zerolog/log"
)

// historyListKey is the synced-scope list the mirror appends to.
const historyListKey = "history"

// HistoryAppender is the primary (local) session record sink.
type HistoryAppender interface {
	Append(ctx context.Context, rec *models.SessionRecord) error
}

// ListPusher appends to a bounded list in the synced scope.
type ListPusher interface {
	PushBounded(ctx context.Context, key string, value []byte, cap int) error
}

// MirroredHistory appends session records to the local store and mirrors
// each append to the synced scope fire-and-forget. The local store is the
// system of record; a mirror failure is logged and swallowed. When the local
// write itself fails, the synced scope serves as the fallback: the record is
// pushed there before the error is given up on.
type MirroredHistory struct {
	primary HistoryAppender
	synced  ListPusher // nil when no sync backend is configured
	cap     int
}

func NewMirroredHistory(primary HistoryAppender, synced ListPusher, cap int) *MirroredHistory {
	return &MirroredHistory{primary: primary, synced: synced, cap: cap}
}

func (m *MirroredHistory) Append(ctx context.Context, rec *models.SessionRecord) error {
	primaryErr := m.primary.Append(ctx, rec)
	if primaryErr != nil && m.synced == nil {
		return primaryErr
	}
	if m.synced == nil {
		return nil
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode session record for sync")
		return primaryErr
	}

	pushErr := m.synced.PushBounded(ctx, historyListKey, payload, m.cap)
	if primaryErr == nil {
		if pushErr != nil {
			log.Warn().Err(pushErr).Msg("Failed to mirror session record to sync backend")
		}
		return nil
	}
	if pushErr != nil {
		log.Error().Err(pushErr).Msg("Session record lost, both history stores failed")
		return primaryErr
	}
	log.Warn().Err(primaryErr).Msg("Local history write failed, record kept in sync backend only")
	return nil
}
