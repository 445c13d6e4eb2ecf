package worker

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pomodui/pomod/internal/timer"
	"github.com/pomodui/pomod/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	workerMeter    = otel.Meter("github.com/pomodui/pomod/internal/worker")
	commandCounter metric.Int64Counter
)

func init() {
	commandCounter, _ = workerMeter.Int64Counter("pomod.commands",
		metric.WithDescription("Commands handled by the worker"))
}

func countCommand(ctx context.Context, name string) {
	if commandCounter != nil {
		commandCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("command", name)))
	}
}

// writeJSON marshals v and writes it with the given status code.
func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

// writeError writes a JSON error envelope.
func (s *Service) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleHealth reports liveness, version and uptime.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	code := http.StatusOK
	if !s.ready.Load() {
		status = "starting"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleGetState returns the current timer state snapshot.
func (s *Service) handleGetState(w http.ResponseWriter, r *http.Request) {
	countCommand(r.Context(), "get_state")
	s.writeJSON(w, http.StatusOK, s.engine.State())
}

// handleStart starts the current phase. The body may carry timer settings,
// applied only once the start succeeds; a rejected start leaves them
// untouched. The current phase keeps its remainder either way, so new
// durations take effect from the next phase.
func (s *Service) handleStart(w http.ResponseWriter, r *http.Request) {
	countCommand(r.Context(), "start")

	var incoming *models.Settings
	if r.ContentLength > 0 {
		incoming = &models.Settings{}
		if err := json.NewDecoder(r.Body).Decode(incoming); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid settings body: %w", err))
			return
		}
		if err := incoming.Validate(); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	if err := s.engine.Start(r.Context()); err != nil {
		if errors.Is(err, timer.ErrAlreadyRunning) {
			s.writeError(w, http.StatusConflict, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	if incoming != nil {
		if err := s.settings.Update(r.Context(), *incoming); err != nil {
			log.Warn().Err(err).Msg("Failed to apply settings from start request")
		}
	}
	s.writeJSON(w, http.StatusOK, s.engine.State())
}

// handlePause pauses a running timer, preserving the remaining time.
func (s *Service) handlePause(w http.ResponseWriter, r *http.Request) {
	countCommand(r.Context(), "pause")

	if err := s.engine.Pause(r.Context()); err != nil {
		if errors.Is(err, timer.ErrNotRunning) {
			s.writeError(w, http.StatusConflict, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.State())
}

// handleSkip ends the current phase immediately and advances to the next.
func (s *Service) handleSkip(w http.ResponseWriter, r *http.Request) {
	countCommand(r.Context(), "skip")
	s.engine.Skip(r.Context())
	s.writeJSON(w, http.StatusOK, s.engine.State())
}

// handleReset returns the timer to a fresh work phase at cycle 1.
func (s *Service) handleReset(w http.ResponseWriter, r *http.Request) {
	countCommand(r.Context(), "reset")
	s.engine.Reset(r.Context())
	s.writeJSON(w, http.StatusOK, s.engine.State())
}

func (s *Service) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.settings.Current())
}

// handlePutSettings replaces the timer durations. A phase already in
// progress keeps its deadline; new durations apply from the next phase.
func (s *Service) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	countCommand(r.Context(), "update_settings")

	var incoming models.Settings
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid settings body: %w", err))
		return
	}
	if err := s.settings.Update(r.Context(), incoming); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.settings.Current())
}

// handleGetHistory returns completed work sessions, newest first. An
// optional ?limit= caps the result.
func (s *Service) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	countCommand(r.Context(), "get_history")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %q", raw))
			return
		}
		limit = parsed
	}

	records, err := s.historyStore.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []*models.SessionRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sessions": records,
		"count":    len(records),
	})
}

// handleExportHistory streams the full history as a download, oldest first.
// ?format=csv selects CSV; the default is JSON.
func (s *Service) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	countCommand(r.Context(), "export_history")

	records, err := s.historyStore.All(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		w.Header().Set("Content-Disposition", `attachment; filename="pomod-history.json"`)
		s.writeJSON(w, http.StatusOK, records)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="pomod-history.csv"`)
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"id", "date", "start_time", "duration_minutes", "category"})
		for _, rec := range records {
			_ = cw.Write([]string{
				rec.ID,
				rec.Date,
				rec.StartTime,
				strconv.Itoa(rec.DurationMinutes),
				rec.Category,
			})
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			log.Error().Err(err).Msg("CSV export write failed")
		}
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown export format: %q", format))
	}
}

// handleClearHistory deletes all completed session records.
func (s *Service) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	countCommand(r.Context(), "clear_history")

	if err := s.historyStore.Clear(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleSetCategory sets the label stamped onto future session records.
func (s *Service) handleSetCategory(w http.ResponseWriter, r *http.Request) {
	countCommand(r.Context(), "set_category")

	var body struct {
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid category body: %w", err))
		return
	}
	s.engine.SetCategory(r.Context(), body.Category)
	s.writeJSON(w, http.StatusOK, map[string]string{"category": s.engine.Category()})
}

// handleStats aggregates completed sessions: today's count, a daily series
// for the last 30 days, and a per-category breakdown.
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	countCommand(r.Context(), "get_stats")

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	today, err := s.historyStore.CountSince(r.Context(), midnight.UnixMilli())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	total, err := s.historyStore.Count(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	daily, err := s.historyStore.DailyCounts(r.Context(), now.AddDate(0, 0, -30).Format("2006-01-02"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	categories, err := s.historyStore.CategoryBreakdown(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"today":      today,
		"total":      total,
		"daily":      daily,
		"categories": categories,
	})
}

// handleEvents upgrades the connection to an SSE stream of timer state.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.sseBroadcaster.HandleSSE(w, r, s.engine.State())
}
