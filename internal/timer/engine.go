// Package timer implements the pomodoro phase state machine and its
// persistence and recovery protocol.
//
// The engine owns timing truth. While running, remaining time is always
// derived from the persisted absolute deadline, never from a decrementing
// counter, so a process that vanishes and restarts reconciles correctly by
// construction.
package timer

import (
	"context"
	"errors"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pomodui/pomod/internal/storage"
	"github.com/pomodui/pomod/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// AlarmName is the wake-up timer name for the running phase's deadline.
	AlarmName = "phase-end"

	stateKey    = "timer_state"
	categoryKey = "category"
)

var (
	// ErrAlreadyRunning is returned by Start while a phase is running.
	ErrAlreadyRunning = errors.New("timer already running")

	// ErrNotRunning is returned by Pause while no phase is running.
	ErrNotRunning = errors.New("timer is not running")
)

// Clock abstracts wall-clock time so reconciliation can be tested.
type Clock func() time.Time

// Scheduler is the external wake-up primitive: Arm replaces any armed timer
// of the same name, the callback fires at most once per Arm call, and
// delivery is not guaranteed across process suspension.
type Scheduler interface {
	Arm(name string, delay time.Duration, fn func())
	Disarm(name string)
}

// SettingsSource yields the current durations. The engine reads it at
// phase-duration lookup time, so a mid-phase settings change never shrinks a
// phase already in progress.
type SettingsSource interface {
	Current() models.Settings
}

// HistorySink receives completed work sessions.
type HistorySink interface {
	Append(ctx context.Context, rec *models.SessionRecord) error
}

// Notifier receives fire-and-forget phase completion cues.
type Notifier interface {
	PhaseComplete(completed, next models.Phase)
}

// Broadcaster pushes state snapshots to any listening presentation layer.
type Broadcaster interface {
	BroadcastState(state models.TimerState)
}

// Config wires the engine's collaborators.
type Config struct {
	Settings    SettingsSource
	Scheduler   Scheduler
	Local       storage.KV // local scope: timer state
	Synced      storage.KV // synced scope: category label
	History     HistorySink
	Notifier    Notifier    // optional
	Broadcaster Broadcaster // optional

	Clock        Clock         // defaults to time.Now
	TickInterval time.Duration // defaults to one second
}

// Engine is the timer core. All state mutations are serialized through its
// mutex; the public methods are the message-style entry points.
type Engine struct {
	mu           sync.Mutex
	state        models.TimerState
	category     string
	sessionStart time.Time // zero when no work session is in progress

	settings     SettingsSource
	sched        Scheduler
	local        storage.KV
	synced       storage.KV
	history      HistorySink
	notifier     Notifier
	broadcaster  Broadcaster
	clock        Clock
	tickInterval time.Duration

	completions     metric.Int64Counter
	reconciliations metric.Int64Counter
	persistFailures metric.Int64Counter
}

// New creates an engine in the initial state. Call Recover before Run to
// restore persisted state.
func New(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = time.Second
	}

	meter := otel.Meter("github.com/pomodui/pomod/internal/timer")
	completions, _ := meter.Int64Counter("pomod.phase.completions",
		metric.WithDescription("Completed timer phases"))
	reconciliations, _ := meter.Int64Counter("pomod.recovery.reconciliations",
		metric.WithDescription("Startup reconciliations against a persisted deadline"))
	persistFailures, _ := meter.Int64Counter("pomod.persist.failures",
		metric.WithDescription("Swallowed state persistence failures"))

	return &Engine{
		state:           models.InitialState(cfg.Settings.Current()),
		settings:        cfg.Settings,
		sched:           cfg.Scheduler,
		local:           cfg.Local,
		synced:          cfg.Synced,
		history:         cfg.History,
		notifier:        cfg.Notifier,
		broadcaster:     cfg.Broadcaster,
		clock:           clock,
		tickInterval:    tick,
		completions:     completions,
		reconciliations: reconciliations,
		persistFailures: persistFailures,
	}
}

// Recover loads persisted state and reconciles it against the wall clock.
//
// If the persisted state was running, either the wake-up timer is re-armed
// for the recomputed remainder (the host may have discarded the original
// one), or — when the deadline already passed while the process was down —
// the missed completion is synthesized exactly once. Any number of phases
// missed during a long suspension collapses into that single completion.
func (e *Engine) Recover(ctx context.Context) {
	e.mu.Lock()

	if data, ok, err := e.local.Get(ctx, stateKey); err != nil {
		log.Warn().Err(err).Msg("Failed to load timer state, starting fresh")
	} else if ok {
		var persisted models.TimerState
		if err := json.Unmarshal(data, &persisted); err != nil {
			log.Warn().Err(err).Msg("Corrupt timer state, starting fresh")
		} else if persisted.Phase.Valid() && persisted.Cycle >= 1 {
			e.state = persisted
		}
	}

	if data, ok, err := e.synced.Get(ctx, categoryKey); err != nil {
		log.Warn().Err(err).Msg("Failed to load category label")
	} else if ok {
		e.category = string(data)
	}

	if !e.state.Running {
		snap := e.state
		e.mu.Unlock()
		e.broadcast(snap)
		return
	}

	if e.state.EndTime == 0 {
		// running without a deadline violates the state invariant;
		// degrade to paused with whatever remainder was stored
		log.Warn().Msg("Persisted state running without a deadline, pausing")
		e.state.Running = false
		e.persistLocked(ctx)
		snap := e.state
		e.mu.Unlock()
		e.broadcast(snap)
		return
	}

	now := e.clock()
	remaining := remainingSeconds(e.state.EndTime, now)
	e.reconciliations.Add(ctx, 1)

	if remaining == 0 {
		// Deadline passed while suspended: fire the completion the host missed.
		e.mu.Unlock()
		log.Info().Msg("Deadline passed during downtime, completing phase")
		e.complete(ctx, false)
		return
	}

	e.state.TimeRemaining = remaining
	e.sched.Arm(AlarmName, time.Duration(remaining)*time.Second, e.handleAlarm)
	e.persistLocked(ctx)
	snap := e.state
	e.mu.Unlock()

	log.Info().
		Str("phase", string(snap.Phase)).
		Int("remaining", remaining).
		Msg("Resumed running timer from persisted deadline")
	e.broadcast(snap)
}

// Run drives the periodic tick until ctx is cancelled. The tick refreshes
// TimeRemaining for observers and acts as a redundant completion safety net
// alongside the wake-up callback.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// Start begins or resumes the current phase. If the phase has no remainder it
// is reset to the full configured duration first.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state.Running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}

	now := e.clock()
	if e.state.TimeRemaining <= 0 {
		e.state.TimeRemaining = e.settings.Current().PhaseSeconds(e.state.Phase)
	}
	duration := time.Duration(e.state.TimeRemaining) * time.Second

	e.state.Running = true
	e.state.EndTime = now.Add(duration).UnixMilli()
	if e.state.Phase == models.PhaseWork && e.sessionStart.IsZero() {
		e.sessionStart = now
	}

	e.sched.Arm(AlarmName, duration, e.handleAlarm)
	e.persistLocked(ctx)
	snap := e.state
	e.mu.Unlock()

	log.Info().
		Str("phase", string(snap.Phase)).
		Int("cycle", snap.Cycle).
		Int("remaining", snap.TimeRemaining).
		Msg("Timer started")
	e.broadcast(snap)
	return nil
}

// Pause freezes the running phase, reconciling the remainder from the
// deadline before clearing it.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	if !e.state.Running {
		e.mu.Unlock()
		return ErrNotRunning
	}

	now := e.clock()
	e.state.TimeRemaining = remainingSeconds(e.state.EndTime, now)
	e.state.Running = false
	e.state.EndTime = 0

	e.sched.Disarm(AlarmName)
	e.persistLocked(ctx)
	snap := e.state
	e.mu.Unlock()

	log.Info().Str("phase", string(snap.Phase)).Int("remaining", snap.TimeRemaining).Msg("Timer paused")
	e.broadcast(snap)
	return nil
}

// Skip advances to the next phase immediately, regardless of remaining time,
// through the same completion path as a natural expiry.
func (e *Engine) Skip(ctx context.Context) {
	e.complete(ctx, true)
}

// Reset unconditionally returns to the first work cycle, not running, with
// the full work duration. Any in-progress session marker is discarded.
func (e *Engine) Reset(ctx context.Context) {
	e.mu.Lock()
	e.sched.Disarm(AlarmName)
	e.state = models.InitialState(e.settings.Current())
	e.sessionStart = time.Time{}
	e.persistLocked(ctx)
	snap := e.state
	e.mu.Unlock()

	log.Info().Msg("Timer reset")
	e.broadcast(snap)
}

// State returns a snapshot with TimeRemaining recomputed from the deadline
// while running.
func (e *Engine) State() models.TimerState {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.state
	if snap.Running {
		snap.TimeRemaining = remainingSeconds(snap.EndTime, e.clock())
	}
	return snap
}

// SetCategory records the free-text label attached to subsequent session
// records and persists it to the synced scope.
func (e *Engine) SetCategory(ctx context.Context, label string) {
	e.mu.Lock()
	e.category = label
	e.mu.Unlock()

	if err := e.synced.Set(ctx, categoryKey, []byte(label)); err != nil {
		log.Warn().Err(err).Msg("Failed to persist category label")
	}
}

// Category returns the current session category label.
func (e *Engine) Category() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.category
}

// handleAlarm is the wake-up primitive's callback.
func (e *Engine) handleAlarm() {
	e.complete(context.Background(), false)
}

// tick refreshes the remainder while running. If it observes an already
// elapsed deadline it completes the phase itself; the running guard in
// complete keeps the alarm and tick paths from both acting on one deadline.
func (e *Engine) tick(ctx context.Context) {
	e.mu.Lock()
	if !e.state.Running {
		e.mu.Unlock()
		return
	}

	now := e.clock()
	remaining := remainingSeconds(e.state.EndTime, now)
	if remaining == 0 {
		e.mu.Unlock()
		e.complete(ctx, false)
		return
	}

	e.state.TimeRemaining = remaining
	e.persistLocked(ctx)
	snap := e.state
	e.mu.Unlock()

	e.broadcast(snap)
}

// complete ends the current phase: builds the session record for a completed
// work phase, advances to the next phase, persists, and notifies. force
// bypasses the running guard for Skip, which must work from a paused timer.
func (e *Engine) complete(ctx context.Context, force bool) {
	e.mu.Lock()
	if !e.state.Running && !force {
		// already completed by the other delivery path
		e.mu.Unlock()
		return
	}

	now := e.clock()
	completed := e.state.Phase

	e.sched.Disarm(AlarmName)
	e.state.Running = false
	e.state.EndTime = 0

	var rec *models.SessionRecord
	if completed == models.PhaseWork {
		workDuration := e.settings.Current().PhaseDuration(models.PhaseWork)
		start := e.sessionStart
		if start.IsZero() {
			// no marker survived (crash recovery); approximate backwards
			start = now.Add(-workDuration)
		}
		rec = models.NewSessionRecord(start, workDuration, e.category)
	}
	e.sessionStart = time.Time{}

	e.advanceLocked()
	e.persistLocked(ctx)
	next := e.state.Phase
	snap := e.state
	e.mu.Unlock()

	e.completions.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", string(completed))))

	if rec != nil {
		if err := e.history.Append(ctx, rec); err != nil {
			log.Error().Err(err).Msg("Failed to record completed session")
		}
	}
	if e.notifier != nil {
		e.notifier.PhaseComplete(completed, next)
	}

	log.Info().
		Str("completed", string(completed)).
		Str("next", string(next)).
		Int("cycle", snap.Cycle).
		Msg("Phase complete")
	e.broadcast(snap)
}

// advanceLocked applies the transition rule: work alternates with breaks,
// a long break every 4th cycle, and the cycle increments on the break→work
// edge. The next phase gets its full configured duration.
func (e *Engine) advanceLocked() {
	settings := e.settings.Current()

	if e.state.Phase == models.PhaseWork {
		if e.state.Cycle%4 == 0 {
			e.state.Phase = models.PhaseLongBreak
		} else {
			e.state.Phase = models.PhaseShortBreak
		}
	} else {
		e.state.Phase = models.PhaseWork
		e.state.Cycle++
	}
	e.state.TimeRemaining = settings.PhaseSeconds(e.state.Phase)
}

// persistLocked writes the state to the local scope. Failures are logged and
// swallowed; in-memory state stays authoritative.
func (e *Engine) persistLocked(ctx context.Context) {
	data, err := json.Marshal(e.state)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal timer state")
		return
	}
	if err := e.local.Set(ctx, stateKey, data); err != nil {
		e.persistFailures.Add(ctx, 1)
		log.Warn().Err(err).Msg("Failed to persist timer state")
	}
}

func (e *Engine) broadcast(snap models.TimerState) {
	if e.broadcaster != nil {
		e.broadcaster.BroadcastState(snap)
	}
}

// remainingSeconds converts an absolute unix-millisecond deadline into whole
// seconds from now, clamped at zero.
func remainingSeconds(endTime int64, now time.Time) int {
	ms := endTime - now.UnixMilli()
	if ms <= 0 {
		return 0
	}
	return int(ms / 1000)
}
