// Package timer implements the pomodoro phase state machine and its
// persistence and recovery protocol.
package timer

import (
	"context"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pomodui/pomod/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable wall clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeScheduler records armed timers and fires them only on demand.
type fakeScheduler struct {
	mu    sync.Mutex
	armed map[string]armedTimer
}

type armedTimer struct {
	delay time.Duration
	fn    func()
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{armed: make(map[string]armedTimer)}
}

func (s *fakeScheduler) Arm(name string, delay time.Duration, fn func()) {
	s.mu.Lock()
	s.armed[name] = armedTimer{delay: delay, fn: fn}
	s.mu.Unlock()
}

func (s *fakeScheduler) Disarm(name string) {
	s.mu.Lock()
	delete(s.armed, name)
	s.mu.Unlock()
}

func (s *fakeScheduler) Armed(name string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.armed[name]
	return t.delay, ok
}

// Fire invokes the armed callback, as the host alarm facility would.
func (s *fakeScheduler) Fire(name string) bool {
	s.mu.Lock()
	t, ok := s.armed[name]
	delete(s.armed, name)
	s.mu.Unlock()
	if ok {
		t.fn()
	}
	return ok
}

// memKV is an in-memory storage scope.
type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *memKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memKV) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// recordSink collects appended session records.
type recordSink struct {
	mu      sync.Mutex
	records []*models.SessionRecord
}

func (r *recordSink) Append(_ context.Context, rec *models.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recordSink) list() []*models.SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.SessionRecord(nil), r.records...)
}

// staticSettings is a mutable settings source.
type staticSettings struct {
	mu sync.Mutex
	s  models.Settings
}

func (s *staticSettings) Current() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s
}

func (s *staticSettings) set(v models.Settings) {
	s.mu.Lock()
	s.s = v
	s.mu.Unlock()
}

// fixture bundles an engine with its fake collaborators.
type fixture struct {
	engine   *Engine
	clock    *fakeClock
	sched    *fakeScheduler
	local    *memKV
	synced   *memKV
	history  *recordSink
	settings *staticSettings
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:    newFakeClock(),
		sched:    newFakeScheduler(),
		local:    newMemKV(),
		synced:   newMemKV(),
		history:  &recordSink{},
		settings: &staticSettings{s: models.DefaultSettings()},
	}
	f.engine = New(Config{
		Settings:  f.settings,
		Scheduler: f.sched,
		Local:     f.local,
		Synced:    f.synced,
		History:   f.history,
		Clock:     f.clock.Now,
	})
	return f
}

func TestInitialState(t *testing.T) {
	f := newFixture(t)

	state := f.engine.State()
	assert.Equal(t, models.PhaseWork, state.Phase)
	assert.Equal(t, 1, state.Cycle)
	assert.Equal(t, 1500, state.TimeRemaining)
	assert.False(t, state.Running)
	assert.Zero(t, state.EndTime)
}

// TestTransitionSequence walks the documented cycle: three short breaks, then
// a long break after the fourth work phase.
func TestTransitionSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expect := []struct {
		phase models.Phase
		cycle int
	}{
		{models.PhaseShortBreak, 1}, // after work 1
		{models.PhaseWork, 2},
		{models.PhaseShortBreak, 2}, // after work 2
		{models.PhaseWork, 3},
		{models.PhaseShortBreak, 3}, // after work 3
		{models.PhaseWork, 4},
		{models.PhaseLongBreak, 4}, // after work 4: 4 % 4 == 0
		{models.PhaseWork, 5},
	}

	for i, want := range expect {
		f.engine.Skip(ctx)
		state := f.engine.State()
		assert.Equal(t, want.phase, state.Phase, "step %d", i)
		assert.Equal(t, want.cycle, state.Cycle, "step %d", i)
		assert.False(t, state.Running, "step %d", i)
	}

	// Four work phases were completed along the way
	assert.Len(t, f.history.list(), 4)
}

// TestLongBreakDurations checks that each break carries its configured full
// duration, and that only the 4th cycle's break is the long one.
func TestLongBreakDurations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Complete work phases 1-3: each break is short
	for i := 0; i < 3; i++ {
		f.engine.Skip(ctx) // work -> short break
		assert.Equal(t, models.PhaseShortBreak, f.engine.State().Phase)
		assert.Equal(t, 5*60, f.engine.State().TimeRemaining)
		f.engine.Skip(ctx) // break -> work
	}

	// Completing the 4th work phase yields the long break with its duration
	f.engine.Skip(ctx)
	state := f.engine.State()
	assert.Equal(t, models.PhaseLongBreak, state.Phase)
	assert.Equal(t, 15*60, state.TimeRemaining)
}

// TestStartPauseNoDrift: an immediate pause leaves the remainder unchanged.
func TestStartPauseNoDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	require.NoError(t, f.engine.Pause(ctx))

	state := f.engine.State()
	assert.Equal(t, 1500, state.TimeRemaining)
	assert.False(t, state.Running)
	assert.Zero(t, state.EndTime)
}

func TestPauseReconcilesFromDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	f.clock.Advance(90 * time.Second)
	require.NoError(t, f.engine.Pause(ctx))

	assert.Equal(t, 1500-90, f.engine.State().TimeRemaining)

	// The wake-up timer was disarmed on pause
	_, armed := f.sched.Armed(AlarmName)
	assert.False(t, armed)
}

func TestStartArmsWakeUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))

	delay, armed := f.sched.Armed(AlarmName)
	assert.True(t, armed)
	assert.Equal(t, 1500*time.Second, delay)

	state := f.engine.State()
	assert.True(t, state.Running)
	assert.Equal(t, f.clock.Now().Add(1500*time.Second).UnixMilli(), state.EndTime)
}

func TestStartWhileRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	assert.ErrorIs(t, f.engine.Start(ctx), ErrAlreadyRunning)
}

func TestPauseWhileStopped(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.engine.Pause(context.Background()), ErrNotRunning)
}

// TestNaturalCompletion drives the armed callback as the host would.
func TestNaturalCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	f.clock.Advance(1500 * time.Second)
	require.True(t, f.sched.Fire(AlarmName))

	state := f.engine.State()
	assert.False(t, state.Running)
	assert.Equal(t, models.PhaseShortBreak, state.Phase)

	records := f.history.list()
	require.Len(t, records, 1)
	assert.Equal(t, 25, records[0].DurationMinutes)
	// The record's start is the session-start marker, not the completion time
	assert.Equal(t, f.clock.Now().Add(-1500*time.Second).UnixMilli(), records[0].StartEpoch)
}

// TestDoubleCompletionIsIdempotent: the tick safety net observing the same
// elapsed deadline after the alarm already fired must not act again.
func TestDoubleCompletionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	f.clock.Advance(1501 * time.Second)

	require.True(t, f.sched.Fire(AlarmName))
	f.engine.tick(ctx) // redundant safety net path

	assert.Len(t, f.history.list(), 1)
	assert.Equal(t, models.PhaseShortBreak, f.engine.State().Phase)
}

// TestTickCompletesElapsedDeadline: the safety net completes the phase when
// the alarm never fired.
func TestTickCompletesElapsedDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	f.clock.Advance(1501 * time.Second)

	f.engine.tick(ctx)

	assert.False(t, f.engine.State().Running)
	assert.Equal(t, models.PhaseShortBreak, f.engine.State().Phase)
	assert.Len(t, f.history.list(), 1)
}

func TestTickRefreshesRemaining(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	f.clock.Advance(30 * time.Second)
	f.engine.tick(ctx)

	assert.Equal(t, 1470, f.engine.State().TimeRemaining)
	assert.True(t, f.engine.State().Running)
}

// TestRecoveryExpiredDeadline: a deadline 90 seconds in the past yields
// exactly one synthesized completion and a stopped timer.
func TestRecoveryExpiredDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	persisted := models.TimerState{
		Running:       true,
		Phase:         models.PhaseWork,
		Cycle:         2,
		TimeRemaining: 60,
		EndTime:       f.clock.Now().Add(-90 * time.Second).UnixMilli(),
	}
	data, err := json.Marshal(persisted)
	require.NoError(t, err)
	require.NoError(t, f.local.Set(ctx, stateKey, data))

	f.engine.Recover(ctx)

	state := f.engine.State()
	assert.False(t, state.Running)
	assert.Equal(t, models.PhaseShortBreak, state.Phase)
	assert.Equal(t, 2, state.Cycle)

	// Exactly one completion, with the fallback start time (no marker survived)
	records := f.history.list()
	require.Len(t, records, 1)
	assert.Equal(t, f.clock.Now().Add(-25*time.Minute).UnixMilli(), records[0].StartEpoch)
}

// TestRecoveryResumesAndRearms: a live deadline re-arms the wake-up timer,
// which the host may have discarded during suspension.
func TestRecoveryResumesAndRearms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	persisted := models.TimerState{
		Running:       true,
		Phase:         models.PhaseShortBreak,
		Cycle:         3,
		TimeRemaining: 300,
		EndTime:       f.clock.Now().Add(120 * time.Second).UnixMilli(),
	}
	data, err := json.Marshal(persisted)
	require.NoError(t, err)
	require.NoError(t, f.local.Set(ctx, stateKey, data))

	f.engine.Recover(ctx)

	state := f.engine.State()
	assert.True(t, state.Running)
	assert.Equal(t, models.PhaseShortBreak, state.Phase)
	assert.Equal(t, 120, state.TimeRemaining)

	delay, armed := f.sched.Armed(AlarmName)
	assert.True(t, armed)
	assert.Equal(t, 120*time.Second, delay)
}

func TestRecoveryPausedState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	persisted := models.TimerState{
		Phase:         models.PhaseLongBreak,
		Cycle:         4,
		TimeRemaining: 432,
	}
	data, err := json.Marshal(persisted)
	require.NoError(t, err)
	require.NoError(t, f.local.Set(ctx, stateKey, data))

	f.engine.Recover(ctx)

	state := f.engine.State()
	assert.False(t, state.Running)
	assert.Equal(t, models.PhaseLongBreak, state.Phase)
	assert.Equal(t, 432, state.TimeRemaining)
	_, armed := f.sched.Armed(AlarmName)
	assert.False(t, armed)
}

func TestRecoveryCorruptState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.local.Set(ctx, stateKey, []byte("not json")))

	f.engine.Recover(ctx)

	// Falls back to the initial state
	state := f.engine.State()
	assert.Equal(t, models.PhaseWork, state.Phase)
	assert.Equal(t, 1, state.Cycle)
}

// TestResetFromAnyState: reset always lands on {work, cycle 1, stopped, full
// work duration}.
func TestResetFromAnyState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Drive into a mid-sequence running state
	f.engine.Skip(ctx)
	f.engine.Skip(ctx)
	f.engine.Skip(ctx)
	require.NoError(t, f.engine.Start(ctx))
	f.clock.Advance(42 * time.Second)

	f.engine.Reset(ctx)

	state := f.engine.State()
	assert.Equal(t, models.PhaseWork, state.Phase)
	assert.Equal(t, 1, state.Cycle)
	assert.Equal(t, 1500, state.TimeRemaining)
	assert.False(t, state.Running)
	assert.Zero(t, state.EndTime)

	_, armed := f.sched.Armed(AlarmName)
	assert.False(t, armed)
}

// TestResetDiscardsSessionMarker: a work session cut off by reset leaves no
// marker behind, so the next completion uses the fallback start time.
func TestResetDiscardsSessionMarker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	f.clock.Advance(10 * time.Minute)
	f.engine.Reset(ctx)

	f.clock.Advance(time.Hour)
	f.engine.Skip(ctx)

	records := f.history.list()
	require.Len(t, records, 1)
	assert.Equal(t, f.clock.Now().Add(-25*time.Minute).UnixMilli(), records[0].StartEpoch)
}

// TestSessionMarkerSurvivesPause: pausing and resuming keeps the original
// session start for the eventual record.
func TestSessionMarkerSurvivesPause(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := f.clock.Now()
	require.NoError(t, f.engine.Start(ctx))
	f.clock.Advance(5 * time.Minute)
	require.NoError(t, f.engine.Pause(ctx))
	f.clock.Advance(20 * time.Minute)
	require.NoError(t, f.engine.Start(ctx))
	f.engine.Skip(ctx)

	records := f.history.list()
	require.Len(t, records, 1)
	assert.Equal(t, started.UnixMilli(), records[0].StartEpoch)
}

// TestSettingsChangeMidPhase: a running phase keeps its deadline; the change
// applies at the next full phase computation.
func TestSettingsChangeMidPhase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	originalEnd := f.engine.State().EndTime

	f.settings.set(models.Settings{WorkMinutes: 50, ShortBreakMinutes: 10, LongBreakMinutes: 20})

	// The in-progress work phase is untouched
	assert.Equal(t, originalEnd, f.engine.State().EndTime)

	// The next phase gets the new duration
	f.engine.Skip(ctx)
	state := f.engine.State()
	assert.Equal(t, models.PhaseShortBreak, state.Phase)
	assert.Equal(t, 10*60, state.TimeRemaining)
}

func TestSkipWhilePaused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Never started: skip still advances through the completion path
	f.engine.Skip(ctx)

	state := f.engine.State()
	assert.Equal(t, models.PhaseShortBreak, state.Phase)
	assert.Len(t, f.history.list(), 1)
}

func TestSkipBreakDoesNotRecordSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.Skip(ctx) // complete work
	require.Len(t, f.history.list(), 1)

	f.engine.Skip(ctx) // complete the break

	assert.Len(t, f.history.list(), 1)
	assert.Equal(t, models.PhaseWork, f.engine.State().Phase)
	assert.Equal(t, 2, f.engine.State().Cycle)
}

func TestCategoryAppearsOnRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.SetCategory(ctx, "deep-work")
	f.engine.Skip(ctx)

	records := f.history.list()
	require.Len(t, records, 1)
	assert.Equal(t, "deep-work", records[0].Category)

	// The label persisted to the synced scope
	value, ok, err := f.synced.Get(ctx, categoryKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "deep-work", string(value))
}

// TestPersistedStateRoundtrip: a second engine over the same store picks up
// where the first left off.
func TestPersistedStateRoundtrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.Skip(ctx) // work -> short break
	require.NoError(t, f.engine.Start(ctx))
	f.clock.Advance(60 * time.Second)
	require.NoError(t, f.engine.Pause(ctx))

	second := New(Config{
		Settings:  f.settings,
		Scheduler: newFakeScheduler(),
		Local:     f.local,
		Synced:    f.synced,
		History:   &recordSink{},
		Clock:     f.clock.Now,
	})
	second.Recover(ctx)

	state := second.State()
	assert.Equal(t, models.PhaseShortBreak, state.Phase)
	assert.Equal(t, 1, state.Cycle)
	assert.Equal(t, 300-60, state.TimeRemaining)
	assert.False(t, state.Running)
}

func TestStateRecomputesWhileRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	f.clock.Advance(30 * time.Second)

	assert.Equal(t, 1470, f.engine.State().TimeRemaining)
}
