// Package models contains domain models for pomod.
package models

// Phase is one of the three pomodoro phases.
type Phase string

const (
	PhaseWork       Phase = "work"
	PhaseShortBreak Phase = "short_break"
	PhaseLongBreak  Phase = "long_break"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseWork, PhaseShortBreak, PhaseLongBreak:
		return true
	}
	return false
}

// IsBreak reports whether p is a break phase.
func (p Phase) IsBreak() bool {
	return p == PhaseShortBreak || p == PhaseLongBreak
}

// TimerState is the persisted state of the timer core.
//
// EndTime is an absolute unix-millisecond deadline, set only while the timer
// is running. While running, true remaining time is EndTime minus now;
// TimeRemaining is authoritative only while paused.
type TimerState struct {
	Running       bool  `json:"running"`
	Phase         Phase `json:"phase"`
	Cycle         int   `json:"cycle"`
	TimeRemaining int   `json:"time_remaining"`
	EndTime       int64 `json:"end_time,omitempty"`
}

// InitialState returns the state the timer holds after a reset: first work
// cycle, full work duration, not running.
func InitialState(settings Settings) TimerState {
	return TimerState{
		Phase:         PhaseWork,
		Cycle:         1,
		TimeRemaining: settings.PhaseSeconds(PhaseWork),
	}
}
