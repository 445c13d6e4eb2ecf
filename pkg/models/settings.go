package models

import (
	"fmt"
	"time"
)

// Settings holds the configurable phase durations, in minutes.
type Settings struct {
	WorkMinutes       int `json:"work_minutes" yaml:"work_minutes"`
	ShortBreakMinutes int `json:"short_break_minutes" yaml:"short_break_minutes"`
	LongBreakMinutes  int `json:"long_break_minutes" yaml:"long_break_minutes"`
}

// DefaultSettings returns the classic 25/5/15 pomodoro durations.
func DefaultSettings() Settings {
	return Settings{
		WorkMinutes:       25,
		ShortBreakMinutes: 5,
		LongBreakMinutes:  15,
	}
}

// Validate checks that all durations are positive.
func (s Settings) Validate() error {
	if s.WorkMinutes <= 0 {
		return fmt.Errorf("work_minutes must be positive, got %d", s.WorkMinutes)
	}
	if s.ShortBreakMinutes <= 0 {
		return fmt.Errorf("short_break_minutes must be positive, got %d", s.ShortBreakMinutes)
	}
	if s.LongBreakMinutes <= 0 {
		return fmt.Errorf("long_break_minutes must be positive, got %d", s.LongBreakMinutes)
	}
	return nil
}

// PhaseDuration returns the configured duration for the given phase.
func (s Settings) PhaseDuration(p Phase) time.Duration {
	switch p {
	case PhaseShortBreak:
		return time.Duration(s.ShortBreakMinutes) * time.Minute
	case PhaseLongBreak:
		return time.Duration(s.LongBreakMinutes) * time.Minute
	default:
		return time.Duration(s.WorkMinutes) * time.Minute
	}
}

// PhaseSeconds returns the configured duration for the given phase in whole
// seconds, the unit TimerState.TimeRemaining is kept in.
func (s Settings) PhaseSeconds(p Phase) int {
	return int(s.PhaseDuration(p) / time.Second)
}
