// Package scheduler provides named one-shot wake-up timers for pomod.
//
// The contract mirrors a host alarm facility: Arm schedules a callback
// at-or-after the delay and replaces any armed timer of the same name;
// Disarm cancels. A callback fires at most once per Arm call.
package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Scheduler manages named one-shot timers.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{timers: make(map[string]*time.Timer)}
}

// Arm schedules fn to run after delay under the given name, replacing any
// timer already armed under that name.
func (s *Scheduler) Arm(name string, delay time.Duration, fn func()) {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[name]; ok {
		existing.Stop()
	}

	s.timers[name] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, name)
		s.mu.Unlock()

		log.Debug().Str("name", name).Msg("Wake-up timer fired")
		fn()
	})
}

// Disarm cancels the named timer. Disarming an unknown name is a no-op.
func (s *Scheduler) Disarm(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[name]; ok {
		timer.Stop()
		delete(s.timers, name)
	}
}

// Armed reports whether a timer is currently armed under name.
func (s *Scheduler) Armed(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[name]
	return ok
}

// Stop cancels every armed timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, timer := range s.timers {
		timer.Stop()
		delete(s.timers, name)
	}
}
