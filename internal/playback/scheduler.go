package playback

import (
	"sync"
	"time"
)

// Concern names a timer slot in a Scheduler.
type Concern string

const (
	ConcernTick      Concern = "tick"
	ConcernCountdown Concern = "countdown"
	ConcernAutoLoop  Concern = "autoloop"
)

// Scheduler owns at most one armed timer per concern. Arming a concern replaces
// its previous timer, and a fire from a replaced or stopped timer is dropped.
// A timer disarmed before it fires closes the channel its Start returned.
type Scheduler struct {
	clock Clock

	mu    sync.Mutex
	gen   uint64
	slots map[Concern]slot
}

type slot struct {
	gen     uint64
	timer   Timer
	stopped chan struct{}
}

func (s slot) disarm() {
	s.timer.Stop()
	close(s.stopped)
}

func NewScheduler(clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	return &Scheduler{clock: clock, slots: make(map[Concern]slot)}
}

func (s *Scheduler) Clock() Clock {
	return s.clock
}

// Start arms concern to run f once after d. The returned channel is closed if
// the timer is stopped, reset or replaced before it fires.
func (s *Scheduler) Start(c Concern, d time.Duration, f func()) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.slots[c]; ok {
		old.disarm()
	}
	s.gen++
	gen := s.gen
	timer := s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		cur, ok := s.slots[c]
		if !ok || cur.gen != gen {
			s.mu.Unlock()
			return
		}
		delete(s.slots, c)
		s.mu.Unlock()
		f()
	})
	stopped := make(chan struct{})
	s.slots[c] = slot{gen: gen, timer: timer, stopped: stopped}
	return stopped
}

// Stop disarms concern.
func (s *Scheduler) Stop(c Concern) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.slots[c]; ok {
		old.disarm()
		delete(s.slots, c)
	}
}

// Reset disarms every concern.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c, old := range s.slots {
		old.disarm()
		delete(s.slots, c)
	}
}

// Active reports whether concern has an armed timer.
func (s *Scheduler) Active(c Concern) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.slots[c]
	return ok
}
