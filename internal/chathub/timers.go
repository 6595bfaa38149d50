package chathub

import (
	"sync"
	"time"
)

// Scheduler runs keyed one-shot callbacks. Scheduling an existing key replaces the
// previous timer. For any entry exactly one of Cancel (returning true) or the
// callback wins.
type Scheduler struct {
	mu      sync.Mutex
	gen     uint64
	entries map[string]*timerEntry
	stopped bool
}

type timerEntry struct {
	gen      uint64
	timer    *time.Timer
	deadline time.Time
}

func NewScheduler() *Scheduler {
	return &Scheduler{entries: make(map[string]*timerEntry)}
}

// Schedule arms fn to run after d under key.
func (s *Scheduler) Schedule(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if old, ok := s.entries[key]; ok {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	e := &timerEntry{gen: gen, deadline: time.Now().Add(d)}
	e.timer = time.AfterFunc(d, func() { s.fire(key, gen, fn) })
	s.entries[key] = e
}

func (s *Scheduler) fire(key string, gen uint64, fn func()) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.gen != gen {
		// cancelled or replaced
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	s.mu.Unlock()

	fn()
}

// Cancel disarms key. It returns false when there was nothing to cancel,
// including when the callback has already claimed the entry.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, key)
	return true
}

// Deadline returns when key fires, if armed.
func (s *Scheduler) Deadline(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every entry and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for key, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, key)
	}
}
