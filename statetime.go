package stattree

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// StateTimer accumulates the time spent in each of a set of discrete
// states. The initial state is int64(0); timing starts with the first
// change of state.
type StateTimer struct {
	mu      sync.Mutex
	clock   quartz.Clock
	state   any
	since   time.Time
	started bool
	totals  map[string]time.Duration
	order   []string
}

func newStateTimer(clock quartz.Clock) *StateTimer {
	return &StateTimer{
		clock:  clock,
		state:  int64(0),
		totals: make(map[string]time.Duration),
	}
}

// Set moves the timer to state, crediting the time since the last change
// to the previous state. Setting the current state again does nothing.
func (s *StateTimer) Set(state any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(state)
}

func (s *StateTimer) setLocked(state any) {
	if keyOf(state) == keyOf(s.state) {
		return
	}
	now := s.clock.Now()
	if s.started {
		s.creditLocked(keyOf(s.state), now.Sub(s.since))
	}
	s.state = state
	s.since = now
	s.started = true
}

func (s *StateTimer) creditLocked(key string, d time.Duration) {
	if _, ok := s.totals[key]; !ok {
		s.order = append(s.order, key)
	}
	s.totals[key] += d
}

// State returns the current state.
func (s *StateTimer) State() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed returns the total time spent in state, including the running
// interval if state is current.
func (s *StateTimer) Elapsed(state any) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := keyOf(state)
	d := s.totals[key]
	if s.started && key == keyOf(s.state) {
		d += s.clock.Since(s.since)
	}
	return d
}

// Acquire increments an integer state and returns a func that decrements
// it again. The returned func is safe to call more than once.
func (s *StateTimer) Acquire() (release func()) {
	s.shift(1)
	return sync.OnceFunc(func() { s.shift(-1) })
}

func (s *StateTimer) shift(delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, _ := toInt64(s.state)
	s.setLocked(n + delta)
}

func (s *StateTimer) snapshot() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := NewTree()
	for _, key := range s.order {
		t.Set(key, s.totals[key].Seconds())
	}
	if s.started {
		key := keyOf(s.state)
		live := s.totals[key] + s.clock.Since(s.since)
		t.Set(key, live.Seconds())
	}
	return t
}

// StateTimeStat exposes a StateTimer. Setting it changes state.
type StateTimeStat struct {
	stat
}

// NewStateTimeStat returns a state timer stat.
func NewStateTimeStat(name string) StateTimeStat {
	return StateTimeStat{stat{name: name}}
}

// In returns a copy of the stat bound to r instead of the default registry.
func (s StateTimeStat) In(r *Registry) StateTimeStat {
	s.reg = r
	return s
}

func (s StateTimeStat) newState(r *Registry) any { return newStateTimer(r.clock) }

// Timer returns the timer of owner. Unregistered owners get a detached one.
func (s StateTimeStat) Timer(owner any) *StateTimer {
	r := s.registry()
	var st *StateTimer
	if !withState(r, owner, s, func(_ ObjectID, v *StateTimer) { st = v }) {
		return newStateTimer(r.clock)
	}
	return st
}

// Set moves owner to state.
func (s StateTimeStat) Set(owner any, state any) {
	s.Timer(owner).Set(state)
}

// Get returns the seconds owner has spent in state.
func (s StateTimeStat) Get(owner any, state any) float64 {
	return s.Timer(owner).Elapsed(state).Seconds()
}

// Acquire increments owner's integer state until the returned func is called.
func (s StateTimeStat) Acquire(owner any) (release func()) {
	return s.Timer(owner).Acquire()
}
