// Package schedule holds the per-session question timers.
//
// Every key owns at most one slot. A slot is Idle (absent), Armed while a
// question countdown runs, or Concluding once a trigger has claimed the
// question and the post-result pause is pending. Take is the only way from
// Armed to Concluding, so a question is concluded at most once no matter
// how many triggers race for it.
package schedule

import (
	"sync"
	"time"
)

// Timer is a cancellable delayed task.
type Timer interface {
	Stop() bool
}

// Clock schedules delayed tasks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock is backed by time.AfterFunc.
func RealClock() Clock {
	return realClock{}
}

type State int

const (
	Idle State = iota
	Armed
	Concluding
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Concluding:
		return "concluding"
	default:
		return "idle"
	}
}

type slot struct {
	state State
	round int
	gen   uint64
	task  Timer
}

// Table owns one slot per key.
type Table struct {
	clock Clock

	mu    sync.Mutex
	seq   uint64
	slots map[string]*slot
}

func NewTable(clock Clock) *Table {
	if clock == nil {
		clock = RealClock()
	}
	return &Table{clock: clock, slots: make(map[string]*slot)}
}

// Arm opens round for key and calls fire(round) after d. Any task still
// pending for key is cancelled first.
func (t *Table) Arm(key string, round int, d time.Duration, fire func(round int)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.slots[key]; ok && s.task != nil {
		s.task.Stop()
	}
	t.seq++
	s := &slot{state: Armed, round: round, gen: t.seq}
	t.slots[key] = s
	s.task = t.clock.AfterFunc(d, func() { fire(round) })
}

// Take moves key from Armed(round) to Concluding and stops the countdown.
// It reports false when the round is not armed, which callers treat as
// "already handled".
func (t *Table) Take(key string, round int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[key]
	if !ok || s.state != Armed || s.round != round {
		return false
	}
	if s.task != nil {
		s.task.Stop()
		s.task = nil
	}
	s.state = Concluding
	return true
}

// Defer schedules fn after d while key is still concluding round. The
// continuation is dropped if the slot was released or re-armed meanwhile.
func (t *Table) Defer(key string, round int, d time.Duration, fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[key]
	if !ok || s.state != Concluding || s.round != round {
		return false
	}
	gen := s.gen
	s.task = t.clock.AfterFunc(d, func() {
		if !t.current(key, gen, Concluding) {
			return
		}
		fn()
	})
	return true
}

// Release cancels anything pending for key and returns it to Idle.
func (t *Table) Release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.slots[key]; ok {
		if s.task != nil {
			s.task.Stop()
		}
		delete(t.slots, key)
	}
}

// State reports the slot state and round for key.
func (t *Table) State(key string) (State, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[key]
	if !ok {
		return Idle, -1
	}
	return s.state, s.round
}

// Len counts non-idle slots.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

func (t *Table) current(key string, gen uint64, state State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[key]
	return ok && s.gen == gen && s.state == state
}
