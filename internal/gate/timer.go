package gate

import (
	"sync"
	"time"
)

// Timer is a single armed expiry, identified by Key.
type Timer struct {
	Key      string
	RunID    string
	RitualID string
	Due      time.Time
}

// Wheel is an in-memory timer wheel keyed by timerId. Scheduling the same
// key twice keeps a single timer (the most recent call's due time replaces
// the earlier one); cancellation is O(1).
// A restart loses all armed timers, which is why the Gate re-arms
// still-Pending gates from the event log on startup rather than relying on
// the wheel to survive a process restart.
type Wheel struct {
	mu        sync.Mutex
	timers    map[string]Timer
	cancelled int64
}

// NewWheel constructs an empty timer wheel.
func NewWheel() *Wheel {
	return &Wheel{timers: make(map[string]Timer)}
}

// ScheduleWithKey arms (or re-arms) the timer for key, due at due.
func (w *Wheel) ScheduleWithKey(key, runID, ritualID string, due time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timers[key] = Timer{Key: key, RunID: runID, RitualID: ritualID, Due: due}
}

// CancelByKey disarms the timer for key, if any. Safe to call on a key that
// was never scheduled or has already fired.
func (w *Wheel) CancelByKey(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.timers[key]; ok {
		delete(w.timers, key)
		w.cancelled++
	}
}

// Tick advances the wheel to now, returning every timer whose Due has
// passed and removing them from the wheel.
func (w *Wheel) Tick(now time.Time) []Timer {
	w.mu.Lock()
	defer w.mu.Unlock()
	var fired []Timer
	for key, t := range w.timers {
		if !t.Due.After(now) {
			fired = append(fired, t)
			delete(w.timers, key)
		}
	}
	return fired
}

// CancelCount reports how many CancelByKey calls disarmed a live timer,
// for tests asserting cancellation actually happened.
func (w *Wheel) CancelCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled
}
