// Package throttle tracks per-conversation run start times so bursts
// of messages on one conversation cannot exhaust model quota.
package throttle

import (
	"sync"
	"time"
)

// Ledger records when a run last started for each conversation key.
type Ledger struct {
	mu      sync.Mutex
	started map[string]time.Time
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{started: make(map[string]time.Time)}
}

// Begin checks whether a run may start for key at now, given the
// minimum interval between runs. On acceptance it records now as the
// key's start time before returning, so a concurrent Begin on the same
// key observes the updated entry. The check and the update happen under
// one lock; two near-simultaneous runs cannot both pass.
func (l *Ledger) Begin(key string, now time.Time, minInterval time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.started[key]; ok && now.Sub(last) < minInterval {
		return false
	}
	l.started[key] = now
	return true
}

// Last returns the recorded start time for key, if any.
func (l *Ledger) Last(key string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.started[key]
	return t, ok
}
