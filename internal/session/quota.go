package session

import (
	"fmt"
	"sync"
	"time"
)

// SpinQuota rate-limits slots spins per (chat, user) over a rolling
// window.
type SpinQuota struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	clock     func() time.Time
	spins     map[string][]time.Time
	lastSweep time.Time
}

// NewSpinQuota builds a quota of limit spins per window. A nil clock
// defaults to time.Now.
func NewSpinQuota(limit int, window time.Duration, clock func() time.Time) *SpinQuota {
	if clock == nil {
		clock = time.Now
	}
	return &SpinQuota{
		limit:  limit,
		window: window,
		clock:  clock,
		spins:  make(map[string][]time.Time),
	}
}

// Allow reports whether the pair has quota left and, if so, records the
// spin.
func (q *SpinQuota) Allow(chatID, user string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := fmt.Sprintf("%s/%s", chatID, user)
	now := q.clock()
	q.sweep(now)
	cutoff := now.Add(-q.window)

	recent := q.spins[key][:0]
	for _, at := range q.spins[key] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	if len(recent) >= q.limit {
		q.spins[key] = recent
		return false
	}
	q.spins[key] = append(recent, now)
	return true
}

// sweep drops pairs whose spins have all aged out of the window, at
// most once per window. Without it a pair that never spins again would
// pin its entry forever. Callers hold q.mu.
func (q *SpinQuota) sweep(now time.Time) {
	if now.Sub(q.lastSweep) < q.window {
		return
	}
	q.lastSweep = now
	cutoff := now.Add(-q.window)
	for key, spins := range q.spins {
		live := false
		for _, at := range spins {
			if at.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(q.spins, key)
		}
	}
}

// Remaining reports how many spins the pair has left in the current
// window.
func (q *SpinQuota) Remaining(chatID, user string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := fmt.Sprintf("%s/%s", chatID, user)
	cutoff := q.clock().Add(-q.window)
	used := 0
	for _, at := range q.spins[key] {
		if at.After(cutoff) {
			used++
		}
	}
	if used > q.limit {
		used = q.limit
	}
	return q.limit - used
}
