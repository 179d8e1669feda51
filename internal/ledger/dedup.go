package ledger

import (
	"sync"
	"time"

	"github.com/voxgames/voxbank/internal/platform/errors"
)

// opWindow tracks operation tokens so transport-layer retries never
// double-apply a mutation. A token is pending from claim until its
// mutation settles: commit marks it applied, release forgets it after a
// failure. A retry arriving while the first attempt is still in flight
// waits for that outcome, so DuplicateOperation always means the
// mutation really applied. Applied tokens are remembered in a window
// bounded both by entry count and by age.
type opWindow struct {
	mu      sync.Mutex
	settled *sync.Cond
	tokens  map[string]*tokenState
	limit   int
	ttl     time.Duration
	clock   func() time.Time
}

type tokenState struct {
	applied bool
	// at is the settle time, used to expire applied tokens. Zero while
	// the token is pending.
	at time.Time
}

func newOpWindow(limit int, ttl time.Duration, clock func() time.Time) *opWindow {
	w := &opWindow{
		tokens: make(map[string]*tokenState),
		limit:  limit,
		ttl:    ttl,
		clock:  clock,
	}
	w.settled = sync.NewCond(&w.mu)
	return w
}

// claim registers the token as pending, failing with DuplicateOperation
// when it was already applied within the window. When another attempt
// with the same token is still in flight, claim blocks until that
// attempt settles: a commit turns this claim into a duplicate, a
// release lets it proceed. An empty token is never deduplicated.
func (w *opWindow) claim(token string) error {
	if token == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		w.prune(w.clock())
		state, ok := w.tokens[token]
		if !ok {
			w.tokens[token] = &tokenState{}
			return nil
		}
		if state.applied {
			return errors.WithMetadata(errors.CodeDuplicateOperation,
				"operation token already applied",
				map[string]string{"token": token})
		}
		w.settled.Wait()
	}
}

// commit marks a claimed token as applied once its mutation succeeded.
func (w *opWindow) commit(token string) {
	if token == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if state, ok := w.tokens[token]; ok {
		state.applied = true
		state.at = w.clock()
	}
	w.settled.Broadcast()
}

// release forgets a claimed token after its mutation failed, so a caller
// may legitimately retry the same token.
func (w *opWindow) release(token string) {
	if token == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.tokens, token)
	w.settled.Broadcast()
}

// prune drops expired applied tokens and, when over the count bound, the
// oldest applied entries. Pending tokens are never evicted; their
// attempt is still in flight. Callers must hold w.mu.
func (w *opWindow) prune(now time.Time) {
	cutoff := now.Add(-w.ttl)
	applied := 0
	for token, state := range w.tokens {
		if !state.applied {
			continue
		}
		if state.at.Before(cutoff) {
			delete(w.tokens, token)
			continue
		}
		applied++
	}
	for applied >= w.limit {
		oldestToken := ""
		var oldestAt time.Time
		for token, state := range w.tokens {
			if !state.applied {
				continue
			}
			if oldestToken == "" || state.at.Before(oldestAt) {
				oldestToken = token
				oldestAt = state.at
			}
		}
		delete(w.tokens, oldestToken)
		applied--
	}
}
