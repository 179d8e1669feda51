// Package session hosts the game session registry and the coordinator
// that drives machines against the ledger.
//
// Exclusivity is session-granular: at most one session per (chat, game
// type), and one action applies at a time within a session while distinct
// sessions proceed in parallel. Callers pass the revision they last saw;
// a mismatch is rejected without holding any lock across transport.
package session

import (
	"sync"
	"time"

	"github.com/voxgames/voxbank/internal/game"
)

// Key addresses the single session slot for a game type within a chat.
type Key struct {
	ChatID string    `json:"chat_id"`
	Game   game.Type `json:"game"`
}

// Session is one live game occupying a registry slot. The machine is
// replaced wholesale on every accepted transition; Revision counts those
// replacements and backs the optimistic concurrency check.
type Session struct {
	mu sync.Mutex

	Key        Key
	ID         string
	Machine    game.Machine
	Revision   uint64
	LastActive time.Time

	// released marks a session that no longer owns its registry slot
	// (terminal, failed or abandoned). Guarded by mu.
	released bool
}

// View is the transport-facing summary of a session after an applied
// action.
type View struct {
	Key      Key       `json:"key"`
	ID       string    `json:"id"`
	Revision uint64    `json:"revision"`
	Game     game.View `json:"game"`
}

func (s *Session) view() View {
	return View{
		Key:      s.Key,
		ID:       s.ID,
		Revision: s.Revision,
		Game:     s.Machine.View(),
	}
}
