// Package game implements the state machine family for the platform's
// mini-games: casino rounds, UNO matches and nonsense stories.
//
// Machines are pure: Apply never touches the ledger. It returns a new
// machine value plus the ledger operations the transition calls for, and
// the session coordinator decides whether to commit both. A rejected
// transition (or a failed ledger batch) simply discards the returned
// machine, leaving the previous state authoritative.
package game

import (
	"fmt"

	"github.com/voxgames/voxbank/internal/ledger"
	"github.com/voxgames/voxbank/internal/platform/errors"
)

// Type identifies a game variant family.
type Type string

const (
	TypeCasino Type = "casino"
	TypeUNO    Type = "uno"
	TypeStory  Type = "story"
)

// KnownType reports whether t names a playable game type.
func KnownType(t Type) bool {
	switch t {
	case TypeCasino, TypeUNO, TypeStory:
		return true
	}
	return false
}

// ActionKind names a player input.
type ActionKind string

const (
	ActionStart   ActionKind = "start"
	ActionJoin    ActionKind = "join"
	ActionBegin   ActionKind = "begin"
	ActionBet     ActionKind = "bet"
	ActionSpin    ActionKind = "spin"
	ActionPlay    ActionKind = "play"
	ActionDraw    ActionKind = "draw"
	ActionNarrate ActionKind = "narrate"
	ActionClose   ActionKind = "close"
)

// Action is an instantaneous player input. Fields beyond Actor and Kind
// are payload and only meaningful for some kinds.
type Action struct {
	Actor string
	Kind  ActionKind

	Stake   int64  // bet stake; per-player wager on uno start
	Number  int    // roulette pick (0-36)
	Variant string // casino sub-variant on start
	Card    Card   // uno card to play
	Color   string // chosen color for uno wild cards
	Text    string // story contribution
}

// Stake is an escrowed hold against a session's outcome.
type Stake struct {
	Account ledger.AccountKey
	Amount  int64
}

// View is a transport-friendly summary of a machine's state.
type View struct {
	Game         Type              `json:"game"`
	State        string            `json:"state"`
	Participants []string          `json:"participants"`
	Terminal     bool              `json:"terminal"`
	Info         map[string]string `json:"info,omitempty"`
}

// Machine is the shared contract across game variants.
type Machine interface {
	// Type identifies the variant family.
	Type() Type
	// Terminal reports whether no further actions are accepted.
	Terminal() bool
	// Participants lists joined player ids in join order.
	Participants() []string
	// Escrow lists the stakes currently held against this machine.
	Escrow() []Stake
	// Apply validates and advances state, returning the successor
	// machine and the ledger effects of the transition. The receiver
	// is never mutated.
	Apply(action Action) (Machine, []ledger.Op, error)
	// View summarizes the current state.
	View() View
}

// RefundOps converts a machine's outstanding escrow into the credits that
// return every hold to its owner. Used for abandoned and failed sessions.
func RefundOps(m Machine) []ledger.Op {
	stakes := m.Escrow()
	ops := make([]ledger.Op, 0, len(stakes))
	for _, s := range stakes {
		ops = append(ops, ledger.CreditOp(s.Account, s.Amount))
	}
	return ops
}

func invalidAction(format string, args ...any) error {
	return errors.New(errors.CodeInvalidAction, fmt.Sprintf(format, args...))
}

func notYourTurn(actor string) error {
	return errors.WithMetadata(errors.CodeNotYourTurn, "it is not your turn",
		map[string]string{"actor": actor})
}
