package game

import (
	"fmt"
	"strings"

	"github.com/voxgames/voxbank/internal/ledger"
)

// Story states.
const (
	StoryOpen   = "open"
	StoryClosed = "closed"
)

// maxContributionLen caps a single narration to keep rendered stories
// readable in chat.
const maxContributionLen = 500

// Story is a collaborative round-robin narration. Players join at any
// time before their first turn would come up; each contribution appends
// a fragment and passes the turn. The opener closes the story explicitly.
// Stories never touch the ledger.
type Story struct {
	state   string
	opener  string
	players []string
	parts   []string
	current int
}

// NewStory opens a story with the opener as the first narrator.
func NewStory(opener string) *Story {
	return &Story{
		state:   StoryOpen,
		opener:  opener,
		players: []string{opener},
	}
}

// Type implements Machine.
func (s *Story) Type() Type { return TypeStory }

// Terminal implements Machine.
func (s *Story) Terminal() bool { return s.state == StoryClosed }

// Participants implements Machine.
func (s *Story) Participants() []string {
	out := make([]string, len(s.players))
	copy(out, s.players)
	return out
}

// Escrow implements Machine.
func (s *Story) Escrow() []Stake { return nil }

// Text returns the story assembled from its contributions.
func (s *Story) Text() string {
	return strings.Join(s.parts, " ")
}

func (s *Story) clone() *Story {
	next := *s
	next.players = append([]string(nil), s.players...)
	next.parts = append([]string(nil), s.parts...)
	return &next
}

// Apply implements Machine.
func (s *Story) Apply(action Action) (Machine, []ledger.Op, error) {
	switch action.Kind {
	case ActionJoin:
		return s.applyJoin(action)
	case ActionNarrate:
		return s.applyNarrate(action)
	case ActionClose:
		return s.applyClose(action)
	default:
		return nil, nil, invalidAction("story does not accept %q", action.Kind)
	}
}

func (s *Story) applyJoin(action Action) (Machine, []ledger.Op, error) {
	if s.state != StoryOpen {
		return nil, nil, invalidAction("story is closed")
	}
	for _, p := range s.players {
		if p == action.Actor {
			return nil, nil, invalidAction("player %s already joined", action.Actor)
		}
	}
	next := s.clone()
	next.players = append(next.players, action.Actor)
	return next, nil, nil
}

func (s *Story) applyNarrate(action Action) (Machine, []ledger.Op, error) {
	if s.state != StoryOpen {
		return nil, nil, invalidAction("story is closed")
	}
	if s.players[s.current] != action.Actor {
		return nil, nil, notYourTurn(action.Actor)
	}
	text := strings.TrimSpace(action.Text)
	if text == "" {
		return nil, nil, invalidAction("contribution cannot be empty")
	}
	if len(text) > maxContributionLen {
		return nil, nil, invalidAction("contribution exceeds %d characters", maxContributionLen)
	}
	next := s.clone()
	next.parts = append(next.parts, text)
	next.current = (next.current + 1) % len(next.players)
	return next, nil, nil
}

func (s *Story) applyClose(action Action) (Machine, []ledger.Op, error) {
	if s.state != StoryOpen {
		return nil, nil, invalidAction("story is closed")
	}
	if action.Actor != s.opener {
		return nil, nil, invalidAction("only %s may close the story", s.opener)
	}
	next := s.clone()
	next.state = StoryClosed
	return next, nil, nil
}

// View implements Machine.
func (s *Story) View() View {
	info := map[string]string{
		"opener": s.opener,
		"parts":  fmt.Sprintf("%d", len(s.parts)),
	}
	if s.state == StoryOpen {
		info["current"] = s.players[s.current]
	}
	if len(s.parts) > 0 {
		info["story"] = s.Text()
	}
	return View{
		Game:         TypeStory,
		State:        s.state,
		Participants: s.Participants(),
		Terminal:     s.Terminal(),
		Info:         info,
	}
}
