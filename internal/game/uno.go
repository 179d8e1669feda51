package game

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/voxgames/voxbank/internal/currency"
	"github.com/voxgames/voxbank/internal/ledger"
)

// UNO match states.
const (
	UNOLobby      = "lobby"
	UNOInProgress = "in_progress"
	UNOFinished   = "finished"
)

// MinUNOPlayers is the minimum lobby size to begin a match.
const MinUNOPlayers = 2

// Card colors and special values.
var unoColors = []string{"red", "green", "blue", "yellow"}

const (
	cardSkip     = "skip"
	cardReverse  = "reverse"
	cardDrawTwo  = "draw2"
	cardWild     = "wild"
	cardWildFour = "wild4"
	wildColor    = "wild"
)

// Card is a single UNO card. Wild cards carry the color "wild".
type Card struct {
	Color string `json:"color"`
	Value string `json:"value"`
}

func (c Card) String() string {
	return c.Color + " " + c.Value
}

func (c Card) isWild() bool {
	return c.Color == wildColor
}

// UNO is a turn-based match over a fixed player rotation. The rotation is
// frozen when the lobby closes; no mid-match joins. An optional per-player
// wager is escrowed at lobby close and pooled to the winner.
type UNO struct {
	state    string
	owner    string
	wager    int64 // per-player stake, 0 disables the wager variant
	currency currency.ID
	rng      *rand.Rand

	players     []string
	hands       map[string][]Card
	deck        []Card
	pile        []Card
	current     int
	direction   int
	activeColor string
	winner      string
}

// NewUNO opens a lobby. The owner joins immediately. A positive wager
// enables the wager variant.
func NewUNO(owner string, wager int64, cur currency.ID, rng *rand.Rand) (*UNO, error) {
	if wager < 0 {
		return nil, invalidAction("wager cannot be negative, got %d", wager)
	}
	if rng == nil {
		return nil, fmt.Errorf("uno requires a random source")
	}
	return &UNO{
		state:     UNOLobby,
		owner:     owner,
		wager:     wager,
		currency:  cur,
		rng:       rng,
		players:   []string{owner},
		hands:     make(map[string][]Card),
		direction: 1,
	}, nil
}

// Type implements Machine.
func (u *UNO) Type() Type { return TypeUNO }

// Terminal implements Machine.
func (u *UNO) Terminal() bool { return u.state == UNOFinished }

// Participants implements Machine.
func (u *UNO) Participants() []string {
	out := make([]string, len(u.players))
	copy(out, u.players)
	return out
}

// Escrow implements Machine.
func (u *UNO) Escrow() []Stake {
	if u.wager == 0 || u.state == UNOLobby || u.state == UNOFinished {
		return nil
	}
	stakes := make([]Stake, 0, len(u.players))
	for _, user := range u.players {
		stakes = append(stakes, Stake{
			Account: ledger.AccountKey{UserID: user, Currency: u.currency},
			Amount:  u.wager,
		})
	}
	return stakes
}

// Winner returns the winning player id once the match is finished.
func (u *UNO) Winner() string { return u.winner }

func (u *UNO) clone() *UNO {
	next := *u
	next.players = append([]string(nil), u.players...)
	next.deck = append([]Card(nil), u.deck...)
	next.pile = append([]Card(nil), u.pile...)
	next.hands = make(map[string][]Card, len(u.hands))
	for user, hand := range u.hands {
		next.hands[user] = append([]Card(nil), hand...)
	}
	return &next
}

// Apply implements Machine.
func (u *UNO) Apply(action Action) (Machine, []ledger.Op, error) {
	switch action.Kind {
	case ActionJoin:
		return u.applyJoin(action)
	case ActionBegin:
		return u.applyBegin(action)
	case ActionPlay:
		return u.applyPlay(action)
	case ActionDraw:
		return u.applyDraw(action)
	default:
		return nil, nil, invalidAction("uno does not accept %q", action.Kind)
	}
}

func (u *UNO) applyJoin(action Action) (Machine, []ledger.Op, error) {
	if u.state != UNOLobby {
		return nil, nil, invalidAction("match already started")
	}
	for _, p := range u.players {
		if p == action.Actor {
			return nil, nil, invalidAction("player %s already joined", action.Actor)
		}
	}
	next := u.clone()
	next.players = append(next.players, action.Actor)
	return next, nil, nil
}

func (u *UNO) applyBegin(action Action) (Machine, []ledger.Op, error) {
	if u.state != UNOLobby {
		return nil, nil, invalidAction("match already started")
	}
	if !u.isPlayer(action.Actor) {
		return nil, nil, invalidAction("only a joined player may begin the match")
	}
	if len(u.players) < MinUNOPlayers {
		return nil, nil, invalidAction("need at least %d players, have %d", MinUNOPlayers, len(u.players))
	}

	next := u.clone()
	next.deck = next.buildDeck()
	for _, user := range next.players {
		hand := make([]Card, 0, 7)
		for i := 0; i < 7; i++ {
			hand = append(hand, next.popDeck())
		}
		next.hands[user] = hand
	}

	top := next.popDeck()
	next.pile = append(next.pile, top)
	if top.isWild() {
		next.activeColor = unoColors[next.rng.Intn(len(unoColors))]
	} else {
		next.activeColor = top.Color
	}
	next.state = UNOInProgress

	var effects []ledger.Op
	if next.wager > 0 {
		for _, user := range next.players {
			effects = append(effects, ledger.DebitOp(
				ledger.AccountKey{UserID: user, Currency: next.currency}, next.wager))
		}
	}
	return next, effects, nil
}

func (u *UNO) applyPlay(action Action) (Machine, []ledger.Op, error) {
	if u.state != UNOInProgress {
		return nil, nil, invalidAction("match is not in progress")
	}
	if u.players[u.current] != action.Actor {
		return nil, nil, notYourTurn(action.Actor)
	}

	card := action.Card
	if card.isWild() {
		if !validColor(action.Color) {
			return nil, nil, invalidAction("wild card needs a color: red, green, blue or yellow")
		}
	}

	hand := u.hands[action.Actor]
	idx := indexOfCard(hand, card)
	if idx < 0 {
		return nil, nil, invalidAction("you do not have %s", card)
	}

	top := u.pile[len(u.pile)-1]
	if !card.isWild() && card.Color != u.activeColor && card.Value != top.Value {
		return nil, nil, invalidAction("%s does not match color %s or value %s", card, u.activeColor, top.Value)
	}

	next := u.clone()
	nextHand := next.hands[action.Actor]
	next.hands[action.Actor] = append(nextHand[:idx], nextHand[idx+1:]...)
	next.pile = append(next.pile, card)
	if card.isWild() {
		next.activeColor = action.Color
	} else {
		next.activeColor = card.Color
	}

	switch card.Value {
	case cardSkip:
		next.advance()
		next.advance()
	case cardReverse:
		next.direction = -next.direction
		// With two players a reverse acts as a skip.
		if len(next.players) == 2 {
			next.advance()
		}
		next.advance()
	case cardDrawTwo:
		next.advance()
		next.dealToCurrent(2)
		next.advance()
	case cardWildFour:
		next.advance()
		next.dealToCurrent(4)
		next.advance()
	default:
		next.advance()
	}

	if len(next.hands[action.Actor]) == 0 {
		next.state = UNOFinished
		next.winner = action.Actor
		var effects []ledger.Op
		if next.wager > 0 {
			pool := next.wager * int64(len(next.players))
			effects = append(effects, ledger.CreditOp(
				ledger.AccountKey{UserID: action.Actor, Currency: next.currency}, pool))
		}
		return next, effects, nil
	}
	return next, nil, nil
}

func (u *UNO) applyDraw(action Action) (Machine, []ledger.Op, error) {
	if u.state != UNOInProgress {
		return nil, nil, invalidAction("match is not in progress")
	}
	if u.players[u.current] != action.Actor {
		return nil, nil, notYourTurn(action.Actor)
	}

	next := u.clone()
	next.dealToCurrent(1)
	next.advance()
	return next, nil, nil
}

func (u *UNO) isPlayer(user string) bool {
	for _, p := range u.players {
		if p == user {
			return true
		}
	}
	return false
}

// advance moves the turn pointer one step in the current direction.
func (u *UNO) advance() {
	n := len(u.players)
	u.current = ((u.current+u.direction)%n + n) % n
}

// dealToCurrent moves n cards from the deck to the current player's hand,
// recycling the discard pile (minus its top card) when the deck runs out.
func (u *UNO) dealToCurrent(n int) {
	user := u.players[u.current]
	for i := 0; i < n; i++ {
		card, ok := u.draw()
		if !ok {
			return
		}
		u.hands[user] = append(u.hands[user], card)
	}
}

func (u *UNO) draw() (Card, bool) {
	if len(u.deck) == 0 {
		u.recycle()
	}
	if len(u.deck) == 0 {
		return Card{}, false
	}
	return u.popDeck(), true
}

func (u *UNO) recycle() {
	if len(u.pile) <= 1 {
		return
	}
	top := u.pile[len(u.pile)-1]
	u.deck = u.pile[:len(u.pile)-1]
	u.pile = []Card{top}
	u.rng.Shuffle(len(u.deck), func(i, j int) {
		u.deck[i], u.deck[j] = u.deck[j], u.deck[i]
	})
}

func (u *UNO) popDeck() Card {
	card := u.deck[len(u.deck)-1]
	u.deck = u.deck[:len(u.deck)-1]
	return card
}

// buildDeck creates the standard 108-card deck, shuffled: per color one
// zero, two each of 1-9, two each of skip/reverse/draw2, plus four wilds
// and four wild-draw-fours.
func (u *UNO) buildDeck() []Card {
	deck := make([]Card, 0, 108)
	for _, color := range unoColors {
		deck = append(deck, Card{Color: color, Value: "0"})
		for n := 1; n <= 9; n++ {
			v := fmt.Sprintf("%d", n)
			deck = append(deck, Card{Color: color, Value: v}, Card{Color: color, Value: v})
		}
		for _, special := range []string{cardSkip, cardReverse, cardDrawTwo} {
			deck = append(deck, Card{Color: color, Value: special}, Card{Color: color, Value: special})
		}
	}
	for i := 0; i < 4; i++ {
		deck = append(deck, Card{Color: wildColor, Value: cardWild})
		deck = append(deck, Card{Color: wildColor, Value: cardWildFour})
	}
	u.rng.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	return deck
}

// Hand returns a copy of a player's current hand.
func (u *UNO) Hand(user string) []Card {
	return append([]Card(nil), u.hands[user]...)
}

func validColor(color string) bool {
	for _, c := range unoColors {
		if c == color {
			return true
		}
	}
	return false
}

func indexOfCard(hand []Card, card Card) int {
	for i, c := range hand {
		if c == card {
			return i
		}
	}
	return -1
}

// View implements Machine.
func (u *UNO) View() View {
	info := map[string]string{
		"owner": u.owner,
	}
	if u.wager > 0 {
		info["wager"] = fmt.Sprintf("%d", u.wager)
	}
	if u.state == UNOInProgress {
		info["current"] = u.players[u.current]
		info["color"] = u.activeColor
		info["top"] = u.pile[len(u.pile)-1].String()
		sizes := make([]string, 0, len(u.players))
		for _, user := range u.players {
			sizes = append(sizes, fmt.Sprintf("%s:%d", user, len(u.hands[user])))
		}
		info["hands"] = strings.Join(sizes, " ")
	}
	if u.winner != "" {
		info["winner"] = u.winner
	}
	return View{
		Game:         TypeUNO,
		State:        u.state,
		Participants: u.Participants(),
		Terminal:     u.Terminal(),
		Info:         info,
	}
}
