package game

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/voxgames/voxbank/internal/currency"
	"github.com/voxgames/voxbank/internal/ledger"
)

// CasinoVariant selects the casino game played in a round.
type CasinoVariant string

const (
	Slots    CasinoVariant = "slots"
	Dice     CasinoVariant = "dice"
	Roulette CasinoVariant = "roulette"
)

// MinStake is the minimum casino bet.
const MinStake = 50

// Casino round states.
const (
	CasinoAwaitingBet     = "awaiting_bet"
	CasinoAwaitingOutcome = "awaiting_outcome"
	CasinoResolved        = "resolved"
)

// Slots paylines. Three common symbols pay x8, two pay x2; the rare
// symbols pay x50 and x5. Common symbols are four times as likely.
var (
	slotsCommon = []string{"cherry", "lemon", "orange", "melon"}
	slotsRare   = []string{"diamond", "crown"}
)

type slotsPayout struct {
	triple int64
	pair   int64
}

var slotsPayouts = map[string]slotsPayout{
	"cherry": {8, 2}, "lemon": {8, 2}, "orange": {8, 2}, "melon": {8, 2},
	"diamond": {50, 5}, "crown": {50, 5},
}

type casinoBet struct {
	stake  int64
	number int // roulette pick
}

type casinoOutcome struct {
	multiplier int64
	detail     string
}

// Casino is a single-round betting game: players place bets, the round
// owner spins, outcomes are sampled from the injected random source and
// the round resolves. Always terminal after one spin.
type Casino struct {
	variant  CasinoVariant
	owner    string
	currency currency.ID
	state    string
	rng      *rand.Rand

	order    []string // bettors in bet order
	bets     map[string]casinoBet
	outcomes map[string]casinoOutcome
}

// NewCasino opens a round of the given variant. The random source is
// injected so outcomes can be deterministic under test.
func NewCasino(owner string, variant CasinoVariant, cur currency.ID, rng *rand.Rand) (*Casino, error) {
	switch variant {
	case Slots, Dice, Roulette:
	default:
		return nil, invalidAction("unknown casino variant %q", variant)
	}
	if rng == nil {
		return nil, fmt.Errorf("casino requires a random source")
	}
	return &Casino{
		variant:  variant,
		owner:    owner,
		currency: cur,
		state:    CasinoAwaitingBet,
		rng:      rng,
		bets:     make(map[string]casinoBet),
		outcomes: make(map[string]casinoOutcome),
	}, nil
}

// Type implements Machine.
func (c *Casino) Type() Type { return TypeCasino }

// Variant returns the casino sub-variant of this round.
func (c *Casino) Variant() CasinoVariant { return c.variant }

// Terminal implements Machine.
func (c *Casino) Terminal() bool { return c.state == CasinoResolved }

// Participants implements Machine.
func (c *Casino) Participants() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Escrow implements Machine.
func (c *Casino) Escrow() []Stake {
	if c.state == CasinoResolved {
		return nil
	}
	stakes := make([]Stake, 0, len(c.order))
	for _, user := range c.order {
		stakes = append(stakes, Stake{
			Account: ledger.AccountKey{UserID: user, Currency: c.currency},
			Amount:  c.bets[user].stake,
		})
	}
	return stakes
}

func (c *Casino) clone() *Casino {
	next := *c
	next.order = append([]string(nil), c.order...)
	next.bets = make(map[string]casinoBet, len(c.bets))
	for k, v := range c.bets {
		next.bets[k] = v
	}
	next.outcomes = make(map[string]casinoOutcome, len(c.outcomes))
	for k, v := range c.outcomes {
		next.outcomes[k] = v
	}
	return &next
}

// Apply implements Machine.
func (c *Casino) Apply(action Action) (Machine, []ledger.Op, error) {
	switch action.Kind {
	case ActionBet:
		return c.applyBet(action)
	case ActionSpin:
		return c.applySpin(action)
	default:
		return nil, nil, invalidAction("casino does not accept %q", action.Kind)
	}
}

func (c *Casino) applyBet(action Action) (Machine, []ledger.Op, error) {
	if c.state != CasinoAwaitingBet {
		return nil, nil, invalidAction("betting is closed")
	}
	if action.Stake < MinStake {
		return nil, nil, invalidAction("minimum stake is %d, got %d", MinStake, action.Stake)
	}
	if _, dup := c.bets[action.Actor]; dup {
		return nil, nil, invalidAction("player %s already placed a bet", action.Actor)
	}
	if c.variant == Roulette && (action.Number < 0 || action.Number > 36) {
		return nil, nil, invalidAction("roulette number must be between 0 and 36, got %d", action.Number)
	}

	next := c.clone()
	next.order = append(next.order, action.Actor)
	next.bets[action.Actor] = casinoBet{stake: action.Stake, number: action.Number}

	effects := []ledger.Op{
		ledger.DebitOp(ledger.AccountKey{UserID: action.Actor, Currency: c.currency}, action.Stake),
	}
	return next, effects, nil
}

func (c *Casino) applySpin(action Action) (Machine, []ledger.Op, error) {
	if c.state != CasinoAwaitingBet {
		return nil, nil, invalidAction("round already resolved")
	}
	if action.Actor != c.owner {
		return nil, nil, invalidAction("only the round owner may spin")
	}
	if len(c.order) == 0 {
		return nil, nil, invalidAction("no bets placed")
	}

	next := c.clone()
	next.state = CasinoAwaitingOutcome

	var effects []ledger.Op
	for _, user := range next.order {
		bet := next.bets[user]
		outcome := next.sample(bet)
		next.outcomes[user] = outcome
		if outcome.multiplier > 0 {
			effects = append(effects, ledger.CreditOp(
				ledger.AccountKey{UserID: user, Currency: next.currency},
				bet.stake*outcome.multiplier,
			))
		}
	}

	next.state = CasinoResolved
	return next, effects, nil
}

// sample draws one outcome for a bet from the round's random source.
func (c *Casino) sample(bet casinoBet) casinoOutcome {
	switch c.variant {
	case Slots:
		return c.sampleSlots()
	case Dice:
		roll := 1 + c.rng.Intn(6)
		mult := int64(0)
		if roll == 1 || roll == 6 {
			mult = 3
		}
		return casinoOutcome{multiplier: mult, detail: fmt.Sprintf("rolled %d", roll)}
	case Roulette:
		result := c.rng.Intn(37)
		switch {
		case result == bet.number:
			return casinoOutcome{multiplier: 35, detail: fmt.Sprintf("landed %d, exact hit", result)}
		case result%2 == bet.number%2:
			return casinoOutcome{multiplier: 2, detail: fmt.Sprintf("landed %d, parity match", result)}
		default:
			return casinoOutcome{multiplier: 0, detail: fmt.Sprintf("landed %d", result)}
		}
	}
	return casinoOutcome{}
}

func (c *Casino) sampleSlots() casinoOutcome {
	// Common symbols are weighted 4:1 against rare ones.
	pool := make([]string, 0, len(slotsCommon)*4+len(slotsRare))
	for i := 0; i < 4; i++ {
		pool = append(pool, slotsCommon...)
	}
	pool = append(pool, slotsRare...)

	reels := make([]string, 3)
	counts := make(map[string]int)
	for i := range reels {
		reels[i] = pool[c.rng.Intn(len(pool))]
		counts[reels[i]]++
	}

	mult := int64(0)
	symbols := make([]string, 0, len(counts))
	for sym := range counts {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		if counts[sym] >= 2 {
			payout := slotsPayouts[sym]
			if counts[sym] == 3 {
				mult = payout.triple
			} else {
				mult = payout.pair
			}
			break
		}
	}
	return casinoOutcome{multiplier: mult, detail: strings.Join(reels, " | ")}
}

// View implements Machine.
func (c *Casino) View() View {
	info := map[string]string{
		"variant": string(c.variant),
		"owner":   c.owner,
	}
	for user, bet := range c.bets {
		info["bet:"+user] = fmt.Sprintf("%d", bet.stake)
	}
	for user, outcome := range c.outcomes {
		info["outcome:"+user] = fmt.Sprintf("x%d (%s)", outcome.multiplier, outcome.detail)
	}
	return View{
		Game:         TypeCasino,
		State:        c.state,
		Participants: c.Participants(),
		Terminal:     c.Terminal(),
		Info:         info,
	}
}
