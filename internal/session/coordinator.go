package session

import (
	"log"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/voxgames/voxbank/internal/currency"
	"github.com/voxgames/voxbank/internal/game"
	"github.com/voxgames/voxbank/internal/ledger"
	"github.com/voxgames/voxbank/internal/platform/errors"
	"github.com/voxgames/voxbank/internal/random"
)

// Slots spin quota: spins per rolling window per (chat, user).
const (
	SpinLimit  = 5
	SpinWindow = 6 * time.Hour
)

// Coordinator drives game machines against the ledger. Machines stay
// pure: the coordinator applies the effects each transition returns and
// commits the successor machine only when the whole batch lands.
type Coordinator struct {
	registry *Registry
	ledger   *ledger.Store
	policy   *currency.Policy
	roster   *currency.Roster
	quota    *SpinQuota
	clock    func() time.Time
	seed     func() (int64, error)
	logger   *log.Logger
}

// Config carries the coordinator's dependencies. Ledger, Policy and
// Roster are required; the rest default.
type Config struct {
	Ledger *ledger.Store
	Policy *currency.Policy
	Roster *currency.Roster

	Clock  func() time.Time
	Seed   func() (int64, error)
	Logger *log.Logger
}

// NewCoordinator wires a coordinator from cfg.
func NewCoordinator(cfg Config) *Coordinator {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	seed := cfg.Seed
	if seed == nil {
		seed = random.NewSeed
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		registry: NewRegistry(clock),
		ledger:   cfg.Ledger,
		policy:   cfg.Policy,
		roster:   cfg.Roster,
		quota:    NewSpinQuota(SpinLimit, SpinWindow, clock),
		clock:    clock,
		seed:     seed,
		logger:   logger,
	}
}

// Registry exposes the coordinator's session registry.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Submit routes one player action into the session for (chat, gameType).
// ActionStart acquires the slot and builds the machine; every other kind
// requires the caller's last-seen revision to match.
func (c *Coordinator) Submit(chatID string, gameType game.Type, action game.Action, knownRevision uint64) (View, error) {
	if !game.KnownType(gameType) {
		return View{}, errors.WithMetadata(errors.CodeInvalidAction,
			"unknown game type", map[string]string{"game": string(gameType)})
	}
	key := Key{ChatID: chatID, Game: gameType}

	if action.Kind == game.ActionStart {
		machine, err := c.buildMachine(gameType, action)
		if err != nil {
			return View{}, err
		}
		s, err := c.registry.Acquire(key, machine)
		if err != nil {
			return View{}, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.view(), nil
	}

	s, err := c.registry.Get(key)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return View{}, errors.WithMetadata(errors.CodeSessionNotFound,
			"session already resolved",
			map[string]string{"session_id": s.ID})
	}
	if s.Revision != knownRevision {
		return View{}, errors.WithMetadata(errors.CodeStaleRevision,
			"session advanced since last read",
			map[string]string{
				"session_id": s.ID,
				"known":      strconv.FormatUint(knownRevision, 10),
				"current":    strconv.FormatUint(s.Revision, 10),
			})
	}

	next, ops, err := s.Machine.Apply(action)
	if err != nil {
		return View{}, err
	}

	if action.Kind == game.ActionSpin && isSlots(s.Machine) {
		if !c.quota.Allow(chatID, action.Actor) {
			return View{}, errors.WithMetadata(errors.CodeInvalidAction,
				"slots spin quota exhausted",
				map[string]string{"chat_id": chatID, "actor": action.Actor})
		}
	}

	if len(ops) > 0 {
		if err := c.ledger.ApplyBatch(ops, ledger.NewOpToken()); err != nil {
			if next.Terminal() {
				return View{}, c.failSession(s, err)
			}
			// Non-terminal batch failure leaves the previous machine
			// authoritative; the caller may retry after fixing funds.
			return View{}, err
		}
	}

	s.Machine = next
	s.Revision++
	s.LastActive = c.clock()
	view := s.view()

	if next.Terminal() {
		s.released = true
		c.registry.releaseIf(s.Key, s)
	}
	return view, nil
}

// failSession resolves a session whose terminal payout could not be
// applied: outstanding escrow is refunded, the slot is released and the
// caller sees SESSION_FAILED.
func (c *Coordinator) failSession(s *Session, cause error) error {
	refund := game.RefundOps(s.Machine)
	if len(refund) > 0 {
		if err := c.ledger.ApplyBatch(refund, ledger.NewOpToken()); err != nil {
			c.logger.Printf("session %s: escrow refund failed: %v", s.ID, err)
		}
	}
	s.released = true
	c.registry.releaseIf(s.Key, s)
	return errors.Wrap(errors.CodeSessionFailed, "session could not settle and was refunded", cause)
}

func (c *Coordinator) buildMachine(gameType game.Type, action game.Action) (game.Machine, error) {
	switch gameType {
	case game.TypeCasino:
		seed, err := c.seed()
		if err != nil {
			return nil, errors.Wrap(errors.CodeUnknown, "seed rng", err)
		}
		return game.NewCasino(action.Actor, game.CasinoVariant(action.Variant),
			currency.Voxcoin, rand.New(rand.NewSource(seed)))
	case game.TypeUNO:
		seed, err := c.seed()
		if err != nil {
			return nil, errors.Wrap(errors.CodeUnknown, "seed rng", err)
		}
		return game.NewUNO(action.Actor, action.Stake,
			currency.Voxcoin, rand.New(rand.NewSource(seed)))
	case game.TypeStory:
		return game.NewStory(action.Actor), nil
	}
	return nil, errors.New(errors.CodeInvalidAction, "unknown game type")
}

func isSlots(m game.Machine) bool {
	casino, ok := m.(*game.Casino)
	return ok && casino.Variant() == game.Slots
}

// Balance reads a user's balance after validating the currency.
func (c *Coordinator) Balance(user string, cur currency.ID) (int64, error) {
	if _, err := c.policy.Get(cur); err != nil {
		return 0, err
	}
	return c.ledger.Balance(ledger.AccountKey{UserID: user, Currency: cur}), nil
}

// Transfer moves amount between users, subject to currency policy. An
// empty token gets a fresh one; callers supply their own for idempotent
// retries.
func (c *Coordinator) Transfer(from, to string, cur currency.ID, amount int64, token string) error {
	ok, err := c.policy.CanTransfer(cur)
	if err != nil {
		return err
	}
	if !ok {
		return errors.WithMetadata(errors.CodeTransferDisallowed,
			"currency cannot be transferred between users",
			map[string]string{"currency": string(cur)})
	}
	if token == "" {
		token = uuid.NewString()
	}
	return c.ledger.Transfer(
		ledger.AccountKey{UserID: from, Currency: cur},
		ledger.AccountKey{UserID: to, Currency: cur},
		amount, token)
}

// AdminGrant adjusts a target's balance by a privileged actor. Negative
// amounts deduct and clamp at zero.
func (c *Coordinator) AdminGrant(cur currency.ID, actor, target string, amount int64) (int64, error) {
	ok, err := c.policy.CanAdminGrant(cur, c.roster, actor)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.WithMetadata(errors.CodeGrantDisallowed,
			"actor may not grant this currency",
			map[string]string{"currency": string(cur), "actor": actor})
	}
	key := ledger.AccountKey{UserID: target, Currency: cur}
	switch {
	case amount > 0:
		if err := c.ledger.Credit(key, amount, uuid.NewString()); err != nil {
			return 0, err
		}
	case amount < 0:
		if _, err := c.ledger.DeductUpTo(key, -amount, uuid.NewString()); err != nil {
			return 0, err
		}
	default:
		return 0, errors.New(errors.CodeInvalidAmount, "grant amount cannot be zero")
	}
	return c.ledger.Balance(key), nil
}

// CreditOnActivity rewards chat activity: every earnable currency whose
// policy matches the message length gets its earn amount credited.
func (c *Coordinator) CreditOnActivity(user string, messageLength int) (int64, error) {
	var total int64
	for _, cur := range c.policy.IDs() {
		rate, err := c.policy.EarnRate(cur, messageLength)
		if err != nil {
			return total, err
		}
		if rate == 0 {
			continue
		}
		key := ledger.AccountKey{UserID: user, Currency: cur}
		if err := c.ledger.Credit(key, rate, uuid.NewString()); err != nil {
			return total, err
		}
		total += rate
	}
	return total, nil
}

// TopBalances lists the n largest holders of a currency.
func (c *Coordinator) TopBalances(cur currency.ID, n int) ([]ledger.Entry, error) {
	if _, err := c.policy.Get(cur); err != nil {
		return nil, err
	}
	return c.ledger.TopBalances(cur, n), nil
}

// ClaimAdminCode promotes the actor when code matches the current secret
// and returns the rotated code.
func (c *Coordinator) ClaimAdminCode(actor, code string) (string, error) {
	return c.roster.Claim(actor, code)
}

// EscrowEntry is one journaled hold against a live session, persisted so
// a restart can refund it.
type EscrowEntry struct {
	ChatID    string
	Game      game.Type
	SessionID string
	UserID    string
	Currency  currency.ID
	Amount    int64
}

// EscrowJournal collects every outstanding hold across live sessions.
func (c *Coordinator) EscrowJournal() []EscrowEntry {
	var entries []EscrowEntry
	for _, s := range c.registry.Live() {
		s.mu.Lock()
		entries = append(entries, escrowEntries(s)...)
		s.mu.Unlock()
	}
	return entries
}

// SnapshotState captures account balances and the escrow journal as a
// single consistent view. Every live session is held for the duration
// of the capture, so no game effect can land between the two reads: a
// hold in the journal always has its matching debit in the balances.
// Session mutations only ever hold one session lock at a time, so the
// scan here is the sole multi-lock holder and cannot deadlock against
// them.
func (c *Coordinator) SnapshotState() ([]ledger.Entry, []EscrowEntry) {
	sessions := c.registry.Live()
	sort.Slice(sessions, func(i, j int) bool {
		a, b := sessions[i].Key, sessions[j].Key
		if a.ChatID != b.ChatID {
			return a.ChatID < b.ChatID
		}
		return a.Game < b.Game
	})
	for _, s := range sessions {
		s.mu.Lock()
	}
	defer func() {
		for _, s := range sessions {
			s.mu.Unlock()
		}
	}()

	balances := c.ledger.Snapshot()
	var journal []EscrowEntry
	for _, s := range sessions {
		journal = append(journal, escrowEntries(s)...)
	}
	return balances, journal
}

// escrowEntries reads the session's outstanding holds. Callers hold s.mu.
func escrowEntries(s *Session) []EscrowEntry {
	var entries []EscrowEntry
	for _, stake := range s.Machine.Escrow() {
		entries = append(entries, EscrowEntry{
			ChatID:    s.Key.ChatID,
			Game:      s.Key.Game,
			SessionID: s.ID,
			UserID:    stake.Account.UserID,
			Currency:  stake.Account.Currency,
			Amount:    stake.Amount,
		})
	}
	return entries
}
